package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/underwriting"
)

// HealthChecker is anything whose connectivity the health endpoint
// should report on.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *underwriting.Service
	repo    HealthChecker
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *underwriting.Service, repo HealthChecker, cache domain.Cache, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		version: version,
	}
}

// RunRequest is the optional request body for POST .../run.
type RunRequest struct {
	Meta map[string]any `json:"meta,omitempty"`
}

// RerunRequest is the optional request body for POST .../rerun.
type RerunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RunUnderwriting handles POST /api/v1/underwriting/applications/{id}/run.
func (h *Handler) RunUnderwriting(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "id")
	if applicationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	var req RunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	run, err := h.svc.Run(r.Context(), applicationID, req.Meta)
	h.writeRunResult(w, run, err)
}

// RerunUnderwriting handles POST /api/v1/underwriting/applications/{id}/rerun.
func (h *Handler) RerunUnderwriting(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "id")
	if applicationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	var req RerunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	run, err := h.svc.Rerun(r.Context(), applicationID, req.Reason)
	h.writeRunResult(w, run, err)
}

// writeRunResult renders the outcome of a run request. A run that was
// created but did not complete is returned alongside the failure so
// callers can inspect it.
func (h *Handler) writeRunResult(w http.ResponseWriter, run *domain.Run, err error) {
	if err == nil {
		writeJSON(w, http.StatusCreated, run)
		return
	}

	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "application not found",
		})
		return
	}

	if run != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": err.Error(),
			"run":   run,
		})
		return
	}

	slog.Error("underwriting run failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "underwriting run failed",
	})
}

// GetRun handles GET /api/v1/underwriting/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	run, err := h.svc.GetRunWithResults(r.Context(), runID)
	if err != nil {
		h.writeError(w, err, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// GetLatestRun handles GET /api/v1/underwriting/applications/{id}/runs/latest.
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "id")
	if applicationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	run, err := h.svc.GetLatestRun(r.Context(), applicationID)
	if err != nil {
		h.writeError(w, err, "no runs for application")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /api/v1/underwriting/applications/{id}/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "id")
	if applicationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	runs, err := h.svc.ListRuns(r.Context(), applicationID)
	if err != nil {
		h.writeError(w, err, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetMatched handles GET /api/v1/underwriting/runs/{id}/matched.
func (h *Handler) GetMatched(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	matched, err := h.svc.GetMatched(r.Context(), runID)
	if err != nil {
		h.writeError(w, err, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"matched": matched,
		"count":   len(matched),
	})
}

// GetRejected handles GET /api/v1/underwriting/runs/{id}/rejected.
func (h *Handler) GetRejected(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	rejected, err := h.svc.GetRejected(r.Context(), runID)
	if err != nil {
		h.writeError(w, err, "run not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rejected": rejected,
		"count":    len(rejected),
	})
}

// GetRuleEvaluations handles GET /api/v1/underwriting/matches/{id}/evaluations.
func (h *Handler) GetRuleEvaluations(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	if matchID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "match result id is required",
		})
		return
	}

	evals, err := h.svc.GetRuleEvaluations(r.Context(), matchID)
	if err != nil {
		h.writeError(w, err, "match result not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": notFoundMsg,
		})
	case errors.Is(err, domain.ErrInvalidStatus):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
