// Package underwriting orchestrates matching runs: it owns the run
// state machine, catalog loading, matcher execution, and persistence
// of results.
package underwriting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/matcher"
)

// Service runs underwriting for applications and exposes read access
// to historical runs.
type Service struct {
	apps       domain.ApplicationStore
	catalog    domain.CatalogStore
	runs       domain.RunStore
	cache      domain.Cache
	bus        domain.EventBus
	matcher    *matcher.Matcher
	logger     *slog.Logger
	catalogTTL time.Duration
}

// Config holds the service's collaborators.
type Config struct {
	Applications domain.ApplicationStore
	Catalog      domain.CatalogStore
	Runs         domain.RunStore
	Cache        domain.Cache
	Bus          domain.EventBus
	Matcher      *matcher.Matcher
	Logger       *slog.Logger
	CatalogTTL   time.Duration
}

// New creates the underwriting service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CatalogTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		apps:       cfg.Applications,
		catalog:    cfg.Catalog,
		runs:       cfg.Runs,
		cache:      cfg.Cache,
		bus:        cfg.Bus,
		matcher:    cfg.Matcher,
		logger:     logger,
		catalogTTL: ttl,
	}
}

// Run executes a new underwriting run for the application. meta is
// optional caller context stamped onto the run row; nil is fine.
func (s *Service) Run(ctx context.Context, applicationID string, meta map[string]any) (*domain.Run, error) {
	return s.execute(ctx, applicationID, meta)
}

// Rerun executes a fresh run for an application that has already been
// underwritten. The run is marked as a rerun in its metadata; prior
// runs are never mutated.
func (s *Service) Rerun(ctx context.Context, applicationID, reason string) (*domain.Run, error) {
	meta := map[string]any{"rerun": true}
	if reason != "" {
		meta["reason"] = reason
	}
	return s.execute(ctx, applicationID, meta)
}

func (s *Service) execute(ctx context.Context, applicationID string, meta map[string]any) (*domain.Run, error) {
	// Load the application before creating any run row so an unknown
	// ID leaves no trace.
	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	run, err := s.runs.CreateRun(ctx, applicationID, meta)
	if err != nil {
		return nil, err
	}

	started := time.Now().UTC()
	if err := s.runs.UpdateRunStatus(ctx, run.ID, domain.RunInProgress, &started, nil, ""); err != nil {
		return nil, err
	}
	run.Status = domain.RunInProgress
	run.StartedAt = &started

	s.logger.Info("underwriting run started",
		"run_id", run.ID,
		"application_id", applicationID,
	)
	s.publish(ctx, domain.TopicRunStarted, run)

	if err := validateRelations(app); err != nil {
		return s.failRun(ctx, run, err)
	}

	if app.Status == domain.ApplicationSubmitted {
		if err := s.apps.UpdateApplicationStatus(ctx, applicationID, domain.ApplicationInUnderwriting); err != nil {
			return s.failRun(ctx, run, fmt.Errorf("promote application: %w", err))
		}
	}

	if ctx.Err() != nil {
		return s.cancelRun(ctx, run)
	}

	lenders, err := s.loadCatalog(ctx)
	if err != nil {
		return s.failRun(ctx, run, fmt.Errorf("load catalog: %w", err))
	}

	if ctx.Err() != nil {
		return s.cancelRun(ctx, run)
	}

	results := s.matcher.Match(ctx, app, lenders, time.Now().UTC())

	if ctx.Err() != nil {
		return s.cancelRun(ctx, run)
	}

	matches, evals := buildMatchRows(run.ID, results)
	if err := s.runs.SaveRunResults(ctx, run.ID, matches, evals); err != nil {
		return s.failRun(ctx, run, fmt.Errorf("persist run results: %w", err))
	}

	matched, rejected, programs := 0, 0, 0
	for _, r := range results {
		if r.Eligible {
			matched++
		} else {
			rejected++
		}
		programs += r.ProgramsEvaluated
	}
	if err := s.runs.UpdateRunSummary(ctx, run.ID, len(lenders), programs, matched, rejected); err != nil {
		return s.failRun(ctx, run, fmt.Errorf("persist run summary: %w", err))
	}

	completed := time.Now().UTC()
	if err := s.runs.UpdateRunStatus(ctx, run.ID, domain.RunCompleted, nil, &completed, ""); err != nil {
		return nil, err
	}

	run.Status = domain.RunCompleted
	run.CompletedAt = &completed
	run.LendersEvaluated = len(lenders)
	run.ProgramsEvaluated = programs
	run.MatchedCount = matched
	run.RejectedCount = rejected
	run.Matches = matches

	s.logger.Info("underwriting run completed",
		"run_id", run.ID,
		"application_id", applicationID,
		"lenders_evaluated", len(lenders),
		"matched", matched,
		"rejected", rejected,
		"duration_ms", completed.Sub(started).Milliseconds(),
	)

	s.publish(ctx, domain.TopicRunCompleted, run)
	return run, nil
}

// failRun marks the run Failed. The status write uses a detached
// context so a cancelled request cannot leave the run In Progress.
func (s *Service) failRun(ctx context.Context, run *domain.Run, cause error) (*domain.Run, error) {
	completed := time.Now().UTC()
	detached := context.WithoutCancel(ctx)

	if err := s.runs.UpdateRunStatus(detached, run.ID, domain.RunFailed, nil, &completed, cause.Error()); err != nil {
		s.logger.Error("failed to mark run failed", "run_id", run.ID, "error", err)
	}

	run.Status = domain.RunFailed
	run.CompletedAt = &completed
	run.ErrorMessage = cause.Error()

	s.logger.Error("underwriting run failed",
		"run_id", run.ID,
		"application_id", run.ApplicationID,
		"error", cause,
	)

	s.publish(detached, domain.TopicRunFailed, run)
	return run, cause
}

// cancelRun marks the run Cancelled after the caller's context expired.
func (s *Service) cancelRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	completed := time.Now().UTC()
	detached := context.WithoutCancel(ctx)

	if err := s.runs.UpdateRunStatus(detached, run.ID, domain.RunCancelled, nil, &completed, ""); err != nil {
		s.logger.Error("failed to mark run cancelled", "run_id", run.ID, "error", err)
	}

	run.Status = domain.RunCancelled
	run.CompletedAt = &completed

	s.logger.Warn("underwriting run cancelled",
		"run_id", run.ID,
		"application_id", run.ApplicationID,
	)

	s.publish(detached, domain.TopicRunCancelled, run)
	return run, ctx.Err()
}

// loadCatalog returns the active lender catalog, served from the cache
// snapshot when fresh.
func (s *Service) loadCatalog(ctx context.Context) ([]*domain.Lender, error) {
	if s.cache != nil {
		lenders, err := s.cache.GetCatalog(ctx)
		if err != nil {
			s.logger.Warn("catalog cache read failed", "error", err)
		} else if lenders != nil {
			return lenders, nil
		}
	}

	lenders, err := s.catalog.GetActiveLenders(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetCatalog(ctx, lenders, s.catalogTTL); err != nil {
			s.logger.Warn("catalog cache write failed", "error", err)
		}
	}

	return lenders, nil
}

func (s *Service) publish(ctx context.Context, topic string, run *domain.Run) {
	if s.bus == nil {
		return
	}

	event := domain.RunEvent{
		RunID:         run.ID,
		ApplicationID: run.ApplicationID,
		Status:        string(run.Status),
		MatchedCount:  run.MatchedCount,
		RejectedCount: run.RejectedCount,
		ErrorMessage:  run.ErrorMessage,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to encode run event", "run_id", run.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish run event", "topic", topic, "run_id", run.ID, "error", err)
	}
}

// validateRelations checks the nested entities matching requires.
func validateRelations(app *domain.Application) error {
	if app.Business == nil {
		return fmt.Errorf("%w: business", domain.ErrMissingRelation)
	}
	if app.Guarantor == nil {
		return fmt.Errorf("%w: guarantor", domain.ErrMissingRelation)
	}
	if app.Equipment == nil {
		return fmt.Errorf("%w: equipment", domain.ErrMissingRelation)
	}
	return nil
}

// buildMatchRows converts matcher verdicts into persistence rows. The
// second return groups evaluations by match index; the store stamps
// each evaluation's MatchResultID when the match rows get identifiers.
func buildMatchRows(runID string, results []*matcher.Result) ([]*domain.MatchResult, [][]*domain.RuleEvaluation) {
	matches := make([]*domain.MatchResult, 0, len(results))
	evals := make([][]*domain.RuleEvaluation, 0, len(results))

	for _, r := range results {
		m := &domain.MatchResult{
			RunID:                   runID,
			LenderID:                r.Lender.ID,
			LenderName:              r.Lender.Name,
			IsEligible:              r.Eligible,
			FitScore:                r.FitScore,
			RejectionReason:         r.RejectionReason,
			RejectionTier:           r.RejectionTier,
			EstimatedRate:           r.EstimatedRate,
			EstimatedMonthlyPayment: r.EstimatedMonthlyPayment,
			ApprovalProbability:     r.ApprovalProbability,
			TotalRules:              r.TotalRules,
			RulesPassed:             r.RulesPassed,
			RulesFailed:             r.RulesFailed,
			MandatoryRulesPassed:    r.MandatoryAllPassed,
		}
		if r.Program != nil {
			id := r.Program.ID
			m.ProgramID = &id
			m.ProgramName = r.Program.Name
		}

		var group []*domain.RuleEvaluation
		for _, outcome := range r.RuleOutcomes {
			ruleID := outcome.Rule.ID
			group = append(group, &domain.RuleEvaluation{
				RuleID:    &ruleID,
				RuleName:  outcome.Rule.Name,
				RuleKind:  string(outcome.Rule.Kind),
				Passed:    outcome.Result.Passed,
				Score:     outcome.Result.Score,
				Weight:    outcome.Result.Weight,
				Mandatory: outcome.Result.Mandatory,
				Reason:    outcome.Result.Reason,
				Evidence:  outcome.Result.Evidence,
			})
		}
		matches = append(matches, m)
		evals = append(evals, group)
	}

	return matches, evals
}

// GetRun returns a run without its results.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.runs.GetRun(ctx, runID)
}

// GetRunWithResults returns a run with results and evaluations loaded.
func (s *Service) GetRunWithResults(ctx context.Context, runID string) (*domain.Run, error) {
	return s.runs.GetRunWithResults(ctx, runID)
}

// GetLatestRun returns the most recent run for an application.
func (s *Service) GetLatestRun(ctx context.Context, applicationID string) (*domain.Run, error) {
	return s.runs.GetLatestRun(ctx, applicationID)
}

// ListRuns returns all runs for an application, newest first.
func (s *Service) ListRuns(ctx context.Context, applicationID string) ([]*domain.Run, error) {
	return s.runs.ListRuns(ctx, applicationID)
}

// GetMatched returns a run's eligible results, best fit first.
func (s *Service) GetMatched(ctx context.Context, runID string) ([]*domain.MatchResult, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.runs.GetMatched(ctx, runID)
}

// GetRejected returns a run's rejected results ordered by tier.
func (s *Service) GetRejected(ctx context.Context, runID string) ([]*domain.MatchResult, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.runs.GetRejected(ctx, runID)
}

// GetRuleEvaluations returns the evaluations behind one match result.
func (s *Service) GetRuleEvaluations(ctx context.Context, matchResultID string) ([]*domain.RuleEvaluation, error) {
	return s.runs.GetRuleEvaluations(ctx, matchResultID)
}
