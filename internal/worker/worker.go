// Package worker consumes run requests from the event bus and executes
// them asynchronously, so callers can queue underwriting without
// holding an HTTP connection open.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/underwriting"
)

// Worker subscribes to the run-request topic and drives the
// underwriting service for each message.
type Worker struct {
	bus domain.EventBus
	svc *underwriting.Service

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount caps concurrent run executions.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *underwriting.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the run-request topic.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 4
	}
	w.sem = make(chan struct{}, count)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("async worker started",
		"topic", domain.TopicRunRequested,
		"worker_count", count,
	)
	return nil
}

// handleMessage executes one run request. Execution is bounded by the
// worker semaphore; the bus handler returns as soon as the slot is
// acquired so slow runs do not stall other topics.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		w.failed.Add(1)
		return err
	}
	if req.ApplicationID == "" {
		w.failed.Add(1)
		return errors.New("run request missing application id")
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.executeRun(req)
	}()

	return nil
}

func (w *Worker) executeRun(req domain.RunRequest) {
	start := time.Now()

	var (
		run *domain.Run
		err error
	)
	if req.Rerun {
		run, err = w.svc.Rerun(w.ctx, req.ApplicationID, req.Reason)
	} else {
		run, err = w.svc.Run(w.ctx, req.ApplicationID, req.Meta)
	}

	if err != nil {
		w.failed.Add(1)
		slog.Error("async run failed",
			"application_id", req.ApplicationID,
			"error", err,
		)
		return
	}

	w.processed.Add(1)
	slog.Info("async run completed",
		"run_id", run.ID,
		"application_id", req.ApplicationID,
		"status", run.Status,
		"matched", run.MatchedCount,
		"rejected", run.RejectedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop gracefully stops the worker, waiting for in-flight runs.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("async worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int   `json:"subscriptionCount"`
	Processed         int64 `json:"processed"`
	Failed            int64 `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
