// Package orchestrator implements the public run-management contract:
// submit a crawl, poll status and results, request cancellation. All
// methods are safe for concurrent use from any number of callers.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/crawl"
)

// Orchestrator fronts the registry and results store and hands new runs
// to the launcher pool through the start queue.
type Orchestrator struct {
	registry crawl.Registry
	results  crawl.ResultsStore
	queue    crawl.Queue
	clock    crawl.Clock
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(registry crawl.Registry, results crawl.ResultsStore, queue crawl.Queue, clock crawl.Clock, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		results:  results,
		queue:    queue,
		clock:    clock,
		logger:   logger,
	}
}

// StartRun creates a pending run and schedules it for execution. It
// returns as soon as the record is stored and enqueued; it never waits
// for a worker to claim the run.
func (o *Orchestrator) StartRun(ctx context.Context, targetURL string) (crawl.Run, error) {
	run, err := o.registry.Create(ctx, targetURL)
	if err != nil {
		return crawl.Run{}, err
	}

	req := crawl.StartRequest{
		RunID:     run.ID,
		TargetURL: run.TargetURL,
		Submitted: run.SubmittedAt.UnixMilli(),
	}
	if err := o.queue.Enqueue(ctx, req); err != nil {
		// The record exists but nothing will ever claim it; fail it so
		// the caller does not poll a pending run forever.
		ferr := o.registry.Finish(context.Background(), run.ID,
			crawl.Failed(fmt.Sprintf("schedule run: %v", err)))
		if ferr != nil {
			o.logger.Error("failing unscheduled run",
				zap.String("run_id", run.ID), zap.Error(ferr))
		}
		return crawl.Run{}, fmt.Errorf("schedule run %s: %w", run.ID, err)
	}

	o.logger.Info("run submitted",
		zap.String("run_id", run.ID),
		zap.String("target_url", run.TargetURL))
	return run, nil
}

// GetStatus returns a point-in-time snapshot of the run.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (crawl.Run, error) {
	return o.registry.Get(ctx, runID)
}

// GetResults returns the pages appended so far, in crawl order. Partial
// results are valid while the run is still going and for cancelled runs.
// It returns ErrNotReady while the run is pending, and for failed runs
// that produced nothing.
func (o *Orchestrator) GetResults(ctx context.Context, runID string) ([]crawl.PageRecord, error) {
	run, err := o.registry.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == crawl.StatusPending {
		return nil, fmt.Errorf("run %s has not started: %w", runID, crawl.ErrNotReady)
	}

	pages, err := o.results.ListPages(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list pages for run %s: %w", runID, err)
	}
	if run.Status == crawl.StatusError && len(pages) == 0 {
		return nil, fmt.Errorf("run %s failed before producing results: %w", runID, crawl.ErrNotReady)
	}
	return pages, nil
}

// StopRun requests cooperative cancellation and returns the snapshot as
// of the request. On an already-terminal run the request is a no-op and
// the unchanged snapshot comes back; it never blocks until the worker
// actually stops.
func (o *Orchestrator) StopRun(ctx context.Context, runID string) (crawl.Run, error) {
	requested, err := o.registry.RequestCancel(ctx, runID)
	if err != nil {
		return crawl.Run{}, err
	}
	if requested {
		o.logger.Info("cancellation requested", zap.String("run_id", runID))
	}
	return o.registry.Get(ctx, runID)
}
