// Package memory provides the in-memory Run Registry used in a single
// orchestrating process. A persistent implementation can replace it without
// changing the contract.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/patchlight/crawld/internal/crawl"
)

// Registry is a concurrency-safe store of run records. One RWMutex guards
// the map and all field mutations; every operation is a brief critical
// section, never held across fetch work. Reads hand out value copies.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*crawl.Run
	idGen crawl.IDGenerator
	clock crawl.Clock
}

// New constructs a Registry.
func New(idGen crawl.IDGenerator, clock crawl.Clock) *Registry {
	return &Registry{
		runs:  make(map[string]*crawl.Run),
		idGen: idGen,
		clock: clock,
	}
}

// Create validates the URL, allocates a run ID, and stores a pending record.
func (r *Registry) Create(_ context.Context, targetURL string) (crawl.Run, error) {
	if err := crawl.ValidateTargetURL(targetURL); err != nil {
		return crawl.Run{}, err
	}
	id, err := r.idGen.NewID()
	if err != nil {
		return crawl.Run{}, fmt.Errorf("allocate run id: %w", err)
	}
	run := crawl.Run{
		ID:          id,
		TargetURL:   targetURL,
		Status:      crawl.StatusPending,
		SubmittedAt: r.clock.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[id]; exists {
		return crawl.Run{}, fmt.Errorf("run id %s already exists", id)
	}
	r.runs[id] = &run
	return run, nil
}

// Get returns a snapshot of the record.
func (r *Registry) Get(_ context.Context, runID string) (crawl.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return crawl.Run{}, crawl.ErrNotFound
	}
	return *run, nil
}

// TryClaim transitions pending -> running exactly once per run.
func (r *Registry) TryClaim(_ context.Context, runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false, crawl.ErrNotFound
	}
	if run.Status != crawl.StatusPending {
		return false, nil
	}
	now := r.clock.Now()
	run.Status = crawl.StatusRunning
	run.StartedAt = &now
	return true, nil
}

// UpdateProgress writes the numeric fields. Ignored on terminal runs;
// progress is clamped to [0,100] and never decreases.
func (r *Registry) UpdateProgress(_ context.Context, runID string, progress, pagesIndexed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return crawl.ErrNotFound
	}
	if run.Status.Terminal() {
		return nil
	}
	if progress > 100 {
		progress = 100
	}
	if progress > run.Progress {
		run.Progress = progress
	}
	if pagesIndexed > run.PagesIndexed {
		run.PagesIndexed = pagesIndexed
	}
	return nil
}

// Finish transitions to a terminal state; the first writer wins. Progress
// is pinned to 100 on complete and frozen otherwise.
func (r *Registry) Finish(_ context.Context, runID string, outcome crawl.Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %q", outcome.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return crawl.ErrNotFound
	}
	if run.Status.Terminal() {
		return nil
	}
	now := r.clock.Now()
	run.Status = outcome.Status
	run.CompletedAt = &now
	if outcome.Status == crawl.StatusComplete {
		run.Progress = 100
	}
	if outcome.Status == crawl.StatusError {
		run.ErrorMessage = outcome.ErrorMessage
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag.
func (r *Registry) RequestCancel(_ context.Context, runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false, crawl.ErrNotFound
	}
	if run.Status.Terminal() {
		return false, nil
	}
	run.CancelRequested = true
	return true, nil
}

// CancelRequested reports the flag.
func (r *Registry) CancelRequested(_ context.Context, runID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return false, crawl.ErrNotFound
	}
	return run.CancelRequested, nil
}
