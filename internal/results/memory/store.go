// Package memory provides the in-memory Results Store.
package memory

import (
	"context"
	"sync"

	"github.com/patchlight/crawld/internal/crawl"
)

// Store holds append-only page records per run. Appends are linearized by
// the mutex; reads return a copied prefix of the append order, so callers
// never observe reordering, duplicates, or gaps.
type Store struct {
	mu    sync.RWMutex
	pages map[string][]crawl.PageRecord
}

// New constructs a Store.
func New() *Store {
	return &Store{pages: make(map[string][]crawl.PageRecord)}
}

// AppendPage appends one page record to its run's sequence.
func (s *Store) AppendPage(_ context.Context, page crawl.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.RunID] = append(s.pages[page.RunID], page)
	return nil
}

// ListPages returns a copy of the run's records in append order. An
// unknown run yields an empty slice; existence is the registry's concern.
func (s *Store) ListPages(_ context.Context, runID string) ([]crawl.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[runID]
	out := make([]crawl.PageRecord, len(pages))
	copy(out, pages)
	return out, nil
}
