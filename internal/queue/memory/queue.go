// Package memory provides the bounded in-process start queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/patchlight/crawld/internal/crawl"
)

// Queue is a bounded in-memory queue with context-aware operations. It
// bounds how many accepted runs can wait for a launcher slot.
type Queue struct {
	ch      chan crawl.StartRequest
	closeMu sync.Mutex
	closed  bool
}

// New constructs a queue with the provided capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan crawl.StartRequest, capacity)}
}

// Enqueue pushes a start request or returns when the context ends.
func (q *Queue) Enqueue(ctx context.Context, req crawl.StartRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawl.StartRequest, error) {
	select {
	case <-ctx.Done():
		return crawl.StartRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return crawl.StartRequest{}, errors.New("queue closed")
		}
		return req, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
