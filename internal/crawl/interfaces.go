package crawl

import (
	"context"
	"time"
)

// Registry is the single source of truth for run records. Implementations
// serialize mutations per run and hand out value snapshots; operations are
// brief lock-scoped critical sections and never block on fetch work.
type Registry interface {
	// Create validates the target URL, allocates a run ID, and stores a new
	// record in pending. Returns ErrInvalidInput for malformed URLs.
	Create(ctx context.Context, targetURL string) (Run, error)

	// Get returns a point-in-time copy of the record, or ErrNotFound.
	Get(ctx context.Context, runID string) (Run, error)

	// TryClaim atomically transitions pending -> running and sets
	// started_at. It reports false when the run is not pending, which makes
	// duplicate launches harmless.
	TryClaim(ctx context.Context, runID string) (bool, error)

	// UpdateProgress writes the numeric fields. Progress never decreases;
	// the call is ignored once the run is terminal.
	UpdateProgress(ctx context.Context, runID string, progress, pagesIndexed int) error

	// Finish atomically transitions to a terminal state and sets
	// completed_at. Idempotent: the first writer wins, later calls no-op.
	Finish(ctx context.Context, runID string, outcome Outcome) error

	// RequestCancel sets the cancellation flag. It reports false when the
	// run is already terminal and the request is meaningless.
	RequestCancel(ctx context.Context, runID string) (bool, error)

	// CancelRequested is the cheap read used by the worker's cooperative
	// check between units of work.
	CancelRequested(ctx context.Context, runID string) (bool, error)
}

// ResultsStore holds the append-only, per-run ordered page records. Only
// the worker owning a run appends; anyone may read. Reads return a copied
// prefix of the true append order.
type ResultsStore interface {
	AppendPage(ctx context.Context, page PageRecord) error
	ListPages(ctx context.Context, runID string) ([]PageRecord, error)
}

// Fetcher is the external crawling collaborator. The engine never inspects
// page content; it only records the PageRecord fields.
type Fetcher interface {
	// Open starts a crawl session against the target URL. The session is
	// owned by a single worker and is not safe for concurrent use.
	Open(ctx context.Context, runID, targetURL string) (Session, error)
}

// Session yields one unit of work at a time.
type Session interface {
	// Next blocks until the next page is available. It returns more=false
	// once the frontier is exhausted; err is fatal and ends the run.
	Next(ctx context.Context) (page PageRecord, more bool, err error)

	// Pending reports the number of discovered-but-unfetched pages, used by
	// frontier-based progress estimation. Best effort.
	Pending() int

	// Close releases session resources. Safe to call more than once.
	Close() error
}

// Queue hands start requests from the orchestrator to the launcher pool.
type Queue interface {
	Enqueue(ctx context.Context, req StartRequest) error
	Dequeue(ctx context.Context) (StartRequest, error)
}

// BlobStore persists raw page snapshots and returns a URI. Only fetcher
// implementations touch page bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher feeds page and run notifications to the downstream index.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and page IDs.
type IDGenerator interface {
	NewID() (string, error)
}
