package crawl

import "errors"

// Sentinel errors surfaced through the orchestrator. The API layer maps
// them to HTTP statuses with errors.Is.
var (
	// ErrInvalidInput rejects a malformed submission (bad target URL).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown run ID.
	ErrNotFound = errors.New("run not found")

	// ErrNotReady marks a results request made before any results can
	// exist: the run is still pending, or it errored before producing a
	// single page.
	ErrNotReady = errors.New("results not ready")
)
