// Package crawl defines the core types shared across the run orchestration
// engine: run records, page records, the run state machine, and the
// interfaces the registry, stores, and fetchers implement.
package crawl

import "time"

// Status represents the lifecycle state of a crawl run.
type Status string

// Run status values held by the registry.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// Run is a point-in-time snapshot of one crawl attempt. Registry reads
// return copies; mutating a snapshot never affects the stored record.
type Run struct {
	ID              string     `json:"run_id"`
	TargetURL       string     `json:"target_url"`
	Status          Status     `json:"status"`
	Progress        int        `json:"progress"`
	PagesIndexed    int        `json:"num_pages_indexed"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CancelRequested bool       `json:"-"`
}

// PageRecord describes one crawled page. Records are immutable once
// appended and belong to exactly one run, in discovery order.
type PageRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Outcome carries the terminal state a worker hands to Registry.Finish.
type Outcome struct {
	Status       Status
	ErrorMessage string
}

// Completed is the outcome of a run that exhausted its frontier.
func Completed() Outcome {
	return Outcome{Status: StatusComplete}
}

// Failed is the outcome of a run whose fetcher errored.
func Failed(msg string) Outcome {
	return Outcome{Status: StatusError, ErrorMessage: msg}
}

// Cancelled is the outcome of a run that observed its cancellation flag.
func Cancelled() Outcome {
	return Outcome{Status: StatusCancelled}
}

// StartRequest is the unit queued between StartRun and the launcher pool.
type StartRequest struct {
	RunID     string
	TargetURL string
	Submitted int64
}
