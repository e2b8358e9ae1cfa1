// Package progress defines the event stream emitted by crawl workers and
// the hub that fans it out to sinks. Progress of record lives on the Run
// Registry; this stream feeds observability sinks only.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the run milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunPage      Stage = "RUN_PAGE"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageRunCancelled Stage = "RUN_CANCELLED"
)

// Event captures a single run milestone.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Host scopes the event to the crawled site.
	Host string
	// Path is set on RUN_PAGE events.
	Path string
	// Bytes carries the page size for RUN_PAGE events.
	Bytes int64
	// Pages is the pages-indexed count as of the event.
	Pages int
	// Percent is the progress estimate as of the event.
	Percent int
	// Dur captures run wall time on terminal events.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageRunCancelled:
	case StageRunPage:
		if e.Path == "" {
			return errors.New("page event requires path")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
