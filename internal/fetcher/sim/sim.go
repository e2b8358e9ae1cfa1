// Package sim provides a deterministic fetcher for development and
// tests. It fabricates a fixed number of pages with a configurable delay
// per unit and an optional scripted failure point.
package sim

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/patchlight/crawld/internal/crawl"
)

// Config shapes the simulated crawl.
type Config struct {
	// Pages is how many page records a run produces.
	Pages int
	// UnitDelay is the simulated fetch latency per page.
	UnitDelay time.Duration
	// FailAt makes the session error before yielding the Nth page
	// (1-based). Zero disables the failure.
	FailAt int
}

// Fetcher fabricates crawl sessions.
type Fetcher struct {
	cfg   Config
	clock crawl.Clock
	idGen crawl.IDGenerator
}

// New constructs a simulated Fetcher.
func New(cfg Config, clock crawl.Clock, idGen crawl.IDGenerator) *Fetcher {
	if cfg.Pages <= 0 {
		cfg.Pages = 12
	}
	return &Fetcher{cfg: cfg, clock: clock, idGen: idGen}
}

// Open starts a simulated session rooted at the target URL.
func (f *Fetcher) Open(_ context.Context, runID, targetURL string) (crawl.Session, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	return &session{
		fetcher: f,
		runID:   runID,
		host:    u.Hostname(),
	}, nil
}

type session struct {
	fetcher *Fetcher
	runID   string
	host    string
	yielded int
}

// Next fabricates the next page after the configured unit delay.
func (s *session) Next(ctx context.Context) (crawl.PageRecord, bool, error) {
	cfg := s.fetcher.cfg
	if s.yielded >= cfg.Pages {
		return crawl.PageRecord{}, false, nil
	}
	if cfg.FailAt > 0 && s.yielded+1 == cfg.FailAt {
		return crawl.PageRecord{}, false, fmt.Errorf("simulated fetch failure at page %d", cfg.FailAt)
	}

	if cfg.UnitDelay > 0 {
		timer := time.NewTimer(cfg.UnitDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return crawl.PageRecord{}, false, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return crawl.PageRecord{}, false, err
	}

	s.yielded++
	id, err := s.fetcher.idGen.NewID()
	if err != nil {
		return crawl.PageRecord{}, false, fmt.Errorf("allocate page id: %w", err)
	}
	page := crawl.PageRecord{
		ID:        id,
		RunID:     s.runID,
		Path:      fmt.Sprintf("/page/%d", s.yielded),
		Title:     fmt.Sprintf("%s page %d", s.host, s.yielded),
		Type:      "text/html",
		Size:      int64(1024 + 128*s.yielded),
		FetchedAt: s.fetcher.clock.Now(),
	}
	return page, true, nil
}

// Pending reports how many fabricated pages remain.
func (s *session) Pending() int {
	return s.fetcher.cfg.Pages - s.yielded
}

// Close is a no-op; the session holds no resources.
func (s *session) Close() error { return nil }
