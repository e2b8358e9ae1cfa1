package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/crawl"
	"github.com/patchlight/crawld/internal/progress"
	regmem "github.com/patchlight/crawld/internal/registry/memory"
	resmem "github.com/patchlight/crawld/internal/results/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

// scriptedSession replays a fixed page list, optionally failing or
// panicking at a given step.
type scriptedSession struct {
	pages   []crawl.PageRecord
	failAt  int // 1-based page index; 0 disables
	panicAt int
	failErr error

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *scriptedSession) Next(ctx context.Context) (crawl.PageRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return crawl.PageRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	step := s.next + 1
	if s.panicAt > 0 && step == s.panicAt {
		panic("scripted session panic")
	}
	if s.failAt > 0 && step == s.failAt {
		return crawl.PageRecord{}, false, s.failErr
	}
	if s.next >= len(s.pages) {
		return crawl.PageRecord{}, false, nil
	}
	page := s.pages[s.next]
	s.next++
	return page, true, nil
}

func (s *scriptedSession) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages) - s.next
}

func (s *scriptedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type scriptedFetcher struct {
	session *scriptedSession
	openErr error
}

func (f *scriptedFetcher) Open(context.Context, string, string) (crawl.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, payload)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type harness struct {
	registry  *regmem.Registry
	results   *resmem.Store
	emitter   *captureEmitter
	publisher *capturePublisher
	worker    *Worker
}

func newHarness(t *testing.T, fetcher crawl.Fetcher) *harness {
	t.Helper()
	h := &harness{
		registry:  regmem.New(&seqIDs{}, newFakeClock()),
		results:   resmem.New(),
		emitter:   &captureEmitter{},
		publisher: &capturePublisher{},
	}
	h.worker = New(
		h.registry,
		h.results,
		fetcher,
		FrontierEstimator{},
		newFakeClock(),
		h.emitter,
		h.publisher,
		Config{PublishTopic: "crawl-events"},
		zap.NewNop(),
	)
	return h
}

func (h *harness) createRun(t *testing.T) crawl.Run {
	t.Helper()
	run, err := h.registry.Create(context.Background(), "https://example.com")
	require.NoError(t, err)
	return run
}

func somePages(n int) []crawl.PageRecord {
	pages := make([]crawl.PageRecord, 0, n)
	for i := 0; i < n; i++ {
		pages = append(pages, crawl.PageRecord{
			ID:    fmt.Sprintf("page-%d", i+1),
			Path:  fmt.Sprintf("/p/%d", i+1),
			Title: fmt.Sprintf("Page %d", i+1),
			Type:  "text/html",
			Size:  128,
		})
	}
	return pages
}

func TestExecuteCompletesRun(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(3)}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusComplete, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Equal(t, 3, got.PagesIndexed)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	pages, err := h.results.ListPages(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, page := range pages {
		require.Equal(t, run.ID, page.RunID)
		require.Equal(t, fmt.Sprintf("/p/%d", i+1), page.Path)
		require.False(t, page.FetchedAt.IsZero())
	}

	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageRunPage,
		progress.StageRunPage,
		progress.StageRunPage,
		progress.StageRunDone,
	}, h.emitter.stages())
	require.True(t, session.closed)

	// 3 page notifications + 1 run_finished.
	require.Equal(t, 4, h.publisher.count())
}

func TestExecuteHonorsCancelRequest(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(10)}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	// Flag set before the worker starts; the first cooperative check after
	// page one must stop the run.
	ok, err := h.registry.RequestCancel(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, ok)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCancelled, got.Status)
	require.Equal(t, 1, got.PagesIndexed)
	require.Less(t, got.Progress, 100)

	pages, err := h.results.ListPages(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	stages := h.emitter.stages()
	require.Equal(t, progress.StageRunCancelled, stages[len(stages)-1])
}

func TestExecuteContextCancelBecomesCancelled(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(5)}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.worker.Execute(ctx, crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	// TryClaim succeeded before the loop observed the dead context.
	require.Equal(t, crawl.StatusCancelled, got.Status)
}

func TestExecuteFetchErrorFailsRun(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{
		pages:   somePages(5),
		failAt:  3,
		failErr: errors.New("connection reset by peer"),
	}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, got.Status)
	require.Equal(t, "connection reset by peer", got.ErrorMessage)
	require.Equal(t, 2, got.PagesIndexed)

	pages, err := h.results.ListPages(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2, "pages indexed before the failure stay visible")
}

func TestExecuteOpenErrorFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &scriptedFetcher{openErr: errors.New("dns lookup failed")})
	run := h.createRun(t)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, got.Status)
	require.Contains(t, got.ErrorMessage, "dns lookup failed")
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(5), panicAt: 2}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	require.NotPanics(t, func() {
		h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})
	})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, got.Status)
	require.Contains(t, got.ErrorMessage, "worker panic")
}

func TestExecuteSkipsUnclaimableRun(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(3)}
	h := newHarness(t, &scriptedFetcher{session: session})
	run := h.createRun(t)

	claimed, err := h.registry.TryClaim(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	// The duplicate launch must not touch the run or emit anything.
	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusRunning, got.Status)
	require.Empty(t, h.emitter.stages())
	require.Zero(t, h.publisher.count())
}

func TestExecutePublishFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	session := &scriptedSession{pages: somePages(2)}
	h := newHarness(t, &scriptedFetcher{session: session})
	h.publisher.err = errors.New("pubsub unavailable")
	run := h.createRun(t)

	h.worker.Execute(context.Background(), crawl.StartRequest{RunID: run.ID, TargetURL: run.TargetURL})

	got, err := h.registry.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusComplete, got.Status)
}
