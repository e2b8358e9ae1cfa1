package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/patchlight/crawld/internal/crawl"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%04d", g.n), nil
}

func newTestRegistry() *Registry {
	return New(&seqIDs{}, &fakeClock{now: time.Unix(1700000000, 0).UTC()})
}

func TestCreateValidatesURL(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Create(ctx, "not-a-url")
	require.ErrorIs(t, err, crawl.ErrInvalidInput)

	_, err = reg.Create(ctx, "ftp://example.com")
	require.ErrorIs(t, err, crawl.ErrInvalidInput)

	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, crawl.StatusPending, run.Status)
	require.Zero(t, run.Progress)
	require.Nil(t, run.StartedAt)
	require.False(t, run.SubmittedAt.IsZero())
}

func TestCreateIssuesUniqueIDs(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		run, err := reg.Create(ctx, "https://example.com")
		require.NoError(t, err)
		_, dup := seen[run.ID]
		require.False(t, dup, "duplicate run id %s", run.ID)
		seen[run.ID] = struct{}{}
	}
}

func TestGetUnknownRun(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	_, err := reg.Get(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestGetReturnsSnapshot(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)

	snap, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	snap.Status = crawl.StatusError
	snap.Progress = 55

	again, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusPending, again.Status)
	require.Zero(t, again.Progress)
}

func TestTryClaimSucceedsExactlyOnce(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	claims := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.TryClaim(ctx, run.ID)
			require.NoError(t, err)
			claims <- ok
		}()
	}
	wg.Wait()
	close(claims)

	won := 0
	for ok := range claims {
		if ok {
			won++
		}
	}
	require.Equal(t, 1, won)

	snap, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusRunning, snap.Status)
	require.NotNil(t, snap.StartedAt)
}

func TestTryClaimUnknownRun(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	_, err := reg.TryClaim(context.Background(), "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestUpdateProgressMonotonic(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	claimed, err := reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 40, 4))
	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 25, 3)) // stale write loses
	snap, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 40, snap.Progress)
	require.Equal(t, 4, snap.PagesIndexed)

	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 250, 9)) // clamped
	snap, err = reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 100, snap.Progress)
	require.Equal(t, 9, snap.PagesIndexed)
}

func TestUpdateProgressIgnoredAfterTerminal(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 60, 6))
	require.NoError(t, reg.Finish(ctx, run.ID, crawl.Cancelled()))

	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 90, 9))
	snap, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusCancelled, snap.Status)
	require.Equal(t, 60, snap.Progress)
	require.Equal(t, 6, snap.PagesIndexed)
}

func TestFinishFirstWriterWins(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)

	require.NoError(t, reg.Finish(ctx, run.ID, crawl.Failed("fetch exploded")))
	first, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusError, first.Status)
	require.Equal(t, "fetch exploded", first.ErrorMessage)
	require.NotNil(t, first.CompletedAt)

	// A second Finish is a no-op; terminal fields keep their first values.
	require.NoError(t, reg.Finish(ctx, run.ID, crawl.Completed()))
	second, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFinishCompletePinsProgress(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateProgress(ctx, run.ID, 73, 7))

	require.NoError(t, reg.Finish(ctx, run.ID, crawl.Completed()))
	snap, err := reg.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusComplete, snap.Status)
	require.Equal(t, 100, snap.Progress)
}

func TestFinishRejectsNonTerminalOutcome(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	err = reg.Finish(ctx, run.ID, crawl.Outcome{Status: crawl.StatusRunning})
	require.Error(t, err)
}

func TestRequestCancelSemantics(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)

	flag, err := reg.CancelRequested(ctx, run.ID)
	require.NoError(t, err)
	require.False(t, flag)

	ok, err := reg.RequestCancel(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, ok)

	flag, err = reg.CancelRequested(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, flag)

	_, err = reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Finish(ctx, run.ID, crawl.Completed()))

	// Terminal runs report the request as meaningless.
	ok, err = reg.RequestCancel(ctx, run.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = reg.RequestCancel(ctx, "missing")
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	ctx := context.Background()
	run, err := reg.Create(ctx, "https://example.com")
	require.NoError(t, err)
	_, err = reg.TryClaim(ctx, run.ID)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 100; i++ {
			_ = reg.UpdateProgress(ctx, run.ID, i, i)
		}
		_ = reg.Finish(ctx, run.ID, crawl.Completed())
	}()

	last := 0
	for {
		snap, err := reg.Get(ctx, run.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.Progress, last, "progress went backwards")
		last = snap.Progress
		if snap.Status.Terminal() {
			require.Equal(t, 100, snap.Progress)
			break
		}
	}
	<-done
}

func TestFinishUnknownRun(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	err := reg.Finish(context.Background(), "missing", crawl.Completed())
	require.True(t, errors.Is(err, crawl.ErrNotFound))
}
