// Package worker drives a single crawl run from claim to terminal state.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/crawl"
	"github.com/patchlight/crawld/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// PublishTopic names the downstream index feed; empty disables
	// publishing.
	PublishTopic string
}

// Worker executes runs. One Worker instance is shared by the launcher
// pool; all per-run state lives on the stack of Execute.
type Worker struct {
	registry  crawl.Registry
	results   crawl.ResultsStore
	fetcher   crawl.Fetcher
	estimator Estimator
	clock     crawl.Clock
	emitter   progress.Emitter
	publisher crawl.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	registry crawl.Registry,
	results crawl.ResultsStore,
	fetcher crawl.Fetcher,
	estimator Estimator,
	clock crawl.Clock,
	emitter progress.Emitter,
	publisher crawl.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if estimator == nil {
		estimator = BudgetEstimator{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		registry:  registry,
		results:   results,
		fetcher:   fetcher,
		estimator: estimator,
		clock:     clock,
		emitter:   emitter,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute drives one run to a terminal state. It never returns an error
// and never panics outward: fetcher failures and panics become the run's
// terminal error state, so a single run can't take the process down or
// leak a permanently-running record.
func (w *Worker) Execute(ctx context.Context, req crawl.StartRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("worker panic recovered",
				zap.String("run_id", req.RunID), zap.Any("panic", rec))
			w.finish(req, crawl.Failed(fmt.Sprintf("worker panic: %v", rec)), time.Time{})
		}
	}()

	claimed, err := w.registry.TryClaim(ctx, req.RunID)
	if err != nil {
		w.logger.Error("claim failed", zap.String("run_id", req.RunID), zap.Error(err))
		return
	}
	if !claimed {
		// Someone else owns the run, or it is already terminal.
		w.logger.Debug("run not claimable", zap.String("run_id", req.RunID))
		return
	}

	started := w.clock.Now()
	w.emit(progress.Event{
		RunID: req.RunID,
		TS:    started,
		Stage: progress.StageRunStart,
		Host:  hostOf(req.TargetURL),
	})

	session, err := w.fetcher.Open(ctx, req.RunID, req.TargetURL)
	if err != nil {
		w.finish(req, crawl.Failed(fmt.Sprintf("open crawl: %v", err)), started)
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			w.logger.Warn("session close failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
	}()

	w.crawlLoop(ctx, req, session, started)
}

func (w *Worker) crawlLoop(ctx context.Context, req crawl.StartRequest, session crawl.Session, started time.Time) {
	pages := 0
	for {
		page, more, err := session.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Process shutdown: treat as cancellation, not failure.
				w.finish(req, crawl.Cancelled(), started)
				return
			}
			w.finish(req, crawl.Failed(err.Error()), started)
			return
		}
		if !more {
			w.finish(req, crawl.Completed(), started)
			return
		}

		pages++
		page = w.normalize(req.RunID, page)

		// Counter first, append second: a concurrent reader sees the
		// results count lag num_pages_indexed by at most one record.
		pct := w.estimator.Estimate(pages, session.Pending())
		if err := w.registry.UpdateProgress(ctx, req.RunID, pct, pages); err != nil {
			w.logger.Warn("progress update failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
		if err := w.results.AppendPage(ctx, page); err != nil {
			w.finish(req, crawl.Failed(fmt.Sprintf("append page: %v", err)), started)
			return
		}

		w.emit(progress.Event{
			RunID:   req.RunID,
			TS:      w.clock.Now(),
			Stage:   progress.StageRunPage,
			Host:    hostOf(req.TargetURL),
			Path:    page.Path,
			Bytes:   page.Size,
			Pages:   pages,
			Percent: pct,
		})
		w.publishPage(ctx, req, page)

		cancelled, err := w.registry.CancelRequested(ctx, req.RunID)
		if err != nil {
			w.logger.Warn("cancel check failed", zap.String("run_id", req.RunID), zap.Error(err))
		}
		if cancelled {
			w.finish(req, crawl.Cancelled(), started)
			return
		}
	}
}

// normalize fills the fields a fetcher may leave blank.
func (w *Worker) normalize(runID string, page crawl.PageRecord) crawl.PageRecord {
	page.RunID = runID
	if page.FetchedAt.IsZero() {
		page.FetchedAt = w.clock.Now()
	}
	return page
}

// finish records the terminal state and emits the terminal event. Finish
// on the registry is idempotent, so racing callers are harmless.
func (w *Worker) finish(req crawl.StartRequest, outcome crawl.Outcome, started time.Time) {
	// Registry writes must survive request/shutdown contexts.
	ctx := context.Background()
	if err := w.registry.Finish(ctx, req.RunID, outcome); err != nil {
		w.logger.Error("finish failed",
			zap.String("run_id", req.RunID),
			zap.String("outcome", string(outcome.Status)),
			zap.Error(err))
	}

	now := w.clock.Now()
	evt := progress.Event{
		RunID: req.RunID,
		TS:    now,
		Stage: terminalStage(outcome.Status),
		Host:  hostOf(req.TargetURL),
		Note:  outcome.ErrorMessage,
	}
	if !started.IsZero() {
		evt.Dur = now.Sub(started)
	}
	if snap, err := w.registry.Get(ctx, req.RunID); err == nil {
		evt.Pages = snap.PagesIndexed
		evt.Percent = snap.Progress
	}
	w.emit(evt)
	w.publishFinish(ctx, req, outcome, evt.Pages)

	w.logger.Info("run finished",
		zap.String("run_id", req.RunID),
		zap.String("outcome", string(outcome.Status)),
		zap.Int("pages", evt.Pages))
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
}

func (w *Worker) publishPage(ctx context.Context, req crawl.StartRequest, page crawl.PageRecord) {
	if w.publisher == nil || w.cfg.PublishTopic == "" {
		return
	}
	payload := map[string]any{
		"event":      "page_indexed",
		"run_id":     req.RunID,
		"page_id":    page.ID,
		"path":       page.Path,
		"title":      page.Title,
		"type":       page.Type,
		"size":       page.Size,
		"fetched_at": page.FetchedAt.Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.PublishTopic, payload); err != nil {
		w.logger.Warn("page publish failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
}

func (w *Worker) publishFinish(ctx context.Context, req crawl.StartRequest, outcome crawl.Outcome, pages int) {
	if w.publisher == nil || w.cfg.PublishTopic == "" {
		return
	}
	payload := map[string]any{
		"event":      "run_finished",
		"run_id":     req.RunID,
		"target_url": req.TargetURL,
		"outcome":    string(outcome.Status),
		"pages":      pages,
		"error":      outcome.ErrorMessage,
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.PublishTopic, payload); err != nil {
		w.logger.Warn("finish publish failed", zap.String("run_id", req.RunID), zap.Error(err))
	}
}

func terminalStage(status crawl.Status) progress.Stage {
	switch status {
	case crawl.StatusError:
		return progress.StageRunError
	case crawl.StatusCancelled:
		return progress.StageRunCancelled
	default:
		return progress.StageRunDone
	}
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
