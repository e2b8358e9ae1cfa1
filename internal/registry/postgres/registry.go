// Package postgres provides a pgx-backed Run Registry. It implements the
// same contract as the in-memory registry; the lifecycle guards are
// expressed as conditional UPDATEs so claims and finishes stay atomic.
//
// Expected schema:
//
//	CREATE TABLE crawl_runs (
//	    id               TEXT PRIMARY KEY,
//	    target_url       TEXT NOT NULL,
//	    status           TEXT NOT NULL,
//	    progress         INT NOT NULL DEFAULT 0,
//	    pages_indexed    INT NOT NULL DEFAULT 0,
//	    submitted_at     TIMESTAMPTZ NOT NULL,
//	    started_at       TIMESTAMPTZ,
//	    completed_at     TIMESTAMPTZ,
//	    error_message    TEXT,
//	    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchlight/crawld/internal/crawl"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Registry is a Postgres-backed crawl.Registry.
type Registry struct {
	pool  pgxPool
	idGen crawl.IDGenerator
	clock crawl.Clock
}

// New connects a Registry using the provided config.
func New(ctx context.Context, cfg Config, idGen crawl.IDGenerator, clock crawl.Clock) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Registry{pool: pool, idGen: idGen, clock: clock}, nil
}

// NewWithPool constructs a Registry from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool, idGen crawl.IDGenerator, clock crawl.Clock) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Registry{pool: pool, idGen: idGen, clock: clock}, nil
}

// Close releases the connection pool.
func (r *Registry) Close() {
	r.pool.Close()
}

// Create validates the URL and inserts a pending record.
func (r *Registry) Create(ctx context.Context, targetURL string) (crawl.Run, error) {
	if err := crawl.ValidateTargetURL(targetURL); err != nil {
		return crawl.Run{}, err
	}
	id, err := r.idGen.NewID()
	if err != nil {
		return crawl.Run{}, fmt.Errorf("allocate run id: %w", err)
	}
	run := crawl.Run{
		ID:          id,
		TargetURL:   targetURL,
		Status:      crawl.StatusPending,
		SubmittedAt: r.clock.Now(),
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO crawl_runs (id, target_url, status, submitted_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, run.TargetURL, string(run.Status), run.SubmittedAt,
	)
	if err != nil {
		return crawl.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Get returns a snapshot of the record.
func (r *Registry) Get(ctx context.Context, runID string) (crawl.Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, target_url, status, progress, pages_indexed,
		       submitted_at, started_at, completed_at, error_message, cancel_requested
		FROM crawl_runs WHERE id = $1`,
		runID,
	)
	var (
		run    crawl.Run
		status string
		errMsg *string
	)
	err := row.Scan(
		&run.ID, &run.TargetURL, &status, &run.Progress, &run.PagesIndexed,
		&run.SubmittedAt, &run.StartedAt, &run.CompletedAt, &errMsg, &run.CancelRequested,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawl.Run{}, crawl.ErrNotFound
	}
	if err != nil {
		return crawl.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = crawl.Status(status)
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	return run, nil
}

// TryClaim transitions pending -> running; the WHERE guard makes the claim
// atomic across processes.
func (r *Registry) TryClaim(ctx context.Context, runID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`,
		runID, string(crawl.StatusRunning), r.clock.Now(), string(crawl.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, runID)
}

// UpdateProgress writes the numeric fields; terminal runs are untouched.
func (r *Registry) UpdateProgress(ctx context.Context, runID string, progress, pagesIndexed int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs
		SET progress = GREATEST(progress, LEAST($2, 100)),
		    pages_indexed = GREATEST(pages_indexed, $3)
		WHERE id = $1 AND status IN ($4, $5)`,
		runID, progress, pagesIndexed,
		string(crawl.StatusPending), string(crawl.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, runID)
	}
	return nil
}

// Finish transitions to a terminal state; first writer wins.
func (r *Registry) Finish(ctx context.Context, runID string, outcome crawl.Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("finish with non-terminal status %q", outcome.Status)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs
		SET status = $2,
		    completed_at = $3,
		    error_message = NULLIF($4, ''),
		    progress = CASE WHEN $2 = $5 THEN 100 ELSE progress END
		WHERE id = $1 AND status IN ($6, $7)`,
		runID, string(outcome.Status), r.clock.Now(), outcome.ErrorMessage,
		string(crawl.StatusComplete),
		string(crawl.StatusPending), string(crawl.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureExists(ctx, runID)
	}
	return nil
}

// RequestCancel sets the flag on non-terminal runs.
func (r *Registry) RequestCancel(ctx context.Context, runID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE crawl_runs SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ($2, $3)`,
		runID, string(crawl.StatusPending), string(crawl.StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, runID)
}

// CancelRequested reports the flag.
func (r *Registry) CancelRequested(ctx context.Context, runID string) (bool, error) {
	var flag bool
	err := r.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM crawl_runs WHERE id = $1`, runID,
	).Scan(&flag)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, crawl.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("select cancel flag: %w", err)
	}
	return flag, nil
}

func (r *Registry) ensureExists(ctx context.Context, runID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM crawl_runs WHERE id = $1)`, runID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check run exists: %w", err)
	}
	if !exists {
		return crawl.ErrNotFound
	}
	return nil
}
