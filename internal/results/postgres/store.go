// Package postgres provides a pgx-backed Results Store. Append order is
// preserved by a BIGSERIAL sequence column.
//
// Expected schema:
//
//	CREATE TABLE crawl_pages (
//	    seq        BIGSERIAL PRIMARY KEY,
//	    id         TEXT NOT NULL,
//	    run_id     TEXT NOT NULL REFERENCES crawl_runs (id),
//	    path       TEXT NOT NULL,
//	    title      TEXT NOT NULL DEFAULT '',
//	    page_type  TEXT NOT NULL DEFAULT '',
//	    size_bytes BIGINT NOT NULL DEFAULT 0,
//	    fetched_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX crawl_pages_run_idx ON crawl_pages (run_id, seq);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchlight/crawld/internal/crawl"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes page records into Postgres.
type Store struct {
	pool pgxPool
}

// Config controls the results store connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AppendPage inserts one page row.
func (s *Store) AppendPage(ctx context.Context, page crawl.PageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_pages (id, run_id, path, title, page_type, size_bytes, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		page.ID, page.RunID, page.Path, page.Title, page.Type, page.Size, page.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// ListPages returns the run's records in append order.
func (s *Store) ListPages(ctx context.Context, runID string) ([]crawl.PageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, path, title, page_type, size_bytes, fetched_at
		FROM crawl_pages WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()

	pages := make([]crawl.PageRecord, 0)
	for rows.Next() {
		var p crawl.PageRecord
		if err := rows.Scan(&p.ID, &p.RunID, &p.Path, &p.Title, &p.Type, &p.Size, &p.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}
