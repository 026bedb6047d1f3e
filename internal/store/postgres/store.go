// Package postgres provides a Postgres-backed Result Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/store"
)

// pool is the subset of *pgxpool.Pool's surface this package needs; it
// lets tests substitute pgxmock.PgxPoolIface.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgconnCommandTag mirrors pgconn.CommandTag's RowsAffected method, which
// is all this package relies on.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// Store implements store.ResultStore against a `crawl_results` table,
// storing the JobSnapshot and PageResults as JSONB columns.
type Store struct {
	pool pool
}

// New wraps an existing connection pool.
func New(p *pgxpool.Pool) *Store {
	return &Store{pool: poolAdapter{p}}
}

// poolAdapter narrows *pgxpool.Pool's Exec signature to the pool
// interface's any-returning pgconnCommandTag.
type poolAdapter struct{ *pgxpool.Pool }

func (a poolAdapter) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := a.Pool.Exec(ctx, sql, args...)
	return tag, err
}

// Schema is the DDL this store expects to exist; callers apply it via
// whatever migration tool the deployment uses.
const Schema = `
CREATE TABLE IF NOT EXISTS crawl_results (
	job_id     TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	pages      JSONB NOT NULL,
	url_depths JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Save implements store.ResultStore, upserting on job_id.
func (s *Store) Save(ctx context.Context, result engine.CrawlResult) error {
	snapshot, err := json.Marshal(result.Snapshot)
	if err != nil {
		return fmt.Errorf("postgres store: marshal snapshot: %w", err)
	}
	pages, err := json.Marshal(result.Pages)
	if err != nil {
		return fmt.Errorf("postgres store: marshal pages: %w", err)
	}
	depths, err := json.Marshal(result.URLsByDepth)
	if err != nil {
		return fmt.Errorf("postgres store: marshal depths: %w", err)
	}

	const query = `
		INSERT INTO crawl_results (job_id, state, snapshot, pages, url_depths)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			state = EXCLUDED.state,
			snapshot = EXCLUDED.snapshot,
			pages = EXCLUDED.pages,
			url_depths = EXCLUDED.url_depths;`
	if _, err := s.pool.Exec(ctx, query, result.JobID, string(result.Snapshot.State), snapshot, pages, depths); err != nil {
		return fmt.Errorf("postgres store: save result: %w", err)
	}
	return nil
}

// Get implements store.ResultStore.
func (s *Store) Get(ctx context.Context, jobID string) (engine.CrawlResult, error) {
	const query = `SELECT snapshot, pages, url_depths FROM crawl_results WHERE job_id = $1;`
	var snapshotRaw, pagesRaw, depthsRaw []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&snapshotRaw, &pagesRaw, &depthsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.CrawlResult{}, store.ErrNotFound
		}
		return engine.CrawlResult{}, fmt.Errorf("postgres store: get result: %w", err)
	}

	result := engine.CrawlResult{JobID: jobID}
	if err := json.Unmarshal(snapshotRaw, &result.Snapshot); err != nil {
		return engine.CrawlResult{}, fmt.Errorf("postgres store: unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal(pagesRaw, &result.Pages); err != nil {
		return engine.CrawlResult{}, fmt.Errorf("postgres store: unmarshal pages: %w", err)
	}
	if err := json.Unmarshal(depthsRaw, &result.URLsByDepth); err != nil {
		return engine.CrawlResult{}, fmt.Errorf("postgres store: unmarshal depths: %w", err)
	}
	return result, nil
}

// Delete implements store.ResultStore.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	const query = `DELETE FROM crawl_results WHERE job_id = $1;`
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("postgres store: delete result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
