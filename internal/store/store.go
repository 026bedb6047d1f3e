// Package store defines the Result Store: an optional durable sink for
// terminal CrawlResults, described as an ambient addition in the
// project's expanded requirements. It never persists frontier or
// visited state, and a process restart never resumes a crawl from it.
package store

import (
	"context"
	"errors"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

// ErrNotFound is returned by Get/Delete when no result is stored for a
// job ID.
var ErrNotFound = errors.New("store: result not found")

// ResultStore persists finished CrawlResults for later retrieval by
// get_result. Implementations must be safe for concurrent use.
type ResultStore interface {
	Save(ctx context.Context, result engine.CrawlResult) error
	Get(ctx context.Context, jobID string) (engine.CrawlResult, error)
	Delete(ctx context.Context, jobID string) error
}
