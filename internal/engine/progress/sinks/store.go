// Package sinks provides progress.Sink implementations that persist or
// export the crawl engine's event stream outside the engine itself.
package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine/progress"
	"github.com/arlobrandt/polycrawl/internal/store"
)

// StoreSink persists terminal CrawlResults into a store.ResultStore. It
// ignores every event except job_completed/job_failed, since the Result
// Store records finished results only, per SPEC_FULL's Result Store
// expansion.
type StoreSink struct {
	repo   store.ResultStore
	logger *zap.Logger
}

// NewStoreSink builds a StoreSink writing through repo.
func NewStoreSink(repo store.ResultStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume implements progress.Sink.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Type != progress.TypeJobCompleted && evt.Type != progress.TypeJobFailed {
			continue
		}
		if evt.Result == nil {
			continue
		}
		if err := s.repo.Save(ctx, *evt.Result); err != nil {
			return fmt.Errorf("store sink: save result: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink; the underlying store is closed by its
// owner, not by the sink.
func (s *StoreSink) Close(context.Context) error { return nil }
