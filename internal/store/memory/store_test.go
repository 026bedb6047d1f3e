package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/store"
)

func TestSaveThenGetRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	result := engine.CrawlResult{JobID: "job-1", Snapshot: engine.JobSnapshot{State: engine.JobCompleted}}

	require.NoError(t, s.Save(ctx, result))
	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, engine.JobCompleted, got.Snapshot.State)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesResult(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, engine.CrawlResult{JobID: "job-1"}))
	require.NoError(t, s.Delete(ctx, "job-1"))
	_, err := s.Get(ctx, "job-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
