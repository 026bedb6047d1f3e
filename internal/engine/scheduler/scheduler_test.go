package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
)

type allowAllRobots struct{}

func (allowAllRobots) Allowed(context.Context, string, string) engine.RobotsAllowance {
	return engine.RobotsAllowance{Allowed: true}
}

type noopLimiter struct{}

func (noopLimiter) Acquire(context.Context, string) error { return nil }
func (noopLimiter) ReportStatus(string, int)               {}
func (noopLimiter) ReportSuccess(string)                   {}
func (noopLimiter) NextUserAgent() string                  { return "test-agent" }
func (noopLimiter) SetMinDelay(string, float64)            {}

type fakeFetcher struct{ bodies map[string]string }

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (engine.FetchResult, *engine.Failure) {
	body, ok := f.bodies[rawURL]
	if !ok {
		return engine.FetchResult{}, &engine.Failure{Phase: engine.PhaseCrawl, Type: engine.FailureHTTP4xx, HTTPStatus: 404}
	}
	return engine.FetchResult{Bytes: []byte(body), FinalURL: rawURL, HTTPStatus: 200}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ string, body []byte) (engine.ExtractResult, *engine.Failure) {
	return engine.ExtractResult{Content: string(body)}, nil
}

func waitForSchedulerTerminal(t *testing.T, s *Scheduler) engine.JobState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snap := s.Snapshot()
		switch snap.State {
		case engine.JobCompleted, engine.JobFailed, engine.JobCancelled:
			return snap.State
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler did not reach a terminal state, last state %s", snap.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerRunsOneJobPerActiveScope(t *testing.T) {
	hub := progress.NewHub(progress.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	params := engine.MultiJobParameters{
		Domain: "example.com",
		Scopes: []engine.ScopeSpec{
			{ID: "docs", Name: "Docs", EntryURLs: []string{"https://example.com/docs/start"}, Active: true},
			{ID: "blog", Name: "Blog", EntryURLs: []string{"https://example.com/blog/start"}, Active: true},
			{ID: "inactive", Name: "Inactive", EntryURLs: []string{"https://example.com/inactive/start"}, Active: false},
		},
		Mode:        engine.ModeCrawlScrape,
		MaxDepth:    1,
		WorkerCount: 2,
		ParallelKBs: 2,
	}
	deps := Deps{
		Limiter:   noopLimiter{},
		Fetcher:   &fakeFetcher{bodies: map[string]string{
			"https://example.com/docs/start": "docs",
			"https://example.com/blog/start": "blog",
		}},
		Extractor:     fakeExtractor{},
		Hub:           hub,
		RobotsFactory: func(string) engine.RobotsCache { return allowAllRobots{} },
		UserAgent:     "test-agent",
	}

	s, err := New("sched-1", params, deps)
	require.NoError(t, err)
	require.Len(t, s.Scopes(), 2)

	require.NoError(t, s.Start(context.Background()))
	state := waitForSchedulerTerminal(t, s)
	require.Equal(t, engine.JobCompleted, state)

	results := s.Results()
	require.Len(t, results, 2)
}

func TestSchedulerWarnsOnOverlappingPrefixes(t *testing.T) {
	hub := progress.NewHub(progress.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	params := engine.MultiJobParameters{
		Domain: "example.com",
		Scopes: []engine.ScopeSpec{
			{ID: "docs", Name: "Docs", EntryURLs: []string{"https://example.com/docs/start"}, Active: true},
			{ID: "docs-v2", Name: "Docs V2", EntryURLs: []string{"https://example.com/docs/v2/start"}, Active: true},
		},
		Mode:        engine.ModeCrawlScrape,
		MaxDepth:    1,
		WorkerCount: 2,
		ParallelKBs: 2,
	}
	deps := Deps{
		Limiter:       noopLimiter{},
		Fetcher:       &fakeFetcher{bodies: map[string]string{}},
		Extractor:     fakeExtractor{},
		Hub:           hub,
		RobotsFactory: func(string) engine.RobotsCache { return allowAllRobots{} },
	}

	s, err := New("sched-2", params, deps)
	require.NoError(t, err)
	require.NotEmpty(t, s.OverlapWarning())
}
