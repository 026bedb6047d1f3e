package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
	"github.com/arlobrandt/polycrawl/internal/idgen"
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

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hub := progress.NewHub(progress.Config{})
	t.Cleanup(func() { _ = hub.Close(context.Background()) })

	deps := Deps{
		Limiter:   noopLimiter{},
		Fetcher:   &fakeFetcher{bodies: map[string]string{"https://example.com/start": "hello"}},
		Extractor: fakeExtractor{},
		Clock:     fixedClock{now: time.Unix(100, 0)},
		Hub:       hub,
		RobotsFactory: func(string) engine.RobotsCache { return allowAllRobots{} },
		UserAgent: "test-agent",
		IDGen:     idgen.New(),
		Logger:    zap.NewNop(),
	}
	return NewServer(deps)
}

func TestStartJobAccepted(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := bytes.NewBufferString(`{"seed_urls":["https://example.com/start"],"max_depth":2,"worker_count":2}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/", body)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "job_id")
}

func TestStartJobRejectsMissingSeeds(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString(`{"seed_urls":[]}`))
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSnapshotUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist/snapshot", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartJobThenGetSnapshotSucceeds(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	startReq := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString(`{"seed_urls":["https://example.com/start"]}`))
	startRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusAccepted, startRec.Code)

	var started map[string]string
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	jobID := started["job_id"]
	require.NotEmpty(t, jobID)

	snapReq := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID+"/snapshot", nil)
	snapRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(snapRec, snapReq)
	require.Equal(t, http.StatusOK, snapRec.Code)
}

func TestSubscribeStreamsInitialStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	startReq := httptest.NewRequest(http.MethodPost, "/v1/jobs/", bytes.NewBufferString(`{"seed_urls":["https://example.com/start"]}`))
	startRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusAccepted, startRec.Code)

	var started map[string]string
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))
	jobID := started["job_id"]
	require.NotEmpty(t, jobID)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	eventsReq := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID+"/events", nil).WithContext(ctx)
	eventsRec := httptest.NewRecorder()

	s.Handler().ServeHTTP(eventsRec, eventsReq)
	require.Equal(t, http.StatusOK, eventsRec.Code)
	require.Equal(t, "text/event-stream", eventsRec.Header().Get("Content-Type"))
	require.Contains(t, eventsRec.Body.String(), "event: initial_status")
}

func TestSubscribeUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist/events", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/does-not-exist/cancel", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
