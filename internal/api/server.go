// Package api exposes the chi-based HTTP façade over the crawl engine.
// Handlers hold no crawl logic; every request delegates to a Job or
// Scheduler method.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/config"
	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/job"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
	"github.com/arlobrandt/polycrawl/internal/engine/scheduler"
	"github.com/arlobrandt/polycrawl/internal/idgen"
	"github.com/arlobrandt/polycrawl/internal/metrics"
	"github.com/arlobrandt/polycrawl/internal/store"
)

// Deps bundles everything a Server needs to construct Jobs and
// Schedulers and to answer queries about them.
type Deps struct {
	Limiter       engine.RateLimiter
	Fetcher       engine.Fetcher
	Extractor     engine.Extractor
	Clock         engine.Clock
	Hub           *progress.Hub
	RobotsFactory func(userAgent string) engine.RobotsCache
	UserAgent     string
	IDGen         *idgen.Generator
	Store         store.ResultStore
	Logger        *zap.Logger
	Config        config.Config
}

// Server wires HTTP handlers to the engine's Job and Scheduler types.
type Server struct {
	router chi.Router
	deps   Deps

	mu         sync.RWMutex
	jobs       map[string]*job.Job
	schedulers map[string]*scheduler.Scheduler
}

// NewServer constructs a Server with middleware and routes mounted.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:       deps,
		jobs:       make(map[string]*job.Job),
		schedulers: make(map[string]*scheduler.Scheduler),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(recoverMiddleware(deps.Logger))
	r.Use(metricsMiddleware)

	// The events route streams an unbounded SSE response and must not be
	// wrapped in http.TimeoutHandler: TimeoutHandler buffers the whole
	// response and neither its writer nor chi's own ResponseWriter
	// wrapper implement http.Flusher through it, so a wrapped stream can
	// never flush and dies at the timeout. Every other route gets the
	// bounded timeout.
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Get("/healthz", s.healthz)
		r.Get("/metrics", s.metrics)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", s.startJob)
			r.Post("/multi", s.startMultiJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/snapshot", s.getSnapshot)
				r.Get("/result", s.getResult)
				r.Post("/cancel", s.cancelJob)
				r.Delete("/", s.deleteJob)
			})
		})
	})

	r.Get("/v1/jobs/{job_id}/events", s.subscribe)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

// startJobRequest matches §6's start_job ingress contract.
type startJobRequest struct {
	SeedURLs          []string    `json:"seed_urls"`
	Mode              engine.Mode `json:"mode"`
	MaxDepth          int         `json:"max_depth"`
	WorkerCount       int         `json:"worker_count"`
	AllowSubdomains   bool        `json:"allow_subdomains"`
	AllowedDomains    []string    `json:"allowed_domains"`
	IncludeChildPages bool        `json:"include_child_pages"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.SeedURLs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one seed url is required")
		return
	}

	jobID, err := s.deps.IDGen.NewJobID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate job id")
		return
	}

	params := engine.JobParameters{
		SeedURLs:          req.SeedURLs,
		Mode:              req.Mode,
		MaxDepth:          req.MaxDepth,
		WorkerCount:       req.WorkerCount,
		AllowSubdomains:   req.AllowSubdomains,
		AllowedDomains:    req.AllowedDomains,
		IncludeChildPages: req.IncludeChildPages,
	}
	j, err := job.New(jobID, params, job.Deps{
		Robots:    s.deps.RobotsFactory(s.deps.UserAgent),
		Limiter:   s.deps.Limiter,
		Fetcher:   s.deps.Fetcher,
		Extractor: s.deps.Extractor,
		Clock:     s.deps.Clock,
		Hub:       s.deps.Hub,
		UserAgent: s.deps.UserAgent,
		Logger:    s.deps.Logger,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.jobs[jobID] = j
	s.mu.Unlock()

	if err := j.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// startMultiJobRequest matches §6's start_multi_job ingress contract.
type startMultiJobRequest struct {
	Domain               string            `json:"domain"`
	Scopes               []scopeSpecJSON   `json:"scopes"`
	Mode                 engine.Mode       `json:"mode"`
	MaxDepth             int               `json:"max_depth"`
	WorkerCount          int               `json:"worker_count"`
	AllowSubdomains      bool              `json:"allow_subdomains"`
	IncludeChildPages    bool              `json:"include_child_pages"`
	ParallelKBs          int               `json:"parallel_kbs"`
	AutoDiscoverPrefixes bool              `json:"auto_discover_prefixes"`
}

type scopeSpecJSON struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	EntryURLs []string `json:"entry_urls"`
	Active    bool     `json:"active"`
	MaxDepth  int      `json:"max_depth,omitempty"`
}

func toScopeSpecs(in []scopeSpecJSON) []engine.ScopeSpec {
	out := make([]engine.ScopeSpec, len(in))
	for i, sc := range in {
		out[i] = engine.ScopeSpec{ID: sc.ID, Name: sc.Name, EntryURLs: sc.EntryURLs, Active: sc.Active, MaxDepth: sc.MaxDepth}
	}
	return out
}

func (s *Server) startMultiJob(w http.ResponseWriter, r *http.Request) {
	var req startMultiJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	schedulerID, err := s.deps.IDGen.NewJobID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate job id")
		return
	}

	params := engine.MultiJobParameters{
		Domain:               req.Domain,
		Scopes:               toScopeSpecs(req.Scopes),
		Mode:                 req.Mode,
		MaxDepth:             req.MaxDepth,
		WorkerCount:          req.WorkerCount,
		AllowSubdomains:      req.AllowSubdomains,
		IncludeChildPages:    req.IncludeChildPages,
		ParallelKBs:          req.ParallelKBs,
		AutoDiscoverPrefixes: req.AutoDiscoverPrefixes,
	}
	sch, err := scheduler.New(schedulerID, params, scheduler.Deps{
		Limiter:       s.deps.Limiter,
		Fetcher:       s.deps.Fetcher,
		Extractor:     s.deps.Extractor,
		Clock:         s.deps.Clock,
		Hub:           s.deps.Hub,
		RobotsFactory: s.deps.RobotsFactory,
		UserAgent:     s.deps.UserAgent,
		Logger:        s.deps.Logger,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.schedulers[schedulerID] = sch
	s.mu.Unlock()

	if err := sch.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"job_id": schedulerID, "scopes": sch.Scopes()}
	if warning := sch.OverlapWarning(); warning != "" {
		resp["overlapping_scopes"] = warning
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if j, ok := s.lookupJob(jobID); ok {
		writeJSON(w, http.StatusOK, j.Snapshot())
		return
	}
	if sch, ok := s.lookupScheduler(jobID); ok {
		writeJSON(w, http.StatusOK, sch.Snapshot())
		return
	}
	writeError(w, http.StatusNotFound, "job not found")
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if j, ok := s.lookupJob(jobID); ok {
		result, err := j.Result()
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	if sch, ok := s.lookupScheduler(jobID); ok {
		writeJSON(w, http.StatusOK, sch.Results())
		return
	}
	if s.deps.Store != nil {
		if result, err := s.deps.Store.Get(r.Context(), jobID); err == nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
	}
	writeError(w, http.StatusNotFound, "job not found")
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var snapshot engine.JobSnapshot
	if j, ok := s.lookupJob(jobID); ok {
		snapshot = j.Snapshot()
	} else if sch, ok := s.lookupScheduler(jobID); ok {
		multi := sch.Snapshot()
		snapshot = engine.JobSnapshot{JobID: jobID, State: multi.State, URLsDiscovered: multi.URLsDiscovered, URLsProcessed: multi.URLsProcessed}
	} else {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.deps.Hub.Subscribe(jobID, &snapshot, s.deps.Clock.Now())
	defer s.deps.Hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-sub.Events:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if j, ok := s.lookupJob(jobID); ok {
		j.Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
		return
	}
	if sch, ok := s.lookupScheduler(jobID); ok {
		sch.Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelling"})
		return
	}
	writeError(w, http.StatusNotFound, "job not found")
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	s.mu.Lock()
	_, hasJob := s.jobs[jobID]
	_, hasScheduler := s.schedulers[jobID]
	delete(s.jobs, jobID)
	delete(s.schedulers, jobID)
	s.mu.Unlock()

	if !hasJob && !hasScheduler {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Delete(r.Context(), jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to delete result")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookupJob(id string) (*job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Server) lookupScheduler(id string) (*scheduler.Scheduler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedulers[id]
	return sch, ok
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("recovered", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
