package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
)

// PrometheusSink exports crawl-engine progress metrics via the standard
// Prometheus client. It is safe for concurrent use.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	pagesFetched  *prometheus.CounterVec
	pageFailures  *prometheus.CounterVec
	jobRuntime    prometheus.Histogram
}

// NewPrometheusSink registers its collectors against reg (the process
// default registerer if nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polycrawl_jobs_started_total",
			Help: "Total Jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polycrawl_jobs_completed_total",
			Help: "Total Jobs reaching a terminal state, by state.",
		}, []string{"state"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polycrawl_pages_fetched_total",
			Help: "Pages fetched, partitioned by status.",
		}, []string{"status"}),
		pageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polycrawl_page_failures_total",
			Help: "Page-level failures, partitioned by failure type.",
		}, []string{"failure_type"}),
		jobRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polycrawl_job_runtime_seconds",
			Help:    "Wall time per terminal Job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.pagesFetched, s.pageFailures, s.jobRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypeInitialStatus:
		s.jobsStarted.Inc()
	case progress.TypePageComplete:
		s.handlePageComplete(evt)
	case progress.TypeJobCompleted:
		s.handleTerminal(evt, string(engine.JobCompleted))
	case progress.TypeJobFailed:
		s.handleTerminal(evt, string(engine.JobFailed))
	}
}

func (s *PrometheusSink) handlePageComplete(evt progress.Event) {
	if evt.Page == nil {
		return
	}
	s.pagesFetched.WithLabelValues(string(evt.Page.Status)).Inc()
	if evt.Page.Failure != nil {
		s.pageFailures.WithLabelValues(string(evt.Page.Failure.Type)).Inc()
	}
}

func (s *PrometheusSink) handleTerminal(evt progress.Event, state string) {
	if evt.Snapshot != nil && evt.Snapshot.State != "" {
		state = string(evt.Snapshot.State)
	}
	s.jobsCompleted.WithLabelValues(state).Inc()
	if evt.Snapshot != nil && evt.Snapshot.Timing.TotalMs > 0 {
		s.jobRuntime.Observe(float64(evt.Snapshot.Timing.TotalMs) / 1000)
	}
}

// Close implements progress.Sink; Prometheus collectors need no teardown.
func (s *PrometheusSink) Close(context.Context) error { return nil }
