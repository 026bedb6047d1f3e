// Package scheduler implements the Multi-Scope Scheduler of §4.10: it
// runs several path-prefix-scoped Jobs against one domain concurrently,
// sharing the Fetcher transport and per-host Rate Limiter across them.
package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/job"
	"github.com/arlobrandt/polycrawl/internal/engine/normalize"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
)

// MinParallelKBs, MaxParallelKBs are the clamps of §6.
const (
	MinParallelKBs = 1
	MaxParallelKBs = 5
)

// Deps bundles the components shared by every Job a Scheduler runs. The
// Rate Limiter and Fetcher are genuinely shared (polite crawling is a
// property of the target host, not the scope); RobotsFactory is called
// once per scope because robots decisions may depend on a scope's own
// user agent.
type Deps struct {
	Limiter       engine.RateLimiter
	Fetcher       engine.Fetcher
	Extractor     engine.Extractor
	Clock         engine.Clock
	Hub           *progress.Hub
	RobotsFactory func(userAgent string) engine.RobotsCache
	UserAgent     string
	Logger        *zap.Logger
}

// ScopeResult echoes one scope's derived prefixes alongside its Job ID,
// per §6's start_multi_job response contract.
type ScopeResult struct {
	ScopeID         string   `json:"scope_id"`
	JobID           string   `json:"job_id"`
	AllowedPrefixes []string `json:"allowed_prefixes"`
}

// Scheduler owns a fixed set of Jobs, one per active ScopeSpec, and
// aggregates their snapshots into a MultiJobSnapshot.
type Scheduler struct {
	id      string
	domain  string
	jobs    []*job.Job
	scopes  []ScopeResult
	overlap string

	parallelKBs int
	sem         chan struct{}

	mu    sync.Mutex
	state engine.JobState

	wg sync.WaitGroup
}

// New validates params, derives each active scope's ScopePolicy and
// builds one pending Job per scope. Overlapping path prefixes across
// scopes produce a warning but never block the Scheduler from running.
func New(id string, params engine.MultiJobParameters, deps Deps) (*Scheduler, error) {
	if params.Domain == "" {
		return nil, fmt.Errorf("scheduler: domain is required")
	}
	active := activeScopes(params.Scopes)
	if len(active) == 0 {
		return nil, fmt.Errorf("scheduler: at least one active scope is required")
	}
	for _, scope := range active {
		if scope.Name == "" {
			return nil, fmt.Errorf("scheduler: scope %s requires a non-empty name", scope.ID)
		}
	}

	prefixesByScope, err := derivePrefixes(active, params.Domain, params.AllowSubdomains, params.AutoDiscoverPrefixes)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		id:          id,
		domain:      params.Domain,
		parallelKBs: clamp(params.ParallelKBs, MinParallelKBs, MaxParallelKBs),
		state:       engine.JobPending,
	}
	s.sem = make(chan struct{}, s.parallelKBs)
	s.overlap = overlapWarning(prefixesByScope)

	for _, scope := range active {
		scopePolicy := engine.ScopePolicy{
			PrimaryHost:         params.Domain,
			AllowSubdomains:     params.AllowSubdomains,
			AllowedPathPrefixes: prefixesByScope[scope.ID],
			IncludeChildPages:   params.IncludeChildPages,
		}
		maxDepth := params.MaxDepth
		if scope.MaxDepth > 0 {
			maxDepth = scope.MaxDepth
		}
		jobParams := engine.JobParameters{
			SeedURLs:          scope.EntryURLs,
			Mode:              params.Mode,
			MaxDepth:          maxDepth,
			WorkerCount:       params.WorkerCount,
			AllowSubdomains:   params.AllowSubdomains,
			IncludeChildPages: params.IncludeChildPages,
		}
		jobID := fmt.Sprintf("%s-%s", id, scope.ID)
		jobDeps := job.Deps{
			Robots:    deps.robotsForScope(scope.ID),
			Limiter:   deps.Limiter,
			Fetcher:   deps.Fetcher,
			Extractor: deps.Extractor,
			Clock:     deps.Clock,
			Hub:       deps.Hub,
			UserAgent: deps.UserAgent,
			Logger:    deps.Logger,
		}
		j, err := job.NewWithScope(jobID, jobParams, scopePolicy, jobDeps)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scope %s: %w", scope.ID, err)
		}
		s.jobs = append(s.jobs, j)
		s.scopes = append(s.scopes, ScopeResult{ScopeID: scope.ID, JobID: jobID, AllowedPrefixes: prefixesByScope[scope.ID]})
	}
	return s, nil
}

func (d Deps) robotsForScope(scopeID string) engine.RobotsCache {
	if d.RobotsFactory == nil {
		return nil
	}
	return d.RobotsFactory(d.UserAgent)
}

// ID returns the Scheduler's identifier.
func (s *Scheduler) ID() string { return s.id }

// Scopes returns the per-scope prefix echo and Job IDs for the
// start_multi_job response.
func (s *Scheduler) Scopes() []ScopeResult { return s.scopes }

// OverlapWarning is non-empty when two or more scopes' allowed path
// prefixes overlap.
func (s *Scheduler) OverlapWarning() string { return s.overlap }

// Start launches every scope's Job, bounding concurrently-running Jobs
// at parallel_kbs via a semaphore.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.state = engine.JobRunning
	s.mu.Unlock()

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	go s.superviseCompletion()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *job.Job) {
	defer s.wg.Done()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.sem }()

	if err := j.Start(ctx); err != nil {
		return
	}
	for {
		snap := j.Snapshot()
		if snap.State == engine.JobCompleted || snap.State == engine.JobFailed || snap.State == engine.JobCancelled {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-waitTick():
		}
	}
}

func (s *Scheduler) superviseCompletion() {
	s.wg.Wait()
	s.mu.Lock()
	s.state = s.aggregateState()
	s.mu.Unlock()
}

func (s *Scheduler) aggregateState() engine.JobState {
	allCompleted := true
	anyFailed := false
	for _, j := range s.jobs {
		switch j.Snapshot().State {
		case engine.JobFailed:
			anyFailed = true
		case engine.JobCompleted:
		default:
			allCompleted = false
		}
	}
	if anyFailed {
		return engine.JobFailed
	}
	if allCompleted {
		return engine.JobCompleted
	}
	return engine.JobCancelled
}

// Cancel propagates cancellation to every scope's Job.
func (s *Scheduler) Cancel() {
	for _, j := range s.jobs {
		j.Cancel()
	}
}

// MultiJobSnapshot is the Scheduler's aggregated observable state: the
// sum of every Job's counters, plus the per-Job breakdown.
type MultiJobSnapshot struct {
	SchedulerID    string
	State          engine.JobState
	URLsDiscovered int
	URLsProcessed  int
	PerJob         map[string]engine.JobSnapshot
}

// Snapshot sums the per-Job snapshots and reports the Scheduler's
// terminal state, per §4.10: completed iff all Jobs completed, failed
// if any Job failed, otherwise cancelled.
func (s *Scheduler) Snapshot() MultiJobSnapshot {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	perJob := make(map[string]engine.JobSnapshot, len(s.jobs))
	totalDiscovered, totalProcessed := 0, 0
	for _, j := range s.jobs {
		snap := j.Snapshot()
		perJob[j.ID()] = snap
		totalDiscovered += snap.URLsDiscovered
		totalProcessed += snap.URLsProcessed
	}
	return MultiJobSnapshot{
		SchedulerID:    s.id,
		State:          state,
		URLsDiscovered: totalDiscovered,
		URLsProcessed:  totalProcessed,
		PerJob:         perJob,
	}
}

// Results returns every scope's CrawlResult, keyed by Job ID. Jobs that
// have not yet reached a terminal state are omitted.
func (s *Scheduler) Results() map[string]engine.CrawlResult {
	out := make(map[string]engine.CrawlResult, len(s.jobs))
	for _, j := range s.jobs {
		if result, err := j.Result(); err == nil {
			out[j.ID()] = result
		}
	}
	return out
}

func activeScopes(scopes []engine.ScopeSpec) []engine.ScopeSpec {
	var active []engine.ScopeSpec
	for _, sc := range scopes {
		if sc.Active {
			active = append(active, sc)
		}
	}
	return active
}

// derivePrefixes computes each scope's allowed_path_prefixes from its
// entry URLs: the directory component of each entry. With auto-discovery
// requested, DiscoverPrefixes is called without anchor observations, so
// the set is not extended beyond the entry directories (it is returned
// sorted). Every entry URL must canonicalize and
// resolve under the declared base domain, per §7; a wrong-host entry is
// rejected here rather than silently dropped and discovered later via
// admitted==0.
func derivePrefixes(scopes []engine.ScopeSpec, domain string, allowSubdomains, autoDiscover bool) (map[string][]string, error) {
	out := make(map[string][]string, len(scopes))
	for _, sc := range scopes {
		var entries []*url.URL
		for _, raw := range sc.EntryURLs {
			u, err := normalize.Canonicalize(raw, nil)
			if err != nil {
				return nil, fmt.Errorf("scheduler: scope %s: entry url %q did not canonicalize: %w", sc.ID, raw, err)
			}
			if !hostMatchesDomain(u.Host, domain, allowSubdomains) {
				return nil, fmt.Errorf("scheduler: scope %s: entry url %q does not resolve under base domain %q", sc.ID, raw, domain)
			}
			entries = append(entries, u)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("scheduler: scope %s has no canonicalizable entry urls", sc.ID)
		}
		if autoDiscover {
			out[sc.ID] = normalize.DiscoverPrefixes(entries, nil)
		} else {
			seen := map[string]struct{}{}
			var prefixes []string
			for _, e := range entries {
				dir := normalize.DirectoryPrefix(e)
				if _, ok := seen[dir]; !ok {
					seen[dir] = struct{}{}
					prefixes = append(prefixes, dir)
				}
			}
			out[sc.ID] = prefixes
		}
	}
	return out, nil
}

// overlapWarning reports whether any two scopes' prefix sets overlap,
// per §4.10: the Scheduler still runs them, but surfaces the warning so
// callers know the same URL may be fetched under more than one scope.
func overlapWarning(byScope map[string][]string) string {
	var ids []string
	for id := range byScope {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var overlapping []string
	for i := 0; i < len(ids); i++ {
		for k := i + 1; k < len(ids); k++ {
			if prefixSetsOverlap(byScope[ids[i]], byScope[ids[k]]) {
				overlapping = append(overlapping, fmt.Sprintf("%s/%s", ids[i], ids[k]))
			}
		}
	}
	if len(overlapping) == 0 {
		return ""
	}
	return fmt.Sprintf("overlapping_scopes: %s", strings.Join(overlapping, ", "))
}

func hostMatchesDomain(host, domain string, allowSubdomains bool) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	if host == domain {
		return true
	}
	return allowSubdomains && normalize.IsSubdomainOf(host, domain)
}

func prefixSetsOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa) {
				return true
			}
		}
	}
	return false
}

func waitTick() <-chan time.Time {
	return time.After(50 * time.Millisecond)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
