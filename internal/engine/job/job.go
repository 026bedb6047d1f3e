// Package job implements the single-scope Job: it binds a seed set,
// scope policy, mode and worker budget to one Frontier/Worker-Pool/
// Progress-Bus instance and owns that instance's lifecycle, per §4.9.
package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/frontier"
	"github.com/arlobrandt/polycrawl/internal/engine/normalize"
	"github.com/arlobrandt/polycrawl/internal/engine/progress"
)

// MinWorkers, MaxWorkers, MinDepth, MaxDepth are the clamps of §6.
const (
	MinWorkers = 2
	MaxWorkers = 10
	MinDepth   = 1
	MaxDepth   = 5
)

// Deps bundles the components a Job drives. Robots is per-Job (different
// scopes may use different user agents); RateLimiter, Fetcher and
// Extractor are expected to be shared across a Scheduler's Jobs.
type Deps struct {
	Robots    engine.RobotsCache
	Limiter   engine.RateLimiter
	Fetcher   engine.Fetcher
	Extractor engine.Extractor
	Clock     engine.Clock
	Hub       *progress.Hub
	UserAgent string
	Logger    *zap.Logger
}

// Job owns one Frontier, Visited, ScopePolicy, Robots cache, Rate
// Limiter, Fetcher, Extractor, Worker Pool, Progress Bus, and a
// cancellation flag.
type Job struct {
	id          string
	mode        engine.Mode
	maxDepth    int
	workerCount int
	scope       engine.ScopePolicy
	params      engine.JobParameters

	frontier *frontier.Frontier
	deps     Deps

	cancel context.CancelFunc
	ctx    context.Context

	mu         sync.Mutex
	state      engine.JobState
	pages      []engine.PageResult
	firstError string
	maxSeenDepth int
	startedAt  time.Time
	terminalAt time.Time

	discoveryDone int32 // atomic bool via CompareAndSwap
	discoveryMs   int64

	wg sync.WaitGroup
}

// New validates params and builds a pending Job. Validation follows §7:
// at least one seed URL must canonicalize and satisfy the scope policy.
// The ScopePolicy is derived from the first seed URL's host.
func New(id string, params engine.JobParameters, deps Deps) (*Job, error) {
	if len(params.SeedURLs) == 0 {
		return nil, fmt.Errorf("job: at least one seed url is required")
	}
	_, scope, err := deriveScope(params)
	if err != nil {
		return nil, err
	}
	return NewWithScope(id, params, scope, deps)
}

// NewWithScope builds a pending Job against an explicit ScopePolicy,
// bypassing host derivation. The Multi-Scope Scheduler uses this to hand
// each Job a scope with scheduler-computed allowed_path_prefixes.
func NewWithScope(id string, params engine.JobParameters, scope engine.ScopePolicy, deps Deps) (*Job, error) {
	if len(params.SeedURLs) == 0 {
		return nil, fmt.Errorf("job: at least one seed url is required")
	}
	if scope.PrimaryHost == "" {
		return nil, fmt.Errorf("job: scope policy requires a primary host")
	}
	workerCount := clamp(params.WorkerCount, MinWorkers, MaxWorkers)
	maxDepth := clamp(params.MaxDepth, MinDepth, MaxDepth)

	j := &Job{
		id:          id,
		mode:        defaultMode(params.Mode),
		maxDepth:    maxDepth,
		workerCount: workerCount,
		scope:       scope,
		params:      params,
		deps:        deps,
		state:       engine.JobPending,
		frontier:    frontier.New(scope, maxDepth),
	}
	return j, nil
}

func defaultMode(m engine.Mode) engine.Mode {
	if m == "" {
		return engine.ModeCrawlScrape
	}
	return m
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

// deriveScope canonicalizes the seed set and builds the ScopePolicy from
// the first seed's host, per §7's validation rule: at least one seed
// must canonicalize successfully and satisfy the scope policy.
func deriveScope(params engine.JobParameters) (string, engine.ScopePolicy, error) {
	var primary string
	for _, raw := range params.SeedURLs {
		u, err := normalize.Canonicalize(raw, nil)
		if err != nil {
			continue
		}
		primary = u.Host
		break
	}
	if primary == "" {
		return "", engine.ScopePolicy{}, fmt.Errorf("job: no seed url canonicalized successfully")
	}
	return primary, engine.ScopePolicy{
		PrimaryHost:       primary,
		AllowSubdomains:   params.AllowSubdomains,
		AdditionalHosts:   params.AllowedDomains,
		IncludeChildPages: params.IncludeChildPages,
	}, nil
}

// ID returns the Job's identifier.
func (j *Job) ID() string { return j.id }

// Start transitions pending → running, admits the seed URLs exactly
// once, and launches the worker pool in the background. Start returns
// once workers are launched; callers observe completion via Snapshot or
// the Progress Bus.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.state != engine.JobPending {
		j.mu.Unlock()
		return fmt.Errorf("job: start called in state %s", j.state)
	}
	j.state = engine.JobRunning
	j.startedAt = j.now()
	j.mu.Unlock()

	j.ctx, j.cancel = context.WithCancel(ctx)

	admitted := 0
	for _, raw := range j.params.SeedURLs {
		if j.frontier.TryAdmit(raw, 0, "") == engine.AdmitAdmitted {
			admitted++
		}
	}
	if admitted == 0 {
		j.finish(engine.JobFailed, "no seed url was admitted into scope")
		return fmt.Errorf("job: no seed url admitted into scope")
	}

	j.emitInitialStatus()

	for i := 0; i < j.workerCount; i++ {
		j.wg.Add(1)
		go j.runWorker(j.ctx, i)
	}
	go j.superviseCompletion()
	go j.tickStatusUpdates(j.ctx)

	return nil
}

// Cancel requests cancellation: in-flight pages complete, then workers
// stop; the Frontier is discarded.
func (j *Job) Cancel() {
	j.mu.Lock()
	state := j.state
	j.mu.Unlock()
	if state != engine.JobRunning {
		return
	}
	if j.cancel != nil {
		j.cancel()
	}
	j.frontier.Stop()
}

func (j *Job) superviseCompletion() {
	j.wg.Wait()
	if j.ctx.Err() != nil {
		j.finish(engine.JobCancelled, "")
		return
	}
	j.finish(engine.JobCompleted, "")
}

func (j *Job) finish(state engine.JobState, errText string) {
	j.mu.Lock()
	if j.state == engine.JobCompleted || j.state == engine.JobFailed || j.state == engine.JobCancelled {
		j.mu.Unlock()
		return
	}
	j.state = state
	j.firstError = errText
	j.terminalAt = j.now()
	j.mu.Unlock()

	if j.cancel != nil {
		j.cancel()
	}

	snapshot := j.Snapshot()
	result := j.buildResult()
	evtType := progress.TypeJobCompleted
	if state == engine.JobFailed {
		evtType = progress.TypeJobFailed
	}
	j.deps.Hub.Emit(progress.Event{Type: evtType, JobID: j.id, TS: j.now(), Snapshot: &snapshot, Result: &result})
}

func (j *Job) tickStatusUpdates(ctx context.Context) {
	ticker := time.NewTicker(750 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := j.Snapshot()
			if snapshot.State != engine.JobRunning {
				return
			}
			j.deps.Hub.Emit(progress.Event{Type: progress.TypeStatusUpdate, JobID: j.id, TS: j.now(), Snapshot: &snapshot})
		}
	}
}

func (j *Job) emitInitialStatus() {
	snapshot := j.Snapshot()
	j.deps.Hub.Emit(progress.Event{Type: progress.TypeInitialStatus, JobID: j.id, TS: j.now(), Snapshot: &snapshot})
}

func (j *Job) now() time.Time {
	if j.deps.Clock != nil {
		return j.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// Snapshot returns the Job's observable state, per §3's JobSnapshot.
func (j *Job) Snapshot() engine.JobSnapshot {
	stats := j.frontier.Snapshot()

	j.mu.Lock()
	state := j.state
	firstError := j.firstError
	maxDepth := j.maxSeenDepth
	startedAt := j.startedAt
	terminalAt := j.terminalAt
	var crawlingMs, scrapingMs int64
	for _, p := range j.pages {
		crawlingMs += p.Timing.CrawlMs
		scrapingMs += p.Timing.ScrapeMs
	}
	j.mu.Unlock()

	totalMs := int64(0)
	if !startedAt.IsZero() {
		end := terminalAt
		if end.IsZero() {
			end = j.now()
		}
		totalMs = end.Sub(startedAt).Milliseconds()
	}

	return engine.JobSnapshot{
		JobID:                 j.id,
		State:                 state,
		CurrentDepth:          maxDepth,
		URLsDiscovered:        stats.Discovered,
		URLsProcessed:         stats.Processed,
		URLsSkippedOutOfScope: stats.SkippedOutOfScope,
		URLsByDepth:           stats.DepthHistogram,
		Timing: engine.AggregateTiming{
			URLDiscoveryMs: atomic.LoadInt64(&j.discoveryMs),
			CrawlingMs:     crawlingMs,
			ScrapingMs:     scrapingMs,
			TotalMs:        totalMs,
		},
		FirstError: firstError,
	}
}

// Result returns the Job's CrawlResult. It is only meaningful once the
// Job has reached a terminal state.
func (j *Job) Result() (engine.CrawlResult, error) {
	j.mu.Lock()
	state := j.state
	j.mu.Unlock()
	if state != engine.JobCompleted && state != engine.JobFailed && state != engine.JobCancelled {
		return engine.CrawlResult{}, fmt.Errorf("job: result requested before terminal state (state=%s)", state)
	}
	return j.buildResult(), nil
}

func (j *Job) buildResult() engine.CrawlResult {
	snapshot := j.Snapshot()

	j.mu.Lock()
	pages := append([]engine.PageResult(nil), j.pages...)
	j.mu.Unlock()

	byDepth := map[int][]string{}
	for _, p := range pages {
		byDepth[p.Depth] = append(byDepth[p.Depth], p.URL)
	}
	var buckets []engine.DepthBucket
	for depth, urls := range byDepth {
		buckets = append(buckets, engine.DepthBucket{Depth: depth, URLs: urls})
	}

	return engine.CrawlResult{
		JobID:       j.id,
		Snapshot:    snapshot,
		URLsByDepth: buckets,
		Pages:       pages,
	}
}

func (j *Job) recordPage(page engine.PageResult) {
	j.mu.Lock()
	j.pages = append(j.pages, page)
	if page.Depth > j.maxSeenDepth {
		j.maxSeenDepth = page.Depth
	}
	j.mu.Unlock()

	j.noteDiscoveryComplete()

	snapshot := j.Snapshot()
	j.deps.Hub.Emit(progress.Event{Type: progress.TypePageComplete, JobID: j.id, TS: j.now(), Page: &page, Snapshot: &snapshot})
}

// noteDiscoveryComplete records url_discovery_ms the first time any page
// finishes processing, approximating "wall time from start until the
// Frontier first empties below the seed frontier": once the first entry
// has drained, discovery has handed off to steady-state crawling.
func (j *Job) noteDiscoveryComplete() {
	if !atomic.CompareAndSwapInt32(&j.discoveryDone, 0, 1) {
		return
	}
	j.mu.Lock()
	started := j.startedAt
	j.mu.Unlock()
	if started.IsZero() {
		return
	}
	atomic.StoreInt64(&j.discoveryMs, j.now().Sub(started).Milliseconds())
}
