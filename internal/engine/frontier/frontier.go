// Package frontier implements the Job's FIFO of pending URLs, its
// visited set, and the active-worker bookkeeping used to detect
// termination without racing, per §4.6 / §4.7.
package frontier

import (
	"sync"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/engine/normalize"
)

// Frontier is a single-lock FIFO queue plus visited set, scoped to one
// Job. TryAdmit is the sole place I3 and I4 are enforced.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	scope    engine.ScopePolicy
	maxDepth int

	queue   []engine.FrontierEntry
	visited map[string]struct{}

	depthHistogram map[int]int
	skippedOutOfScope int
	processed      int

	activeWorkers int
	drained       bool
}

// New builds an empty Frontier for the given scope and max depth.
func New(scope engine.ScopePolicy, maxDepth int) *Frontier {
	f := &Frontier{
		scope:          scope,
		maxDepth:       maxDepth,
		visited:        make(map[string]struct{}),
		depthHistogram: make(map[int]int),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// TryAdmit implements the atomic operation of §4.6.
func (f *Frontier) TryAdmit(rawURL string, depth int, parent string) engine.AdmitResult {
	u, err := normalize.Canonicalize(rawURL, nil)
	if err != nil {
		return engine.AdmitOutOfScope
	}
	canonical := u.String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if !normalize.Admits(f.scope, u) {
		f.skippedOutOfScope++
		return engine.AdmitOutOfScope
	}
	if _, seen := f.visited[canonical]; seen {
		return engine.AdmitDuplicate
	}
	if depth > f.maxDepth {
		return engine.AdmitTooDeep
	}

	f.visited[canonical] = struct{}{}
	scopeKey, _ := normalize.MatchPrefix(f.scope, u.Path)
	f.queue = append(f.queue, engine.FrontierEntry{
		URL:      canonical,
		Depth:    depth,
		Parent:   parent,
		ScopeKey: scopeKey,
	})
	f.cond.Broadcast()
	return engine.AdmitAdmitted
}

// Pop blocks until an entry is available or the Job has drained. The
// returned bool is false iff the Frontier has drained with no entry.
// Popping increments the active-worker counter; the caller must call
// Done once all child admissions for this entry have completed.
func (f *Frontier) Pop() (engine.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.drained {
			return engine.FrontierEntry{}, false
		}
		if len(f.queue) > 0 {
			entry := f.queue[0]
			f.queue = f.queue[1:]
			f.depthHistogram[entry.Depth]++
			f.activeWorkers++
			return entry, true
		}
		if f.activeWorkers == 0 {
			f.drained = true
			f.cond.Broadcast()
			return engine.FrontierEntry{}, false
		}
		f.cond.Wait()
	}
}

// Done marks the end of a worker's processing of the entry returned by
// Pop, including any child admissions. It decrements the active-worker
// counter and wakes any peer blocked in Pop so the drained check can be
// re-evaluated.
func (f *Frontier) Done() {
	f.mu.Lock()
	f.processed++
	f.activeWorkers--
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Stop forces Pop to return immediately with drained=true for every
// blocked and future caller, used on Job cancellation.
func (f *Frontier) Stop() {
	f.mu.Lock()
	f.drained = true
	f.queue = nil
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Stats is a read-only snapshot of the Frontier's bookkeeping counters.
type Stats struct {
	Discovered        int
	Processed         int
	SkippedOutOfScope int
	DepthHistogram    map[int]int
}

// Snapshot returns the Frontier's current counters.
func (f *Frontier) Snapshot() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	histogram := make(map[int]int, len(f.depthHistogram))
	for d, n := range f.depthHistogram {
		histogram[d] = n
	}
	return Stats{
		Discovered:        len(f.visited),
		Processed:         f.processed,
		SkippedOutOfScope: f.skippedOutOfScope,
		DepthHistogram:    histogram,
	}
}
