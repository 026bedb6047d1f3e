// Package memory provides the default in-process Result Store.
package memory

import (
	"context"
	"sync"

	"github.com/arlobrandt/polycrawl/internal/engine"
	"github.com/arlobrandt/polycrawl/internal/store"
)

// Store is a map-backed store.ResultStore for development and for
// deployments that don't need results to survive a restart.
type Store struct {
	mu      sync.RWMutex
	results map[string]engine.CrawlResult
}

// New constructs an empty Store.
func New() *Store {
	return &Store{results: make(map[string]engine.CrawlResult)}
}

// Save implements store.ResultStore.
func (s *Store) Save(_ context.Context, result engine.CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID] = result
	return nil
}

// Get implements store.ResultStore.
func (s *Store) Get(_ context.Context, jobID string) (engine.CrawlResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return engine.CrawlResult{}, store.ErrNotFound
	}
	return result, nil
}

// Delete implements store.ResultStore.
func (s *Store) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[jobID]; !ok {
		return store.ErrNotFound
	}
	delete(s.results, jobID)
	return nil
}
