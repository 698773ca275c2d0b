// Package memory provides an in-memory checkpoint store, the default for
// tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kkkqkx123/open-agent-sub006/internal/core/checkpoint"
	"github.com/kkkqkx123/open-agent-sub006/internal/infrastructure/metrics"
)

// Store implements checkpoint.Store with per-thread maps guarded by a
// single RWMutex. All reads return clones so callers can never corrupt
// stored state by mutating a returned checkpoint.
type Store struct {
	mu      sync.RWMutex
	threads map[string]map[string]*checkpoint.Checkpoint
	order   map[string][]string // insertion order per thread, oldest first
	closed  bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		threads: make(map[string]map[string]*checkpoint.Checkpoint),
		order:   make(map[string][]string),
	}
}

// Save stores a clone of cp. In-process map assignment is atomic with
// respect to the lock, which satisfies the no-partial-write contract.
func (s *Store) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return checkpoint.ErrStorage
	}

	byID, ok := s.threads[cp.ThreadID]
	if !ok {
		byID = make(map[string]*checkpoint.Checkpoint)
		s.threads[cp.ThreadID] = byID
	}
	if _, exists := byID[cp.ID]; !exists {
		s.order[cp.ThreadID] = append(s.order[cp.ThreadID], cp.ID)
	}
	byID[cp.ID] = cp.Clone()
	metrics.IncCheckpointsSaved()
	return nil
}

// Get retrieves one checkpoint by coordinates.
func (s *Store) Get(_ context.Context, threadID, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.threads[threadID][id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	metrics.IncCheckpointsLoaded()
	return cp.Clone(), nil
}

// List returns a thread's checkpoints ordered by CreatedAt ascending.
// Insertion order breaks CreatedAt ties, keeping the sort stable for
// checkpoints created within the same clock tick.
func (s *Store) List(_ context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[threadID]
	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.threads[threadID][id]; ok {
			out = append(out, cp.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Latest returns the most recently created checkpoint of a thread.
func (s *Store) Latest(_ context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[threadID]
	if len(ids) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	var latest *checkpoint.Checkpoint
	for _, id := range ids {
		cp := s.threads[threadID][id]
		if cp == nil {
			continue
		}
		if latest == nil || !cp.CreatedAt.Before(latest.CreatedAt) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, checkpoint.ErrNotFound
	}
	return latest.Clone(), nil
}

// Delete removes a checkpoint. Retention/GC use only.
func (s *Store) Delete(_ context.Context, threadID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.threads[threadID]
	if !ok {
		return checkpoint.ErrNotFound
	}
	if _, ok := byID[id]; !ok {
		return checkpoint.ErrNotFound
	}
	delete(byID, id)
	ids := s.order[threadID]
	for i, existing := range ids {
		if existing == id {
			s.order[threadID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Count returns the number of checkpoints held for a thread, for
// monitoring and tests.
func (s *Store) Count(threadID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads[threadID])
}

// Close marks the store closed; later saves fail with ErrStorage.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
