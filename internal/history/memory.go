package history

import (
	"context"
	"sort"
	"sync"
)

// DefaultMemoryCapacity is how many runs a MemoryStore keeps.
const DefaultMemoryCapacity = 100

// MemoryStore keeps the most recent runs in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	capacity int
}

// NewMemoryStore returns a store holding at most capacity runs.
// A capacity <= 0 uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{runs: make(map[string]*Run), capacity: capacity}
}

// Save stores a copy of run, evicting the oldest runs beyond capacity.
func (s *MemoryStore) Save(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	if len(s.runs) > s.capacity {
		sorted := s.sortedLocked()
		for _, old := range sorted[s.capacity:] {
			delete(s.runs, old.ID)
		}
	}
	return nil
}

// Get returns a copy of the run.
func (s *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// List returns copies of up to limit runs, newest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedLocked()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*Run, len(sorted))
	for i, r := range sorted {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *MemoryStore) sortedLocked() []*Run {
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs
}
