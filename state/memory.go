package state

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and RowFlag-only
// deployments, where dedup state lives on the source rows themselves and
// nothing durable is needed between runs.
type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]int
	keys    map[string][]string // Insertion-ordered hashes per unit.
	seen    map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors: make(map[string]int),
		keys:    make(map[string][]string),
		seen:    make(map[string]map[string]struct{}),
	}
}

// GetCursor implements Store.
func (s *MemoryStore) GetCursor(_ context.Context, unit string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var position, ok = s.cursors[unit]
	return position, ok, nil
}

// PutCursor implements Store.
func (s *MemoryStore) PutCursor(_ context.Context, unit string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position > s.cursors[unit] {
		s.cursors[unit] = position
	}
	return nil
}

// AddKeys implements Store.
func (s *MemoryStore) AddKeys(_ context.Context, unit string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[unit] == nil {
		s.seen[unit] = make(map[string]struct{})
	}
	for _, h := range hashes {
		if _, ok := s.seen[unit][h]; ok {
			continue
		}
		s.seen[unit][h] = struct{}{}
		s.keys[unit] = append(s.keys[unit], h)
	}
	return nil
}

// HasKey implements Store.
func (s *MemoryStore) HasKey(_ context.Context, unit string, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var _, ok = s.seen[unit][hash]
	return ok, nil
}

// RecentKeys implements Store.
func (s *MemoryStore) RecentKeys(_ context.Context, unit string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all = s.keys[unit]
	var out []string
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
