// Package memory implements an in-memory catalog store for tests and
// ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"mouser/internal/catalog/core"
)

var _ core.Store = (*Store)(nil)

// Store keeps entries in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]core.Entry
}

// New returns an empty store.
func New() *Store { return &Store{entries: make(map[string]core.Entry)} }

func (s *Store) Record(_ context.Context, e core.Entry) error {
	if e.ID == "" {
		return core.ErrMissingID
	}
	s.mu.Lock()
	s.entries[e.ID] = core.CloneEntry(e)
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return core.CloneEntry(e), nil
}

func (s *Store) List(_ context.Context) ([]core.Entry, error) {
	s.mu.RLock()
	out := make([]core.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, core.CloneEntry(e))
	}
	s.mu.RUnlock()
	core.SortEntries(out)
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}

func (s *Store) Close() error { return nil }
