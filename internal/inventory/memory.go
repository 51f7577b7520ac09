package inventory

import (
	"context"
	"sync"
)

// MemoryStore holds the counters behind a mutex for tests and DB-less
// development mode. Engine memory stores use Update to get the same
// serialization the Postgres row lock provides.
type MemoryStore struct {
	mu sync.Mutex
	c  Counters
}

// NewMemoryStore creates a zeroed in-memory inventory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Counters implements Store.
func (s *MemoryStore) Counters(_ context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c, nil
}

// Update runs fn with exclusive access to the counters. Changes are kept only
// when fn returns nil.
func (s *MemoryStore) Update(fn func(*Counters) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.c
	if err := fn(&working); err != nil {
		return err
	}
	s.c = working
	return nil
}
