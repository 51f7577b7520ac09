package audit

import (
	"context"
	"sync"
)

// MemoryStore is a concurrency-safe in-memory audit store for tests and
// DB-less development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) ByAdmin(_ context.Context, adminID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(e Entry) bool { return e.AdminID == adminID }), nil
}

func (s *MemoryStore) ByTargetUser(_ context.Context, userID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(limit, func(e Entry) bool { return e.TargetUser == userID }), nil
}

// All returns every entry in insertion order. Test helper.
func (s *MemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryStore) filter(limit int, keep func(Entry) bool) []Entry {
	max := clampLimit(limit)
	var out []Entry
	// newest first, matching the Postgres ordering
	for i := len(s.entries) - 1; i >= 0 && len(out) < max; i-- {
		if keep(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}
