package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MemoryStore keeps configuration versions in memory for tests and DB-less
// development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	versions []Snapshot
}

// NewMemoryStore creates an empty in-memory pricing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Current(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return Snapshot{}, apperr.NotFound("no pricing configuration")
	}
	return s.versions[len(s.versions)-1], nil
}

func (s *MemoryStore) ByVersion(_ context.Context, version int64) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.versions {
		if snap.Version == version {
			return snap, nil
		}
	}
	return Snapshot{}, apperr.NotFound("pricing version %d", version)
}

func (s *MemoryStore) Append(_ context.Context, snap Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Version = int64(len(s.versions) + 1)
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.versions = append(s.versions, snap)
	return snap, nil
}
