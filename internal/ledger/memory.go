package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MemoryStore is a concurrency-safe in-memory ledger used by unit tests and
// DB-less development mode. Engine memory stores call the exported transition
// methods to mirror what their Postgres counterparts do inside a transaction.
type MemoryStore struct {
	mu      sync.RWMutex
	nextSeq int64
	entries map[string]*Entry
	order   []string
	byRef   map[string]string
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		byRef:   make(map[string]string),
	}
}

func refKey(kind Kind, reference string) string {
	return string(kind) + ":" + reference
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(entry)
}

func (s *MemoryStore) appendLocked(entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Reference == "" {
		entry.Reference = entry.ID
	}
	if existingID, ok := s.byRef[refKey(entry.Kind, entry.Reference)]; ok {
		return *s.entries[existingID], ErrDuplicateReference
	}
	s.nextSeq++
	entry.Seq = s.nextSeq
	stored := entry
	s.entries[entry.ID] = &stored
	s.order = append(s.order, entry.ID)
	s.byRef[refKey(entry.Kind, entry.Reference)] = entry.ID
	return stored, nil
}

// Complete transitions a pending entry to completed. Mirrors CompleteTx.
func (s *MemoryStore) Complete(id string, at time.Time) (Entry, error) {
	return s.transition(id, StatusPending, StatusCompleted, at)
}

// Fail transitions a pending entry to failed. Mirrors FailTx.
func (s *MemoryStore) Fail(id string, at time.Time) (Entry, error) {
	return s.transition(id, StatusPending, StatusFailed, at)
}

// MarkReversed flags a completed entry as reversed. Mirrors MarkReversedTx.
func (s *MemoryStore) MarkReversed(id string, at time.Time) (Entry, error) {
	return s.transition(id, StatusCompleted, StatusReversed, at)
}

func (s *MemoryStore) transition(id string, from, to Status, at time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, apperr.NotFound("ledger entry %s", id)
	}
	if entry.Status != from {
		return Entry{}, apperr.StateConflict("ledger entry %s is %s, expected %s", id, entry.Status, from)
	}
	entry.Status = to
	t := at.UTC()
	entry.CompletedAt = &t
	return *entry, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, apperr.NotFound("ledger entry %s", id)
	}
	return *entry, nil
}

// ByReference implements Store.
func (s *MemoryStore) ByReference(_ context.Context, kind Kind, reference string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[refKey(kind, reference)]
	if !ok {
		return Entry{}, apperr.NotFound("ledger entry %s/%s", kind, reference)
	}
	return *s.entries[id], nil
}

// ByUser implements Store.
func (s *MemoryStore) ByUser(_ context.Context, userID string, kinds []Kind, from, to time.Time, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := clampLimit(limit)
	var out []Entry
	for i := len(s.order) - 1; i >= 0 && len(out) < max; i-- {
		e := s.entries[s.order[i]]
		if e.ActorUser != userID {
			continue
		}
		if !matchKind(e.Kind, kinds) {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Children implements Store.
func (s *MemoryStore) Children(_ context.Context, parentID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.ParentEntry == parentID {
			out = append(out, *e)
		}
	}
	return out, nil
}

// ListCompleted implements Store.
func (s *MemoryStore) ListCompleted(_ context.Context, kinds []Kind, since time.Time, afterSeq int64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := clampLimit(limit)
	var out []Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.Status != StatusCompleted || !matchKind(e.Kind, kinds) {
			continue
		}
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, *e)
		if len(out) == max {
			break
		}
	}
	return out, nil
}

// All returns every entry ordered by sequence. Test and overview helper.
func (s *MemoryStore) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func matchKind(k Kind, kinds []Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
