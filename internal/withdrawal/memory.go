package withdrawal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/ledger"
)

// MemoryStore keeps requests and restrictions in maps over the shared
// in-memory ledger.
type MemoryStore struct {
	mu           sync.Mutex
	requests     map[string]Request
	order        []string
	restrictions map[string][]Restriction
	ledger       *ledger.MemoryStore
}

// NewMemoryStore wires a memory withdrawal store over the shared ledger.
func NewMemoryStore(led *ledger.MemoryStore) *MemoryStore {
	return &MemoryStore{
		requests:     make(map[string]Request),
		restrictions: make(map[string][]Restriction),
		ledger:       led,
	}
}

// CreateRequest implements Store.
func (s *MemoryStore) CreateRequest(_ context.Context, r Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.requests[r.ID] = r
	s.order = append(s.order, r.ID)
	return r, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return Request{}, apperr.NotFound("withdrawal %s", id)
	}
	return r, nil
}

// ByUser implements Store, newest first.
func (s *MemoryStore) ByUser(_ context.Context, userID string) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for i := len(s.order) - 1; i >= 0; i-- {
		if r := s.requests[s.order[i]]; r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// SumCompleted implements Store.
func (s *MemoryStore) SumCompleted(_ context.Context, userID string) (int64, error) {
	return s.sum(userID, func(st Status) bool { return st == StatusCompleted })
}

// SumInFlight implements Store.
func (s *MemoryStore) SumInFlight(_ context.Context, userID string) (int64, error) {
	return s.sum(userID, Status.InFlight)
}

func (s *MemoryStore) sum(userID string, match func(Status) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, r := range s.requests {
		if r.UserID == userID && match(r.Status) {
			total += r.Amount
		}
	}
	return total, nil
}

// CountToday implements Store.
func (s *MemoryStore) CountToday(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.UTC().Truncate(24 * time.Hour)
	count := 0
	for _, r := range s.requests {
		if r.UserID != userID {
			continue
		}
		if r.Status == StatusFailed || r.Status == StatusCancelled {
			continue
		}
		if r.CreatedAt.UTC().Truncate(24 * time.Hour).Equal(day) {
			count++
		}
	}
	return count, nil
}

// MarkProcessing implements Store.
func (s *MemoryStore) MarkProcessing(_ context.Context, id string, now time.Time) (Request, error) {
	return s.transition(id, StatusPending, StatusProcessing, "", now)
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, id, providerRef string, now time.Time) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getLocked(id)
	if err != nil {
		return Outcome{}, err
	}
	if r.Status != StatusProcessing {
		return Outcome{}, apperr.StateConflict("withdrawal %s is %s, expected processing", id, r.Status)
	}
	entry, err := s.ledger.Append(ctx, debitEntry(r, now))
	if err != nil {
		return Outcome{}, err
	}
	r.Status = StatusCompleted
	r.ProviderRef = providerRef
	r.UpdatedAt = now.UTC()
	s.requests[id] = r
	return Outcome{Request: r, Entry: entry}, nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, id, reason string, now time.Time) (Request, error) {
	return s.transition(id, StatusProcessing, StatusFailed, reason, now)
}

// RefundCompleted implements Store.
func (s *MemoryStore) RefundCompleted(ctx context.Context, id, reason string, now time.Time) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getLocked(id)
	if err != nil {
		return Outcome{}, err
	}
	if r.Status != StatusCompleted {
		return Outcome{}, apperr.StateConflict("withdrawal %s is %s, expected completed", id, r.Status)
	}
	debit, err := s.ledger.ByReference(ctx, ledger.KindWithdrawalDebit, r.ID)
	if err != nil {
		return Outcome{}, err
	}
	entry, err := s.ledger.Append(ctx, refundEntry(r, debit, reason, now))
	if err != nil {
		return Outcome{}, err
	}
	r.Status = StatusFailed
	r.FailReason = reason
	r.UpdatedAt = now.UTC()
	s.requests[id] = r
	return Outcome{Request: r, Entry: entry}, nil
}

// Cancel implements Store.
func (s *MemoryStore) Cancel(_ context.Context, id string, now time.Time) (Request, error) {
	return s.transition(id, StatusPending, StatusCancelled, "", now)
}

func (s *MemoryStore) transition(id string, from, to Status, reason string, now time.Time) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.getLocked(id)
	if err != nil {
		return Request{}, err
	}
	if r.Status != from {
		return Request{}, apperr.StateConflict("withdrawal %s is %s, expected %s", id, r.Status, from)
	}
	r.Status = to
	if reason != "" {
		r.FailReason = reason
	}
	r.UpdatedAt = now.UTC()
	s.requests[id] = r
	return r, nil
}

// CountByStatus implements Store.
func (s *MemoryStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int64)
	for _, r := range s.requests {
		out[r.Status]++
	}
	return out, nil
}

// Restriction implements Store.
func (s *MemoryStore) Restriction(_ context.Context, userID string) (Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.restrictions[userID]
	if len(history) == 0 {
		return Restriction{}, apperr.NotFound("no restriction for user %s", userID)
	}
	return history[len(history)-1], nil
}

// SetRestriction implements Store.
func (s *MemoryStore) SetRestriction(_ context.Context, r Restriction) (Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.restrictions[r.UserID] = append(s.restrictions[r.UserID], r)
	return r, nil
}

// RestrictionsByUser implements Store.
func (s *MemoryStore) RestrictionsByUser(_ context.Context, userID string) ([]Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.restrictions[userID]
	out := make([]Restriction, len(history))
	copy(out, history)
	return out, nil
}
