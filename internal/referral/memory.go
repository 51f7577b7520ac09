package referral

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MemoryStore keeps commissions and roll-ups in memory for tests and DB-less
// development mode. Earnings are adjusted incrementally (clamped at zero);
// distinct counts are recomputed per mutation.
type MemoryStore struct {
	mu          sync.Mutex
	commissions map[string]Commission
	order       []string
	stats       map[string]Stats
}

// NewMemoryStore creates an empty in-memory referral store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commissions: make(map[string]Commission),
		stats:       make(map[string]Stats),
	}
}

// SaveCompleted implements Store.
func (s *MemoryStore) SaveCompleted(_ context.Context, c Commission) (Commission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Generation < 1 || c.Generation > 3 {
		return Commission{}, false, apperr.Validation("generation must be within [1,3]")
	}

	key := c.Key()
	for _, id := range s.order {
		existing := s.commissions[id]
		if existing.Key() != key {
			continue
		}
		switch existing.Status {
		case StatusCompleted, StatusDuplicate:
			return existing, false, nil
		case StatusPending:
			existing.Status = StatusCompleted
			s.commissions[id] = existing
			s.addToStats(existing)
			return existing, true, nil
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = StatusCompleted
	s.commissions[c.ID] = c
	s.order = append(s.order, c.ID)
	s.addToStats(c)
	return c, true, nil
}

// RollbackSource implements Store.
func (s *MemoryStore) RollbackSource(_ context.Context, sourceEntryID, reason string, now time.Time) ([]Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rolled []Commission
	at := now.UTC()
	for _, id := range s.order {
		c := s.commissions[id]
		if c.SourceEntryID != sourceEntryID || c.Status != StatusCompleted {
			continue
		}
		c.Status = StatusRolledBack
		c.RolledBackAt = &at
		c.RollbackReason = reason
		s.commissions[id] = c
		s.subFromStats(c)
		rolled = append(rolled, c)
	}
	return rolled, nil
}

// MarkDuplicate implements Store.
func (s *MemoryStore) MarkDuplicate(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commissions[id]
	if !ok {
		return apperr.NotFound("commission %s", id)
	}
	if c.Status != StatusCompleted {
		return apperr.StateConflict("commission %s is %s", id, c.Status)
	}
	at := now.UTC()
	c.Status = StatusDuplicate
	c.RolledBackAt = &at
	s.commissions[id] = c
	s.subFromStats(c)
	return nil
}

// BySource implements Store.
func (s *MemoryStore) BySource(_ context.Context, sourceEntryID string) ([]Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Commission
	for _, id := range s.order {
		if c := s.commissions[id]; c.SourceEntryID == sourceEntryID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ByBeneficiary implements Store, newest first.
func (s *MemoryStore) ByBeneficiary(_ context.Context, userID string, limit int) ([]Commission, error) {
	return s.filter(limit, func(c Commission) bool { return c.Beneficiary == userID })
}

// ByReferredUser implements Store, newest first.
func (s *MemoryStore) ByReferredUser(_ context.Context, userID string, limit int) ([]Commission, error) {
	return s.filter(limit, func(c Commission) bool { return c.ReferredUser == userID })
}

func (s *MemoryStore) filter(limit int, keep func(Commission) bool) ([]Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	var out []Commission
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if c := s.commissions[s.order[i]]; keep(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context, userID string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.stats[userID]
	if !ok {
		return Stats{UserID: userID}, nil
	}
	return stats, nil
}

// CompletedEarnings implements Store.
func (s *MemoryStore) CompletedEarnings(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, id := range s.order {
		if c := s.commissions[id]; c.Beneficiary == userID && c.Status == StatusCompleted {
			sum += c.Amount
		}
	}
	return sum, nil
}

// DuplicateGroups implements Store.
func (s *MemoryStore) DuplicateGroups(_ context.Context) ([][]Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := make(map[Key][]Commission)
	for _, id := range s.order {
		c := s.commissions[id]
		if c.Status == StatusCompleted {
			byKey[c.Key()] = append(byKey[c.Key()], c)
		}
	}
	var groups [][]Commission
	for _, group := range byKey {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.Before(group[j].CreatedAt) })
		groups = append(groups, group)
	}
	return groups, nil
}

// CountDuplicates implements Store.
func (s *MemoryStore) CountDuplicates(_ context.Context) (int64, error) {
	groups, _ := s.DuplicateGroups(context.Background())
	var n int64
	for _, g := range groups {
		n += int64(len(g) - 1)
	}
	return n, nil
}

func (s *MemoryStore) addToStats(c Commission) {
	stats := s.stats[c.Beneficiary]
	stats.UserID = c.Beneficiary
	stats.Generations[c.Generation-1].Earnings += c.Amount
	stats.TotalEarnings += c.Amount
	stats.Generations[c.Generation-1].Count = s.distinctReferred(c.Beneficiary, c.Generation)
	stats.UpdatedAt = time.Now().UTC()
	s.stats[c.Beneficiary] = stats
}

func (s *MemoryStore) subFromStats(c Commission) {
	stats := s.stats[c.Beneficiary]
	stats.UserID = c.Beneficiary
	stats.Generations[c.Generation-1].Earnings -= c.Amount
	if stats.Generations[c.Generation-1].Earnings < 0 {
		stats.Generations[c.Generation-1].Earnings = 0
	}
	stats.TotalEarnings -= c.Amount
	if stats.TotalEarnings < 0 {
		stats.TotalEarnings = 0
	}
	stats.Generations[c.Generation-1].Count = s.distinctReferred(c.Beneficiary, c.Generation)
	stats.UpdatedAt = time.Now().UTC()
	s.stats[c.Beneficiary] = stats
}

// distinctReferred recounts unique referred users with a completed commission
// to the beneficiary at the generation. Caller holds the lock.
func (s *MemoryStore) distinctReferred(beneficiary string, generation int) int64 {
	seen := make(map[string]bool)
	for _, id := range s.order {
		c := s.commissions[id]
		if c.Beneficiary == beneficiary && c.Generation == generation && c.Status == StatusCompleted {
			seen[c.ReferredUser] = true
		}
	}
	return int64(len(seen))
}
