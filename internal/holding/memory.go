package holding

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
)

// MemoryStore keeps holdings and records in memory for tests and DB-less
// development mode.
type MemoryStore struct {
	mu       sync.Mutex
	holdings map[string]Holding
	records  map[string]Record
	order    []string
}

// NewMemoryStore creates an empty in-memory holding store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[string]Holding),
		records:  make(map[string]Record),
	}
}

// Get implements Store. Unknown users read as zero holdings.
func (s *MemoryStore) Get(_ context.Context, userID string) (Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[userID]
	if !ok {
		return Holding{UserID: userID}, nil
	}
	return h, nil
}

// Update runs fn with exclusive access to one user's holding, mirroring the
// Postgres row lock. Changes are kept only when fn returns nil.
func (s *MemoryStore) Update(userID string, fn func(*Holding) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	working, ok := s.holdings[userID]
	if !ok {
		working = Holding{UserID: userID}
	}
	if err := fn(&working); err != nil {
		return err
	}
	s.holdings[userID] = working
	return nil
}

// UpdatePair locks two holdings for a transfer; lock order is by user id so
// concurrent transfers cannot deadlock. (With one store mutex ordering is
// moot, kept for parity with the Postgres store's sorted row locks.)
func (s *MemoryStore) UpdatePair(sellerID, buyerID string, fn func(seller, buyer *Holding) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller, ok := s.holdings[sellerID]
	if !ok {
		seller = Holding{UserID: sellerID}
	}
	buyer, ok := s.holdings[buyerID]
	if !ok {
		buyer = Holding{UserID: buyerID}
	}
	if err := fn(&seller, &buyer); err != nil {
		return err
	}
	s.holdings[sellerID] = seller
	s.holdings[buyerID] = buyer
	return nil
}

// InsertRecord appends a purchase record.
func (s *MemoryStore) InsertRecord(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.records[r.ID] = r
	s.order = append(s.order, r.ID)
	return r
}

// MarkRecordReversed flips the completed record attached to a ledger entry.
func (s *MemoryStore) MarkRecordReversed(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		r := s.records[id]
		if r.EntryID == entryID && r.Status == RecordCompleted {
			r.Status = RecordReversed
			s.records[id] = r
			return nil
		}
	}
	return apperr.NotFound("holding record for entry %s", entryID)
}

// Records implements Store, newest first.
func (s *MemoryStore) Records(_ context.Context, userID string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	var out []Record
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		if r := s.records[s.order[i]]; r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Totals implements Store.
func (s *MemoryStore) Totals(_ context.Context) (Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t Totals
	for _, h := range s.holdings {
		t.Regular += h.RegularTotal
		t.Cofounder += h.CofounderTotal
	}
	return t, nil
}
