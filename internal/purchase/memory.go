package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// MemoryStore composes the in-memory ledger, inventory and holding stores.
// One mutex inside each sub-store plus the transition guards on ledger
// entries give the same effective serialization the Postgres row locks do.
type MemoryStore struct {
	ledger   *ledger.MemoryStore
	counters *inventory.MemoryStore
	holdings *holding.MemoryStore
}

// NewMemoryStore wires a memory purchase store over shared sub-stores.
func NewMemoryStore(led *ledger.MemoryStore, counters *inventory.MemoryStore, holdings *holding.MemoryStore) *MemoryStore {
	return &MemoryStore{ledger: led, counters: counters, holdings: holdings}
}

// CreateIntent implements Store.
func (s *MemoryStore) CreateIntent(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	stored, err := s.ledger.Append(ctx, entry)
	if errors.Is(err, ledger.ErrDuplicateReference) {
		return stored, apperr.Duplicate("purchase reference %s already exists", entry.Reference)
	}
	return stored, err
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, entryID string, snap pricing.Snapshot, now time.Time) (Outcome, error) {
	entry, err := s.ledger.Get(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	if entry.Status == ledger.StatusCompleted {
		h, _ := s.holdings.Get(ctx, entry.ActorUser)
		return Outcome{Entry: entry, Holding: h, Applied: false}, nil
	}
	if entry.Status != ledger.StatusPending {
		return Outcome{}, apperr.StateConflict("purchase %s is %s", entryID, entry.Status)
	}

	res := reservationFromEntry(entry, snap)
	if err := s.counters.Update(func(c *inventory.Counters) error {
		return c.Commit(res, snap)
	}); err != nil {
		return Outcome{}, err
	}

	var updated holding.Holding
	if err := s.holdings.Update(entry.ActorUser, func(h *holding.Holding) error {
		h.Credit(res.Kind, res.Quantity)
		updated = *h
		return nil
	}); err != nil {
		return Outcome{}, err
	}
	s.holdings.InsertRecord(recordFromEntry(entry, now))

	completed, err := s.ledger.Complete(entryID, now)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: completed, Holding: updated, Applied: true}, nil
}

// Fail implements Store.
func (s *MemoryStore) Fail(_ context.Context, entryID string, now time.Time) (ledger.Entry, error) {
	return s.ledger.Fail(entryID, now)
}

// Reverse implements Store.
func (s *MemoryStore) Reverse(ctx context.Context, entryID, reason string, now time.Time) (Outcome, error) {
	entry, err := s.ledger.MarkReversed(entryID, now)
	if err != nil {
		return Outcome{}, err
	}

	snap := pricing.Snapshot{} // release needs only quantities, not prices
	res := reservationFromEntry(entry, snap)

	var updated holding.Holding
	if err := s.holdings.Update(entry.ActorUser, func(h *holding.Holding) error {
		if err := h.Debit(res.Kind, res.Quantity); err != nil {
			return err
		}
		updated = *h
		return nil
	}); err != nil {
		return Outcome{}, err
	}
	if err := s.holdings.MarkRecordReversed(entryID); err != nil {
		return Outcome{}, err
	}
	if err := s.counters.Update(func(c *inventory.Counters) error {
		return c.Release(res)
	}); err != nil {
		return Outcome{}, err
	}

	reversal, err := s.ledger.Append(ctx, ledger.Entry{
		Kind:        ledger.KindAdminReversal,
		Status:      ledger.StatusCompleted,
		ActorUser:   entry.ActorUser,
		Amount:      -entry.Amount,
		Currency:    entry.Currency,
		ParentEntry: entry.ID,
		Metadata: ledger.Metadata{
			ShareKind: entry.Metadata.ShareKind,
			Quantity:  entry.Metadata.Quantity,
			Tiers:     entry.Metadata.Tiers,
			Reason:    reason,
		},
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Entry: entry, Holding: updated, Reversal: reversal, Applied: true}, nil
}

// Entry implements Store.
func (s *MemoryStore) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	return s.ledger.Get(ctx, id)
}

// EntryByReference implements Store.
func (s *MemoryStore) EntryByReference(ctx context.Context, reference string) (ledger.Entry, error) {
	return s.ledger.ByReference(ctx, ledger.KindPurchase, reference)
}
