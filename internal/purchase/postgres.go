package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// PostgresStore runs purchase transitions inside pgx transactions so ledger,
// inventory and holding effects commit atomically.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed purchase store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateIntent implements Store.
func (s *PostgresStore) CreateIntent(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	var stored ledger.Entry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		stored, err = ledger.InsertTx(ctx, tx, entry)
		if errors.Is(err, ledger.ErrDuplicateReference) {
			return apperr.Duplicate("purchase reference %s already exists", entry.Reference)
		}
		return err
	})
	return stored, err
}

// Complete implements Store.
func (s *PostgresStore) Complete(ctx context.Context, entryID string, snap pricing.Snapshot, now time.Time) (Outcome, error) {
	var out Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entry, err := ledger.GetForUpdateTx(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if entry.Status == ledger.StatusCompleted {
			out = Outcome{Entry: entry, Applied: false}
			return nil
		}
		if entry.Status != ledger.StatusPending {
			return apperr.StateConflict("purchase %s is %s", entryID, entry.Status)
		}

		res := reservationFromEntry(entry, snap)
		counters, err := inventory.GetForUpdateTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := counters.Commit(res, snap); err != nil {
			return err
		}
		if err := inventory.SaveTx(ctx, tx, counters); err != nil {
			return err
		}

		h, err := holding.GetForUpdateTx(ctx, tx, entry.ActorUser)
		if err != nil {
			return err
		}
		h.Credit(res.Kind, res.Quantity)
		if err := holding.SaveTx(ctx, tx, h); err != nil {
			return err
		}
		if _, err := holding.InsertRecordTx(ctx, tx, recordFromEntry(entry, now)); err != nil {
			return err
		}

		completed, err := ledger.CompleteTx(ctx, tx, entryID, now)
		if err != nil {
			return err
		}
		out = Outcome{Entry: completed, Holding: h, Applied: true}
		return nil
	})
	return out, err
}

// Fail implements Store.
func (s *PostgresStore) Fail(ctx context.Context, entryID string, now time.Time) (ledger.Entry, error) {
	var entry ledger.Entry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = ledger.FailTx(ctx, tx, entryID, now)
		return err
	})
	return entry, err
}

// Reverse implements Store.
func (s *PostgresStore) Reverse(ctx context.Context, entryID, reason string, now time.Time) (Outcome, error) {
	var out Outcome
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		entry, err := ledger.MarkReversedTx(ctx, tx, entryID, now)
		if err != nil {
			return err
		}
		res := reservationFromEntry(entry, pricing.Snapshot{})

		h, err := holding.GetForUpdateTx(ctx, tx, entry.ActorUser)
		if err != nil {
			return err
		}
		if err := h.Debit(res.Kind, res.Quantity); err != nil {
			return err
		}
		if err := holding.SaveTx(ctx, tx, h); err != nil {
			return err
		}
		if err := holding.MarkRecordReversedTx(ctx, tx, entryID); err != nil {
			return err
		}

		counters, err := inventory.GetForUpdateTx(ctx, tx)
		if err != nil {
			return err
		}
		if err := counters.Release(res); err != nil {
			return err
		}
		if err := inventory.SaveTx(ctx, tx, counters); err != nil {
			return err
		}

		reversal, err := ledger.InsertTx(ctx, tx, ledger.Entry{
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
			return err
		}
		out = Outcome{Entry: entry, Holding: h, Reversal: reversal, Applied: true}
		return nil
	})
	return out, err
}

// Entry implements Store.
func (s *PostgresStore) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	return ledger.NewPostgresStore(s.db).Get(ctx, id)
}

// EntryByReference implements Store.
func (s *PostgresStore) EntryByReference(ctx context.Context, reference string) (ledger.Entry, error) {
	return ledger.NewPostgresStore(s.db).ByReference(ctx, ledger.KindPurchase, reference)
}
