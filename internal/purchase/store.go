// Package purchase validates share purchase requests, reserves inventory and
// drives the pending-intent lifecycle of purchase ledger entries.
package purchase

import (
	"context"
	"time"

	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// Outcome reports the effect of a lifecycle transition.
type Outcome struct {
	Entry   ledger.Entry
	Holding holding.Holding
	// Reversal is the compensating entry appended by Reverse.
	Reversal ledger.Entry
	// Applied is false when the call was an idempotent repeat and nothing
	// changed.
	Applied bool
}

// Store owns the transactional coupling between the ledger, the inventory
// counters and holdings. Every method is one atomic unit: either all effects
// commit or none do.
type Store interface {
	// CreateIntent appends the pending purchase entry. The reservation is
	// recorded in the entry metadata and re-validated at completion.
	CreateIntent(ctx context.Context, entry ledger.Entry) (ledger.Entry, error)

	// Complete commits the reservation under the inventory lock, credits the
	// buyer's holding, appends the purchase record and completes the entry.
	// Completing an already-completed entry is a no-op with Applied=false.
	Complete(ctx context.Context, entryID string, snap pricing.Snapshot, now time.Time) (Outcome, error)

	// Fail transitions a pending intent to failed. Nothing was committed for
	// a pending intent, so there is nothing to release.
	Fail(ctx context.Context, entryID string, now time.Time) (ledger.Entry, error)

	// Reverse marks a completed purchase reversed, appends the compensating
	// admin_reversal entry and undoes the holding and inventory effects.
	Reverse(ctx context.Context, entryID, reason string, now time.Time) (Outcome, error)

	Entry(ctx context.Context, id string) (ledger.Entry, error)
	EntryByReference(ctx context.Context, reference string) (ledger.Entry, error)
}

// reservationFromEntry rebuilds the priced reservation a pending intent
// recorded, using the pricing snapshot pinned on the entry.
func reservationFromEntry(entry ledger.Entry, snap pricing.Snapshot) inventory.Reservation {
	res := inventory.Reservation{
		Kind:          entry.Metadata.ShareKind,
		Quantity:      entry.Metadata.Quantity,
		Tiers:         entry.Metadata.Tiers,
		Currency:      entry.Currency,
		Total:         entry.Amount,
		ConfigVersion: snap.Version,
	}
	for i := range res.UnitPrices {
		res.UnitPrices[i] = snap.TierPrice(i+1, entry.Currency)
	}
	return res
}

func recordFromEntry(entry ledger.Entry, now time.Time) holding.Record {
	pricePerShare := int64(0)
	if entry.Metadata.Quantity > 0 {
		pricePerShare = entry.Amount / entry.Metadata.Quantity
	}
	return holding.Record{
		UserID:        entry.ActorUser,
		EntryID:       entry.ID,
		ShareKind:     entry.Metadata.ShareKind,
		Shares:        entry.Metadata.Quantity,
		Tiers:         entry.Metadata.Tiers,
		PricePerShare: pricePerShare,
		Currency:      entry.Currency,
		Amount:        entry.Amount,
		Status:        holding.RecordCompleted,
		CreatedAt:     now.UTC(),
	}
}
