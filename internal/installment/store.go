package installment

import (
	"context"
	"time"

	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// Store owns the transactional coupling between plans, the ledger, inventory
// and holdings. Admin actions on a plan take the same lock as a user payment.
type Store interface {
	// CreatePlan persists the plan and its schedule. Cofounder plans commit
	// their pool reservation in the same transaction; regular plans reserve
	// per payment.
	CreatePlan(ctx context.Context, plan Plan, items []Item, snap pricing.Snapshot) (Plan, error)

	Get(ctx context.Context, planID string) (Plan, []Item, error)
	ByUser(ctx context.Context, userID string) ([]Plan, error)
	// NonTerminalByUserKind returns the user's open plan of the kind, or
	// NOT_FOUND.
	NonTerminalByUserKind(ctx context.Context, userID string, kind ledger.ShareKind) (Plan, error)
	ByExternalRef(ctx context.Context, ref string) (Plan, Item, error)
	// ListSweepable returns plans in pending, active or late state.
	ListSweepable(ctx context.Context) ([]Plan, error)
	CountByState(ctx context.Context) (map[State]int64, error)

	// OpenPayment marks the item pending under the external reference.
	OpenPayment(ctx context.Context, planID string, index int, amount int64, method ledger.PaymentMethod, ref, proofHandle, txHash string) (Item, error)

	// ApplyPayment settles a pending item in one transaction: item completed,
	// plan totals and state advanced, due shares released (inventory commit
	// for regular plans, holding credit, holding record), and the completed
	// installment_payment entry appended. Applying a settled reference again
	// is a no-op with Applied=false.
	ApplyPayment(ctx context.Context, ref string, snap pricing.Snapshot, force bool, now time.Time) (PaymentOutcome, error)

	// FailPayment marks a pending item failed and reopens it for retry.
	FailPayment(ctx context.Context, ref string, now time.Time) (Item, error)

	// Unverify reverses a settled payment: reinstates the prior item
	// snapshot, rolls plan totals back, claws released shares out of the
	// holding and inventory, marks the source entry reversed and appends the
	// compensating admin_reversal entry.
	Unverify(ctx context.Context, ref, reason string, now time.Time) (UnverifyOutcome, error)

	// Cancel transitions the plan to cancelled. Released shares stay with the
	// buyer; a cofounder plan's unreleased pool reservation is reclaimed.
	Cancel(ctx context.Context, planID, reason string, now time.Time) (Plan, error)

	// SaveSweep persists late-fee and state changes computed by the sweep.
	SaveSweep(ctx context.Context, plan Plan) error
}

// paymentEntry builds the completed installment_payment ledger entry for one
// settled item.
func paymentEntry(plan Plan, item Item, deltaTiers [3]int64, released int64, force bool, now time.Time) ledger.Entry {
	entry := ledger.Entry{
		Kind:      ledger.KindInstallmentPayment,
		Status:    ledger.StatusCompleted,
		ActorUser: plan.UserID,
		Amount:    item.PaidAmount,
		Currency:  plan.Currency,
		Reference: item.ExternalRef,
		Metadata: ledger.Metadata{
			ShareKind:        plan.Kind,
			Quantity:         released,
			Tiers:            deltaTiers,
			Method:           item.Method,
			ProofHandle:      item.ProofHandle,
			TxHash:           item.TxHash,
			PlanID:           plan.ID,
			InstallmentIndex: item.Index,
			ConfigVersion:    plan.ConfigVersion,
		},
		CreatedAt: now.UTC(),
	}
	if force {
		entry.Metadata.Reason = "force_approved"
	}
	return entry
}

func releaseRecord(plan Plan, entryID string, released int64, deltaTiers [3]int64, now time.Time) holding.Record {
	pricePerShare := int64(0)
	if plan.TotalShares > 0 {
		pricePerShare = plan.TotalPrice / plan.TotalShares
	}
	return holding.Record{
		UserID:        plan.UserID,
		EntryID:       entryID,
		ShareKind:     plan.Kind,
		Shares:        released,
		Tiers:         deltaTiers,
		PricePerShare: pricePerShare,
		Currency:      plan.Currency,
		Amount:        released * pricePerShare,
		Status:        holding.RecordCompleted,
		CreatedAt:     now.UTC(),
	}
}
