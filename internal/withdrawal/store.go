package withdrawal

import (
	"context"
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
)

// Store persists withdrawal requests and restrictions. Settlement couples the
// request row to the ledger: completing a request appends its withdrawal_debit
// in the same transaction, refunding a bounced payout appends the
// withdrawal_refund that references it.
type Store interface {
	// CreateRequest inserts a pending request.
	CreateRequest(ctx context.Context, r Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	ByUser(ctx context.Context, userID string) ([]Request, error)

	// SumCompleted is the total amount of the user's completed requests.
	SumCompleted(ctx context.Context, userID string) (int64, error)
	// SumInFlight is the total amount of the user's pending and processing
	// requests. In-flight amounts reserve balance so a user cannot stack
	// requests past what they earned.
	SumInFlight(ctx context.Context, userID string) (int64, error)
	// CountToday counts the user's requests created on the same UTC day as
	// now, excluding failed and cancelled ones.
	CountToday(ctx context.Context, userID string, now time.Time) (int, error)

	// MarkProcessing moves a pending request to processing.
	MarkProcessing(ctx context.Context, id string, now time.Time) (Request, error)
	// Complete settles a processing request: the withdrawal_debit entry is
	// appended and the request completes in one transaction.
	Complete(ctx context.Context, id, providerRef string, now time.Time) (Outcome, error)
	// Fail closes a processing request without a ledger entry; nothing left
	// the balance yet.
	Fail(ctx context.Context, id, reason string, now time.Time) (Request, error)
	// RefundCompleted compensates a completed request whose provider payout
	// bounced after settlement: a withdrawal_refund entry referencing the
	// debit is appended and the request moves to failed.
	RefundCompleted(ctx context.Context, id, reason string, now time.Time) (Outcome, error)
	// Cancel closes a pending request at the user's ask.
	Cancel(ctx context.Context, id string, now time.Time) (Request, error)

	CountByStatus(ctx context.Context) (map[Status]int64, error)

	// Restriction returns the user's latest restriction record, or NotFound
	// when none was ever set.
	Restriction(ctx context.Context, userID string) (Restriction, error)
	SetRestriction(ctx context.Context, r Restriction) (Restriction, error)
	RestrictionsByUser(ctx context.Context, userID string) ([]Restriction, error)
}

// debitEntry is the completed ledger record of one settled payout. Withdrawals
// settle on the fiat rail.
func debitEntry(r Request, now time.Time) ledger.Entry {
	return ledger.Entry{
		Kind:      ledger.KindWithdrawalDebit,
		Status:    ledger.StatusCompleted,
		ActorUser: r.UserID,
		Amount:    r.Amount,
		Currency:  money.Fiat,
		Reference: r.ID,
		Metadata: ledger.Metadata{
			Method: ledger.PaymentMethod(r.Method),
		},
		CreatedAt: now.UTC(),
	}
}

// refundEntry compensates a settled debit whose provider payout later bounced.
func refundEntry(r Request, debit ledger.Entry, reason string, now time.Time) ledger.Entry {
	return ledger.Entry{
		Kind:        ledger.KindWithdrawalRefund,
		Status:      ledger.StatusCompleted,
		ActorUser:   r.UserID,
		Amount:      r.Amount,
		Currency:    debit.Currency,
		Reference:   r.ID,
		ParentEntry: debit.ID,
		Metadata: ledger.Metadata{
			Reason: reason,
		},
		CreatedAt: now.UTC(),
	}
}
