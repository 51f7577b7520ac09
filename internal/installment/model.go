// Package installment drives the installment plan state machine: creation
// with a fixed tier breakdown, per-payment verification, proportional share
// release, late-fee accrual, default, and admin verify/unverify.
package installment

import (
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
)

// State is the plan lifecycle. Completed, cancelled and defaulted are
// terminal.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateLate      State = "late"
	StateCancelled State = "cancelled"
	StateDefaulted State = "defaulted"
)

// Terminal reports whether the state accepts no further payments.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateDefaulted:
		return true
	}
	return false
}

// ItemStatus is the lifecycle of one scheduled installment.
type ItemStatus string

const (
	ItemUpcoming  ItemStatus = "upcoming"
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// Plan is one installment purchase. TierBreakdown is fixed at creation and
// obeyed verbatim on every proportional release.
type Plan struct {
	ID             string
	UserID         string
	Kind           ledger.ShareKind
	TotalShares    int64
	TotalPrice     int64
	Currency       money.Currency
	Months         int
	MinDown        int64
	TierBreakdown  [3]int64
	State          State
	PaidAmount     int64
	ReleasedShares int64
	// ReleasedTiers tracks how much of each breakdown slot has been released.
	ReleasedTiers  [3]int64
	LateFeeAccrued int64
	MonthsLate     int
	ConfigVersion  int64
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastPaymentAt  *time.Time
}

// Remaining is the unpaid principal.
func (p Plan) Remaining() int64 {
	r := p.TotalPrice - p.PaidAmount
	if r < 0 {
		return 0
	}
	return r
}

// ReleaseTarget is the cumulative share count the paid fraction entitles the
// buyer to: floor(total_shares × paid / total_price).
func (p Plan) ReleaseTarget() int64 {
	if p.TotalPrice <= 0 {
		return 0
	}
	return money.Proportion(p.TotalShares, p.PaidAmount, p.TotalPrice)
}

// TiersForRelease distributes the cumulative release target over the plan's
// breakdown, filling slots in order, and returns the cumulative per-tier
// totals. The delta against ReleasedTiers is what a single release commits.
func (p Plan) TiersForRelease(cumulative int64) [3]int64 {
	var out [3]int64
	remaining := cumulative
	for i, slot := range p.TierBreakdown {
		take := money.Min(remaining, slot)
		out[i] = take
		remaining -= take
		if remaining == 0 {
			break
		}
	}
	return out
}

// Item is one scheduled installment. Nominal amounts are a guide; actual
// payments are flexible above the first-payment minimum.
type Item struct {
	PlanID        string
	Index         int
	DueDate       time.Time
	Nominal       int64
	PaidAmount    int64
	PaidAt        *time.Time
	Status        ItemStatus
	ExternalRef   string
	IsFirst       bool
	ForceApproved bool
	Method        ledger.PaymentMethod
	ProofHandle   string
	TxHash        string
}

// PaymentOutcome reports one applied (or idempotently repeated) payment.
type PaymentOutcome struct {
	Plan          Plan
	Item          Item
	Entry         ledger.Entry
	ReleasedDelta int64
	DeltaTiers    [3]int64
	// Applied is false when the payment was already settled.
	Applied bool
}

// UnverifyOutcome reports one reversed payment.
type UnverifyOutcome struct {
	Plan          Plan
	Item          Item
	Reversal      ledger.Entry
	ClawedShares  int64
	ClawedTiers   [3]int64
	SourceEntryID string
}

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	Scanned    int
	MarkedLate int
	Defaulted  int
	FeesLevied int64
}
