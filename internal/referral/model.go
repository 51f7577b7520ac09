// Package referral propagates commissions up to three referrer generations
// when purchases and installment payments complete. Inserts are idempotent on
// (beneficiary, referred_user, generation, source_entry_id, source_model);
// per-user stats are a materialized roll-up kept in the same transaction.
package referral

import (
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
)

// Status is the lifecycle of one commission.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusDuplicate  Status = "duplicate"
	StatusRolledBack Status = "rolled_back"
)

// Key is the idempotency key. At most one completed commission may exist per
// key; currency is deliberately not part of it.
type Key struct {
	Beneficiary   string
	ReferredUser  string
	Generation    int
	SourceEntryID string
	SourceModel   string
}

// Commission is one issued referral reward.
type Commission struct {
	ID             string
	Beneficiary    string
	ReferredUser   string
	Generation     int
	PurchaseType   ledger.ShareKind
	SourceEntryID  string
	SourceModel    string
	Amount         int64
	Currency       money.Currency
	Status         Status
	RateUsed       int64
	BaseAmount     int64
	CreatedAt      time.Time
	RolledBackAt   *time.Time
	RollbackReason string
}

// Key returns the commission's idempotency key.
func (c Commission) Key() Key {
	return Key{
		Beneficiary:   c.Beneficiary,
		ReferredUser:  c.ReferredUser,
		Generation:    c.Generation,
		SourceEntryID: c.SourceEntryID,
		SourceModel:   c.SourceModel,
	}
}

// GenStats is one generation's roll-up.
type GenStats struct {
	// Count is the number of distinct referred users with a completed
	// commission at this generation.
	Count int64 `json:"count"`
	// Earnings is the summed completed commission amounts.
	Earnings int64 `json:"earnings"`
}

// Stats is the per-beneficiary materialized view. It must equal the
// aggregation of completed commissions at all times.
type Stats struct {
	UserID        string      `json:"user_id"`
	Generations   [3]GenStats `json:"generations"`
	TotalEarnings int64       `json:"total_earnings"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// AuditReport summarizes one duplicate clean-up pass.
type AuditReport struct {
	GroupsFound     int
	MarkedDuplicate int
	AmountReclaimed int64
}
