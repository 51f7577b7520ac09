// Package withdrawal pays out referral earnings. The spendable balance is
// derived from the ledger: completed commissions minus completed and in-flight
// withdrawals. Requests carry their fee and settle through a provider.
package withdrawal

import (
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
)

// Status is the request lifecycle. Completed, failed and cancelled are
// terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// InFlight reports whether the request still holds a balance reservation.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// Request is one payout. Amount is what leaves the balance; the user receives
// Amount minus Fee.
type Request struct {
	ID          string
	UserID      string
	Amount      int64
	Fee         int64
	Method      string
	Destination string
	Status      Status
	ProviderRef string
	FailReason  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RestrictionScope is how long a restriction binds.
type RestrictionScope string

const (
	ScopePermanent RestrictionScope = "permanent"
	ScopeTemporary RestrictionScope = "temporary"
)

// Restriction blocks a user's withdrawal requests, outright or for a window.
type Restriction struct {
	ID           string
	UserID       string
	IsRestricted bool
	Scope        RestrictionScope
	StartsAt     *time.Time
	EndsAt       *time.Time
	Reason       string
	CreatedBy    string
	CreatedAt    time.Time
}

// ActiveAt reports whether the restriction binds at the given instant.
func (r Restriction) ActiveAt(now time.Time) bool {
	if !r.IsRestricted {
		return false
	}
	if r.Scope == ScopePermanent {
		return true
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	return true
}

// Balance is the derived spendable position of one user.
type Balance struct {
	Earned    int64
	Withdrawn int64
	InFlight  int64
	Available int64
}

// Outcome reports a settled request together with its ledger entry.
type Outcome struct {
	Request Request
	Entry   ledger.Entry
}
