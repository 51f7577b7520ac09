// Package holding tracks per-user share balances and the per-purchase records
// behind them. Totals are a projection of completed ledger entries; listed
// sub-balances back marketplace listings and cannot be spent twice.
package holding

import (
	"context"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
)

// Holding is one user's share balances.
type Holding struct {
	UserID          string
	RegularTotal    int64
	CofounderTotal  int64
	ListedRegular   int64
	ListedCofounder int64
}

// RecordStatus is the lifecycle of a purchase record.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordReversed  RecordStatus = "reversed"
)

// Record is one completed acquisition attached to a ledger entry.
type Record struct {
	ID            string
	UserID        string
	EntryID       string
	ShareKind     ledger.ShareKind
	Shares        int64
	Tiers         [3]int64
	PricePerShare int64
	Currency      money.Currency
	Amount        int64
	Status        RecordStatus
	CreatedAt     time.Time
}

// Totals aggregates all user balances for invariant checks and dashboards.
type Totals struct {
	Regular   int64
	Cofounder int64
}

// Store reads holdings outside engine transactions.
type Store interface {
	Get(ctx context.Context, userID string) (Holding, error)
	Records(ctx context.Context, userID string, limit int) ([]Record, error)
	Totals(ctx context.Context) (Totals, error)
}

func (h *Holding) total(kind ledger.ShareKind) *int64 {
	if kind == ledger.ShareCofounder {
		return &h.CofounderTotal
	}
	return &h.RegularTotal
}

func (h *Holding) listed(kind ledger.ShareKind) *int64 {
	if kind == ledger.ShareCofounder {
		return &h.ListedCofounder
	}
	return &h.ListedRegular
}

// Unlisted is the spendable balance of one share kind.
func (h Holding) Unlisted(kind ledger.ShareKind) int64 {
	return *h.total(kind) - *h.listed(kind)
}

// Credit adds shares of the given kind.
func (h *Holding) Credit(kind ledger.ShareKind, n int64) {
	*h.total(kind) += n
}

// Debit removes unlisted shares; listed shares are pinned to their listing.
func (h *Holding) Debit(kind ledger.ShareKind, n int64) error {
	if h.Unlisted(kind) < n {
		return apperr.InsufficientShares(n, h.Unlisted(kind))
	}
	*h.total(kind) -= n
	return nil
}

// ReserveListed moves shares into the listed sub-balance.
func (h *Holding) ReserveListed(kind ledger.ShareKind, n int64) error {
	if h.Unlisted(kind) < n {
		return apperr.InsufficientShares(n, h.Unlisted(kind))
	}
	*h.listed(kind) += n
	return nil
}

// ReleaseListed returns listed shares to the spendable balance.
func (h *Holding) ReleaseListed(kind ledger.ShareKind, n int64) error {
	if *h.listed(kind) < n {
		return apperr.Internal("listed %s underflow releasing %d", kind, n)
	}
	*h.listed(kind) -= n
	return nil
}

// DebitListed removes shares that were pinned to a listing, consuming the
// reservation and the balance together (marketplace transfer completion).
func (h *Holding) DebitListed(kind ledger.ShareKind, n int64) error {
	if *h.listed(kind) < n || *h.total(kind) < n {
		return apperr.Internal("listed %s underflow transferring %d", kind, n)
	}
	*h.listed(kind) -= n
	*h.total(kind) -= n
	return nil
}
