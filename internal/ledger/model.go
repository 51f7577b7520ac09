// Package ledger is the append-only record of every value-changing event on
// the platform. All other financial state (inventory counters, holdings,
// referral stats, withdrawal balances) is a projection of this record and can
// be rebuilt from it.
package ledger

import (
	"time"

	"github.com/sharevest/sharevest/internal/money"
)

// Kind tags the business event an entry records.
type Kind string

const (
	KindPurchase            Kind = "purchase"
	KindInstallmentPayment  Kind = "installment_payment"
	KindReferralCommission  Kind = "referral_commission"
	KindWithdrawalDebit     Kind = "withdrawal_debit"
	KindWithdrawalRefund    Kind = "withdrawal_refund"
	KindMarketplaceTransfer Kind = "marketplace_transfer"
	KindAdminReversal       Kind = "admin_reversal"
)

// Status is the lifecycle of an entry. Purchase intents are appended pending
// and later complete or fail; every other kind is appended completed.
// Reversed marks an entry whose effect a later admin_reversal compensated.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReversed  Status = "reversed"
)

// ShareKind distinguishes the two share classes sold on the platform.
// "cofounder" is the single canonical spelling.
type ShareKind string

const (
	ShareRegular   ShareKind = "regular"
	ShareCofounder ShareKind = "cofounder"
)

// Valid reports whether k names a share class.
func (k ShareKind) Valid() bool {
	return k == ShareRegular || k == ShareCofounder
}

// PaymentMethod is how a buyer settles a purchase or installment payment.
type PaymentMethod string

const (
	MethodGateway    PaymentMethod = "gateway"
	MethodStablecoin PaymentMethod = "stablecoin"
	MethodManual     PaymentMethod = "manual"
)

// Valid reports whether m names a payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodGateway, MethodStablecoin, MethodManual:
		return true
	}
	return false
}

// Metadata carries the kind-specific payload of an entry. Fields are sparse;
// zero values are omitted from storage.
type Metadata struct {
	ShareKind        ShareKind     `json:"share_kind,omitempty"`
	Quantity         int64         `json:"quantity,omitempty"`
	Tiers            [3]int64      `json:"tiers,omitempty"`
	Method           PaymentMethod `json:"method,omitempty"`
	ProofHandle      string        `json:"proof_handle,omitempty"`
	TxHash           string        `json:"tx_hash,omitempty"`
	PlanID           string        `json:"plan_id,omitempty"`
	InstallmentIndex int           `json:"installment_index,omitempty"`
	Generation       int           `json:"generation,omitempty"`
	ListingID        string        `json:"listing_id,omitempty"`
	OfferID          string        `json:"offer_id,omitempty"`
	ConfigVersion    int64         `json:"config_version,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

// Entry is one immutable ledger record. Entries are globally ordered by Seq;
// compensations reference the entry they negate via ParentEntry rather than
// mutating it.
type Entry struct {
	ID               string
	Seq              int64
	Kind             Kind
	Status           Status
	ActorUser        string
	CounterpartyUser string
	Amount           int64
	Currency         money.Currency
	Reference        string
	ParentEntry      string
	Metadata         Metadata
	CreatedAt        time.Time
	CompletedAt      *time.Time
}
