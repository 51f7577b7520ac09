// Package market is the peer-to-peer resale venue: holders list shares, buyers
// make offers, and accepted offers settle through the payment rails into a
// holding-to-holding transfer on the ledger.
package market

import (
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/money"
)

// StuckWindow is how long an offer may sit in accepted or in_payment before
// the sweep surfaces it for admin review.
const StuckWindow = 48 * time.Hour

// ListingStatus is the listing lifecycle.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// Listing is shares offered for resale. SharesAvailable decrements as offers
// complete; the difference against SharesOffered is what already changed hands.
type Listing struct {
	ID              string
	SellerID        string
	Kind            ledger.ShareKind
	SharesOffered   int64
	SharesAvailable int64
	PricePerShare   int64
	Currency        money.Currency
	ExpiresAt       *time.Time
	Status          ListingStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the listing's window has passed.
func (l Listing) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// OfferStatus is the offer lifecycle. Completed, cancelled and disputed are
// terminal.
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferInPayment OfferStatus = "in_payment"
	OfferCompleted OfferStatus = "completed"
	OfferCancelled OfferStatus = "cancelled"
	OfferDisputed  OfferStatus = "disputed"
)

// Terminal reports whether the offer accepts no further transitions.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferCompleted, OfferCancelled, OfferDisputed:
		return true
	}
	return false
}

// Offer is one buyer's bid against a listing. Many pending offers may coexist;
// acceptance earmarks shares and payment settles the transfer.
type Offer struct {
	ID          string
	ListingID   string
	BuyerID     string
	SellerID    string
	Shares      int64
	Total       int64
	Currency    money.Currency
	Status      OfferStatus
	ExternalRef string
	Method      ledger.PaymentMethod
	TxHash      string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stuck reports whether the offer has been idle in accepted or in_payment
// beyond the review window.
func (o Offer) Stuck(now time.Time) bool {
	if o.Status != OfferAccepted && o.Status != OfferInPayment {
		return false
	}
	return now.Sub(o.UpdatedAt) > StuckWindow
}

// TransferOutcome reports one settled (or idempotently repeated) offer.
type TransferOutcome struct {
	Offer   Offer
	Listing Listing
	Entry   ledger.Entry
	// Applied is false when the offer was already settled.
	Applied bool
}

// AcceptOutcome reports an acceptance and the pending offers it displaced.
type AcceptOutcome struct {
	Offer    Offer
	Rejected []Offer
}
