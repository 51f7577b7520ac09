package market

import (
	"context"
	"time"

	"github.com/sharevest/sharevest/internal/ledger"
)

// Store owns the transactional coupling between listings, offers, holdings and
// the ledger. Acceptance and settlement take the listing row lock so
// concurrent offers against the same shares serialize.
type Store interface {
	// CreateListing reserves the offered shares in the seller's listed
	// sub-balance and inserts the listing in one transaction.
	CreateListing(ctx context.Context, l Listing) (Listing, error)
	GetListing(ctx context.Context, id string) (Listing, error)
	ActiveListings(ctx context.Context, limit int) ([]Listing, error)
	ListingsBySeller(ctx context.Context, sellerID string) ([]Listing, error)
	// CancelListing releases the unsold reservation. Listings with an offer in
	// accepted or in_payment cannot be cancelled.
	CancelListing(ctx context.Context, listingID string, now time.Time) (Listing, error)
	CountListingsByStatus(ctx context.Context) (map[ListingStatus]int64, error)

	// CreateOffer inserts a pending offer. Many pending offers may coexist
	// against one listing; only acceptance earmarks shares.
	CreateOffer(ctx context.Context, o Offer) (Offer, error)
	GetOffer(ctx context.Context, id string) (Offer, error)
	OfferByRef(ctx context.Context, ref string) (Offer, error)
	OffersByListing(ctx context.Context, listingID string) ([]Offer, error)
	OffersByBuyer(ctx context.Context, buyerID string) ([]Offer, error)
	OffersBySeller(ctx context.Context, sellerID string) ([]Offer, error)

	// Accept transitions the offer to accepted and auto-rejects pending offers
	// that no longer fit the listing's unearmarked shares.
	Accept(ctx context.Context, offerID string, now time.Time) (AcceptOutcome, error)

	// StartPayment transitions an accepted offer to in_payment under the
	// external reference.
	StartPayment(ctx context.Context, offerID string, method ledger.PaymentMethod, ref, txHash string, now time.Time) (Offer, error)

	// CompleteByRef settles an in_payment offer in one transaction: shares move
	// seller to buyer, the marketplace_transfer entry is appended, the
	// listing's availability drops (sold at zero) and the offer completes.
	// Settling a completed reference again is a no-op with Applied=false.
	CompleteByRef(ctx context.Context, ref string, now time.Time) (TransferOutcome, error)

	// FailPayment returns an in_payment offer to accepted for retry.
	FailPayment(ctx context.Context, ref string, now time.Time) (Offer, error)

	// CancelOffer closes a pending or accepted offer.
	CancelOffer(ctx context.Context, offerID, reason string, now time.Time) (Offer, error)
	// Dispute flags an accepted or in_payment offer for resolution outside the
	// state machine.
	Dispute(ctx context.Context, offerID, reason string, now time.Time) (Offer, error)

	// ListStuck returns offers idle in accepted or in_payment beyond the
	// review window. No state changes.
	ListStuck(ctx context.Context, now time.Time) ([]Offer, error)
	CountOffersByStatus(ctx context.Context) (map[OfferStatus]int64, error)
}

// transferEntry builds the completed marketplace_transfer ledger entry for one
// settled offer.
func transferEntry(listing Listing, offer Offer, now time.Time) ledger.Entry {
	return ledger.Entry{
		Kind:             ledger.KindMarketplaceTransfer,
		Status:           ledger.StatusCompleted,
		ActorUser:        offer.BuyerID,
		CounterpartyUser: offer.SellerID,
		Amount:           offer.Total,
		Currency:         offer.Currency,
		Reference:        offer.ExternalRef,
		Metadata: ledger.Metadata{
			ShareKind: listing.Kind,
			Quantity:  offer.Shares,
			Method:    offer.Method,
			TxHash:    offer.TxHash,
			ListingID: listing.ID,
			OfferID:   offer.ID,
		},
		CreatedAt: now.UTC(),
	}
}
