package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
)

// Deps wires the market engine's collaborators.
type Deps struct {
	Store   Store
	Users   *identity.Service
	Gateway gateway.Gateway
	Chain   gateway.StablecoinVerifier
	Mailer  notification.Mailer
	Audits  *audit.Service
	Metrics *metrics.Set
	Logger  *slog.Logger
}

// Service drives listings and the offer state machine.
type Service struct {
	d Deps
}

// NewService builds a market service.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// ListInput opens a listing.
type ListInput struct {
	SellerID      string
	Kind          ledger.ShareKind
	Shares        int64
	PricePerShare int64
	Currency      money.Currency
	ExpiresAt     *time.Time
}

// List reserves the seller's shares and opens an active listing.
func (s *Service) List(ctx context.Context, in ListInput) (Listing, error) {
	if !in.Kind.Valid() {
		return Listing{}, apperr.Validation("unknown share kind %q", in.Kind)
	}
	if in.Shares <= 0 {
		return Listing{}, apperr.Validation("shares must be positive")
	}
	if in.PricePerShare <= 0 {
		return Listing{}, apperr.Validation("price per share must be positive")
	}
	if !in.Currency.Valid() {
		return Listing{}, apperr.Validation("unknown currency %q", in.Currency)
	}
	if _, err := s.d.Users.Get(ctx, in.SellerID); err != nil {
		return Listing{}, err
	}
	now := time.Now().UTC()
	listing, err := s.d.Store.CreateListing(ctx, Listing{
		SellerID:        in.SellerID,
		Kind:            in.Kind,
		SharesOffered:   in.Shares,
		SharesAvailable: in.Shares,
		PricePerShare:   in.PricePerShare,
		Currency:        in.Currency,
		ExpiresAt:       in.ExpiresAt,
		Status:          ListingActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Listing{}, err
	}
	s.d.Logger.Info("listing opened",
		slog.String("listing", listing.ID),
		slog.String("seller", in.SellerID),
		slog.String("kind", string(in.Kind)),
		slog.Int64("shares", in.Shares),
		slog.Int64("price_per_share", in.PricePerShare))
	return listing, nil
}

// Listings returns the active listings.
func (s *Service) Listings(ctx context.Context, limit int) ([]Listing, error) {
	return s.d.Store.ActiveListings(ctx, limit)
}

// Listing returns one listing with its offers, seller-scoped offers excluded
// for other callers.
func (s *Service) Listing(ctx context.Context, id string) (Listing, error) {
	return s.d.Store.GetListing(ctx, id)
}

// BySeller returns the seller's listings.
func (s *Service) BySeller(ctx context.Context, sellerID string) ([]Listing, error) {
	return s.d.Store.ListingsBySeller(ctx, sellerID)
}

// CancelListing closes the seller's listing and releases the unsold shares.
func (s *Service) CancelListing(ctx context.Context, sellerID, listingID string) (Listing, error) {
	l, err := s.d.Store.GetListing(ctx, listingID)
	if err != nil {
		return Listing{}, err
	}
	if l.SellerID != sellerID {
		return Listing{}, apperr.NotFound("listing %s", listingID)
	}
	return s.d.Store.CancelListing(ctx, listingID, time.Now())
}

// Offer opens a pending offer against a listing. Many offers may coexist
// until the seller accepts one.
func (s *Service) Offer(ctx context.Context, buyerID, listingID string, shares int64) (Offer, error) {
	if shares <= 0 {
		return Offer{}, apperr.Validation("shares must be positive")
	}
	l, err := s.d.Store.GetListing(ctx, listingID)
	if err != nil {
		return Offer{}, err
	}
	if l.SellerID == buyerID {
		return Offer{}, apperr.Validation("sellers cannot bid on their own listing")
	}
	if l.Expired(time.Now()) {
		return Offer{}, apperr.StateConflict("listing %s has expired", listingID)
	}
	if _, err := s.d.Users.Get(ctx, buyerID); err != nil {
		return Offer{}, err
	}
	now := time.Now().UTC()
	offer, err := s.d.Store.CreateOffer(ctx, Offer{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  l.SellerID,
		Shares:    shares,
		Total:     shares * l.PricePerShare,
		Currency:  l.Currency,
		Status:    OfferPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Offer{}, err
	}
	s.d.Logger.Info("offer opened",
		slog.String("offer", offer.ID),
		slog.String("listing", listingID),
		slog.String("buyer", buyerID),
		slog.Int64("shares", shares),
		slog.Int64("total", offer.Total))
	return offer, nil
}

// OffersForListing returns a listing's offers, seller only.
func (s *Service) OffersForListing(ctx context.Context, sellerID, listingID string) ([]Offer, error) {
	l, err := s.d.Store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.SellerID != sellerID {
		return nil, apperr.NotFound("listing %s", listingID)
	}
	return s.d.Store.OffersByListing(ctx, listingID)
}

// MyOffers returns the user's offers on both sides of the market.
func (s *Service) MyOffers(ctx context.Context, userID string) (asBuyer, asSeller []Offer, err error) {
	asBuyer, err = s.d.Store.OffersByBuyer(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	asSeller, err = s.d.Store.OffersBySeller(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return asBuyer, asSeller, nil
}

// Accept commits the seller to one offer. Pending offers that no longer fit
// the remaining shares are auto-rejected.
func (s *Service) Accept(ctx context.Context, sellerID, offerID string) (AcceptOutcome, error) {
	o, err := s.d.Store.GetOffer(ctx, offerID)
	if err != nil {
		return AcceptOutcome{}, err
	}
	if o.SellerID != sellerID {
		return AcceptOutcome{}, apperr.NotFound("offer %s", offerID)
	}
	out, err := s.d.Store.Accept(ctx, offerID, time.Now())
	if err != nil {
		return AcceptOutcome{}, err
	}
	s.d.Logger.Info("offer accepted",
		slog.String("offer", offerID),
		slog.Int("auto_rejected", len(out.Rejected)))
	s.notify(ctx, out.Offer.BuyerID, "Offer accepted",
		fmt.Sprintf("<p>Your offer for %d share(s) was accepted. Complete the payment to receive them.</p>", out.Offer.Shares))
	return out, nil
}

// CancelOffer closes a pending or accepted offer; either party may do it.
func (s *Service) CancelOffer(ctx context.Context, userID, offerID, reason string) (Offer, error) {
	o, err := s.d.Store.GetOffer(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return Offer{}, apperr.NotFound("offer %s", offerID)
	}
	return s.d.Store.CancelOffer(ctx, offerID, reason, time.Now())
}

// Dispute flags an accepted or in_payment offer for admin resolution.
func (s *Service) Dispute(ctx context.Context, userID, offerID, reason string) (Offer, error) {
	if reason == "" {
		return Offer{}, apperr.Validation("a dispute reason is required")
	}
	o, err := s.d.Store.GetOffer(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if o.BuyerID != userID && o.SellerID != userID {
		return Offer{}, apperr.NotFound("offer %s", offerID)
	}
	return s.d.Store.Dispute(ctx, offerID, reason, time.Now())
}

// PayInput opens the payment leg of an accepted offer.
type PayInput struct {
	BuyerID string
	OfferID string
	Method  ledger.PaymentMethod
	TxHash  string
}

// PayResult is an offer moved into payment.
type PayResult struct {
	Offer Offer
	// Payment is set for the gateway method.
	Payment *gateway.InitializeResult
}

// Pay moves an accepted offer into payment. Marketplace settlements go
// through the gateway or on-chain; there is no manual leg.
func (s *Service) Pay(ctx context.Context, in PayInput) (PayResult, error) {
	o, err := s.d.Store.GetOffer(ctx, in.OfferID)
	if err != nil {
		return PayResult{}, err
	}
	if o.BuyerID != in.BuyerID {
		return PayResult{}, apperr.NotFound("offer %s", in.OfferID)
	}

	ref, txHash := "", ""
	switch in.Method {
	case ledger.MethodGateway:
		ref = gateway.NewReference()
	case ledger.MethodStablecoin:
		if in.TxHash == "" {
			return PayResult{}, apperr.Validation("tx_hash is required for stablecoin payments")
		}
		ref = in.TxHash
		txHash = in.TxHash
	default:
		return PayResult{}, apperr.Validation("unsupported payment method %q", in.Method)
	}

	offer, err := s.d.Store.StartPayment(ctx, in.OfferID, in.Method, ref, txHash, time.Now())
	if err != nil {
		return PayResult{}, err
	}
	out := PayResult{Offer: offer}

	if in.Method == ledger.MethodGateway {
		buyer, err := s.d.Users.Get(ctx, in.BuyerID)
		if err != nil {
			return PayResult{}, err
		}
		payment, err := s.d.Gateway.Initialize(ctx, gateway.InitializeInput{
			Email:      buyer.Email,
			MinorUnits: offer.Total,
			Reference:  ref,
			Metadata:   map[string]string{"offer_id": offer.ID, "listing_id": offer.ListingID},
		})
		if err != nil {
			if _, failErr := s.d.Store.FailPayment(ctx, ref, time.Now()); failErr != nil {
				s.d.Logger.Error("failing offer after gateway error",
					slog.String("reference", ref), slog.String("error", failErr.Error()))
			}
			return PayResult{}, apperr.ExternalFailed("payment gateway rejected the initialization")
		}
		out.Payment = &payment
	}
	return out, nil
}

// Verify settles an offer payment by its external reference and transfers the
// shares. Verifying a settled reference returns the prior outcome.
func (s *Service) Verify(ctx context.Context, userID, ref string) (TransferOutcome, error) {
	o, err := s.d.Store.OfferByRef(ctx, ref)
	if err != nil {
		return TransferOutcome{}, err
	}
	if userID != "" && o.BuyerID != userID && o.SellerID != userID {
		return TransferOutcome{}, apperr.NotFound("offer reference %s", ref)
	}
	if o.Status == OfferCompleted {
		return s.d.Store.CompleteByRef(ctx, ref, time.Now())
	}

	switch o.Method {
	case ledger.MethodGateway:
		result, err := s.d.Gateway.Verify(ctx, ref)
		if err != nil {
			return TransferOutcome{}, err
		}
		switch result.Status {
		case gateway.VerifyPending:
			return TransferOutcome{Offer: o}, apperr.ExternalPending("payment is still processing")
		case gateway.VerifyFailed:
			return s.failPayment(ctx, ref, "gateway reported failure")
		}
		if result.MinorUnits < o.Total {
			return s.failPayment(ctx, ref, fmt.Sprintf("gateway amount %d below offer total %d", result.MinorUnits, o.Total))
		}
	case ledger.MethodStablecoin:
		result, err := s.d.Chain.VerifyTransfer(ctx, gateway.ChainCheck{TxHash: o.TxHash, Expected: o.Total})
		if err != nil {
			return TransferOutcome{}, err
		}
		if !result.Verified {
			if result.ActualAmount == 0 {
				return TransferOutcome{Offer: o}, apperr.ExternalPending("transfer not observed on chain yet")
			}
			return s.failPayment(ctx, ref, fmt.Sprintf("transfer amount %d below offer total %d", result.ActualAmount, o.Total))
		}
	default:
		return TransferOutcome{}, apperr.StateConflict("offer %s has no payment in flight", o.ID)
	}

	out, err := s.d.Store.CompleteByRef(ctx, ref, time.Now())
	if err != nil {
		return TransferOutcome{}, err
	}
	if out.Applied {
		s.d.Metrics.MarketTransfers.Inc()
		s.d.Logger.Info("marketplace transfer settled",
			slog.String("offer", out.Offer.ID),
			slog.String("listing", out.Listing.ID),
			slog.Int64("shares", out.Offer.Shares),
			slog.Int64("total", out.Offer.Total))
		s.notify(ctx, out.Offer.SellerID, "Shares sold",
			fmt.Sprintf("<p>%d share(s) from your listing transferred to the buyer.</p>", out.Offer.Shares))
	}
	return out, nil
}

// AdminCancelOffer closes any non-terminal offer with a reason and an audit
// trail; in_payment offers are released back through FailPayment first.
func (s *Service) AdminCancelOffer(ctx context.Context, actor audit.Actor, offerID, reason string) (Offer, error) {
	if reason == "" {
		return Offer{}, apperr.Validation("a cancellation reason is required")
	}
	before, err := s.d.Store.GetOffer(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	if before.Status == OfferInPayment {
		if _, err := s.d.Store.FailPayment(ctx, before.ExternalRef, time.Now()); err != nil {
			return Offer{}, err
		}
	}
	o, err := s.d.Store.CancelOffer(ctx, offerID, reason, time.Now())
	if err != nil {
		return Offer{}, err
	}
	if err := s.d.Audits.Record(ctx, actor, "market.cancel_offer", o.BuyerID, offerID, before, o); err != nil {
		return o, err
	}
	return o, nil
}

// Stuck returns the offers idle beyond the review window, for admin review.
// No state changes.
func (s *Service) Stuck(ctx context.Context, now time.Time) ([]Offer, error) {
	return s.d.Store.ListStuck(ctx, now)
}

// ListingCounts groups listings by status.
func (s *Service) ListingCounts(ctx context.Context) (map[ListingStatus]int64, error) {
	return s.d.Store.CountListingsByStatus(ctx)
}

// OfferCounts groups offers by status.
func (s *Service) OfferCounts(ctx context.Context) (map[OfferStatus]int64, error) {
	return s.d.Store.CountOffersByStatus(ctx)
}

// SweepStuck surfaces stuck offers on the periodic schedule.
func (s *Service) SweepStuck(ctx context.Context, now time.Time) ([]Offer, error) {
	stuck, err := s.d.Store.ListStuck(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, o := range stuck {
		s.d.Logger.Warn("stuck offer",
			slog.String("offer", o.ID),
			slog.String("status", string(o.Status)),
			slog.Time("updated_at", o.UpdatedAt))
	}
	s.d.Metrics.SweepRuns.WithLabelValues("market_stuck").Inc()
	return stuck, nil
}

func (s *Service) failPayment(ctx context.Context, ref, reason string) (TransferOutcome, error) {
	o, err := s.d.Store.FailPayment(ctx, ref, time.Now())
	if err != nil {
		return TransferOutcome{}, err
	}
	s.d.Logger.Info("offer payment failed",
		slog.String("reference", ref), slog.String("reason", reason))
	return TransferOutcome{Offer: o}, apperr.ExternalFailed("payment verification failed: %s", reason)
}

func (s *Service) notify(ctx context.Context, userID, subject, body string) {
	user, err := s.d.Users.Get(ctx, userID)
	if err != nil {
		return
	}
	if err := s.d.Mailer.Send(ctx, notification.Email{To: user.Email, Subject: subject, HTML: body}); err != nil {
		s.d.Logger.Warn("market email failed",
			slog.String("user", userID), slog.String("error", err.Error()))
	}
}
