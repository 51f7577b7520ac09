package market

import (
	"context"
	"testing"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/logging"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
)

type fixture struct {
	svc      *Service
	ledger   *ledger.MemoryStore
	holdings *holding.MemoryStore
	gw       *gateway.StaticGateway
	chain    *gateway.StaticVerifier
	users    *identity.Service
	audits   *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	audits := audit.NewMemoryStore()
	led := ledger.NewMemoryStore()
	holdings := holding.NewMemoryStore()
	users := identity.NewService(identity.NewMemoryRepository())
	gw := gateway.NewStaticGateway()
	chain := gateway.NewStaticVerifier()

	svc := NewService(Deps{
		Store:   NewMemoryStore(led, holdings),
		Users:   users,
		Gateway: gw,
		Chain:   chain,
		Mailer:  notification.NewLoggerMailer(logger),
		Audits:  audit.NewService(audits, logger),
		Metrics: metrics.Nop(),
		Logger:  logger,
	})
	return &fixture{svc: svc, ledger: led, holdings: holdings, gw: gw, chain: chain, users: users, audits: audits}
}

func (f *fixture) register(t *testing.T, email string, shares int64) identity.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), identity.Credentials{
		Name:     "trader",
		Email:    email,
		Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if shares > 0 {
		if err := f.holdings.Update(u.ID, func(h *holding.Holding) error {
			h.Credit(ledger.ShareRegular, shares)
			return nil
		}); err != nil {
			t.Fatalf("seed holding: %v", err)
		}
	}
	return u
}

func (f *fixture) list(t *testing.T, sellerID string, shares, price int64) Listing {
	t.Helper()
	l, err := f.svc.List(context.Background(), ListInput{
		SellerID:      sellerID,
		Kind:          ledger.ShareRegular,
		Shares:        shares,
		PricePerShare: price,
		Currency:      money.Fiat,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return l
}

func (f *fixture) settle(t *testing.T, buyerID, offerID string) TransferOutcome {
	t.Helper()
	res, err := f.svc.Pay(context.Background(), PayInput{
		BuyerID: buyerID,
		OfferID: offerID,
		Method:  ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	out, err := f.svc.Verify(context.Background(), buyerID, res.Offer.ExternalRef)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return out
}

func TestListingReservesShares(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 10)
	ctx := context.Background()

	f.list(t, seller.ID, 6, 1_000)
	h, _ := f.holdings.Get(ctx, seller.ID)
	if h.ListedRegular != 6 || h.Unlisted(ledger.ShareRegular) != 4 {
		t.Fatalf("holding %+v", h)
	}

	// The remaining 4 unlisted shares do not cover another 5-share listing.
	_, err := f.svc.List(ctx, ListInput{
		SellerID:      seller.ID,
		Kind:          ledger.ShareRegular,
		Shares:        5,
		PricePerShare: 1_000,
		Currency:      money.Fiat,
	})
	if !apperr.IsCode(err, apperr.CodeInsufficientShares) {
		t.Fatalf("expected INSUFFICIENT_SHARES, got %v", err)
	}
}

func TestOfferSettlementTransfersShares(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 10)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 10, 1_000)
	offer, err := f.svc.Offer(ctx, buyer.ID, listing.ID, 4)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if offer.Total != 4_000 {
		t.Fatalf("total = %d", offer.Total)
	}
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	out := f.settle(t, buyer.ID, offer.ID)
	if !out.Applied || out.Offer.Status != OfferCompleted {
		t.Fatalf("outcome %+v", out)
	}
	if out.Entry.Kind != ledger.KindMarketplaceTransfer || out.Entry.Amount != 4_000 {
		t.Fatalf("entry %+v", out.Entry)
	}
	if out.Entry.ActorUser != buyer.ID || out.Entry.CounterpartyUser != seller.ID {
		t.Fatalf("entry parties %+v", out.Entry)
	}

	sellerH, _ := f.holdings.Get(ctx, seller.ID)
	buyerH, _ := f.holdings.Get(ctx, buyer.ID)
	if sellerH.RegularTotal != 6 || sellerH.ListedRegular != 6 {
		t.Fatalf("seller holding %+v", sellerH)
	}
	if buyerH.RegularTotal != 4 {
		t.Fatalf("buyer holding %+v", buyerH)
	}
	if out.Listing.SharesAvailable != 6 || out.Listing.Status != ListingActive {
		t.Fatalf("listing %+v", out.Listing)
	}

	// Verifying the same reference again changes nothing.
	again, err := f.svc.Verify(ctx, buyer.ID, out.Offer.ExternalRef)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Applied {
		t.Fatal("second verify applied effects")
	}
	buyerH, _ = f.holdings.Get(ctx, buyer.ID)
	if buyerH.RegularTotal != 4 {
		t.Fatalf("buyer holding after second verify %+v", buyerH)
	}
}

func TestAcceptAutoRejectsOversizeOffers(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 10)
	b1 := f.register(t, "b1@example.com", 0)
	b2 := f.register(t, "b2@example.com", 0)
	b3 := f.register(t, "b3@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 10, 1_000)
	offerA, _ := f.svc.Offer(ctx, b1.ID, listing.ID, 6)
	offerB, _ := f.svc.Offer(ctx, b2.ID, listing.ID, 5)
	offerC, _ := f.svc.Offer(ctx, b3.ID, listing.ID, 4)

	out, err := f.svc.Accept(ctx, seller.ID, offerA.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	// 4 shares remain unearmarked: the 5-share offer no longer fits, the
	// 4-share offer still does.
	if len(out.Rejected) != 1 || out.Rejected[0].ID != offerB.ID {
		t.Fatalf("rejected %+v", out.Rejected)
	}
	b, _ := f.svc.d.Store.GetOffer(ctx, offerB.ID)
	if b.Status != OfferCancelled {
		t.Fatalf("offer B %+v", b)
	}
	c, _ := f.svc.d.Store.GetOffer(ctx, offerC.ID)
	if c.Status != OfferPending {
		t.Fatalf("offer C %+v", c)
	}
}

func TestListingSoldAtZero(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 3)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 3, 500)
	offer, _ := f.svc.Offer(ctx, buyer.ID, listing.ID, 3)
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	out := f.settle(t, buyer.ID, offer.ID)
	if out.Listing.Status != ListingSold || out.Listing.SharesAvailable != 0 {
		t.Fatalf("listing %+v", out.Listing)
	}

	late := f.register(t, "late@example.com", 0)
	if _, err := f.svc.Offer(ctx, late.ID, listing.ID, 1); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT on sold listing, got %v", err)
	}
}

func TestStuckOfferSurfacedWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 5)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 5, 1_000)
	offer, _ := f.svc.Offer(ctx, buyer.ID, listing.ID, 2)
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Pay(ctx, PayInput{BuyerID: buyer.ID, OfferID: offer.ID, Method: ledger.MethodGateway}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	// 47 hours idle: not yet stuck.
	stuck, err := f.svc.SweepStuck(ctx, time.Now().Add(47*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("stuck at 47h: %+v", stuck)
	}

	// 49 hours idle in in_payment: surfaced, state untouched.
	stuck, err = f.svc.SweepStuck(ctx, time.Now().Add(49*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != offer.ID {
		t.Fatalf("stuck at 49h: %+v", stuck)
	}
	o, _ := f.svc.d.Store.GetOffer(ctx, offer.ID)
	if o.Status != OfferInPayment {
		t.Fatalf("sweep changed state: %+v", o)
	}
}

func TestSellerCannotBidOwnListing(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 5)
	listing := f.list(t, seller.ID, 5, 1_000)

	_, err := f.svc.Offer(context.Background(), seller.ID, listing.ID, 1)
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestCancelListingReleasesShares(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 8)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 8, 1_000)
	if _, err := f.svc.CancelListing(ctx, seller.ID, listing.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	h, _ := f.holdings.Get(ctx, seller.ID)
	if h.ListedRegular != 0 || h.RegularTotal != 8 {
		t.Fatalf("holding after cancel %+v", h)
	}

	// A listing with a committed offer cannot be cancelled.
	second := f.list(t, seller.ID, 8, 1_000)
	offer, _ := f.svc.Offer(ctx, buyer.ID, second.ID, 2)
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.CancelListing(ctx, seller.ID, second.ID); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestStablecoinOfferSettlement(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 5)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing, err := f.svc.List(ctx, ListInput{
		SellerID:      seller.ID,
		Kind:          ledger.ShareRegular,
		Shares:        5,
		PricePerShare: 100,
		Currency:      money.Stable,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	offer, _ := f.svc.Offer(ctx, buyer.ID, listing.ID, 3)
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Pay(ctx, PayInput{
		BuyerID: buyer.ID, OfferID: offer.ID, Method: ledger.MethodStablecoin, TxHash: "0xoffer",
	}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	if _, err := f.svc.Verify(ctx, buyer.ID, "0xoffer"); !apperr.IsCode(err, apperr.CodeExternalPending) {
		t.Fatalf("expected EXTERNAL_PENDING, got %v", err)
	}
	f.chain.Register("0xoffer", 300)
	out, err := f.svc.Verify(ctx, buyer.ID, "0xoffer")
	if err != nil || !out.Applied {
		t.Fatalf("verify: %v %+v", err, out)
	}
	buyerH, _ := f.holdings.Get(ctx, buyer.ID)
	if buyerH.RegularTotal != 3 {
		t.Fatalf("buyer holding %+v", buyerH)
	}
}

func TestAdminCancelInPaymentOffer(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", 5)
	buyer := f.register(t, "buyer@example.com", 0)
	ctx := context.Background()

	listing := f.list(t, seller.ID, 5, 1_000)
	offer, _ := f.svc.Offer(ctx, buyer.ID, listing.ID, 2)
	if _, err := f.svc.Accept(ctx, seller.ID, offer.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Pay(ctx, PayInput{BuyerID: buyer.ID, OfferID: offer.ID, Method: ledger.MethodGateway}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	actor := audit.Actor{AdminID: "admin-1"}
	o, err := f.svc.AdminCancelOffer(ctx, actor, offer.ID, "buyer unreachable")
	if err != nil || o.Status != OfferCancelled {
		t.Fatalf("admin cancel: %v %+v", err, o)
	}
	entries := f.audits.All()
	if len(entries) != 1 || entries[0].Action != "market.cancel_offer" {
		t.Fatalf("audit entries %+v", entries)
	}
}
