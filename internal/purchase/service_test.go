package purchase

import (
	"context"
	"sync"
	"testing"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/logging"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
)

func testSnapshot() pricing.Snapshot {
	return pricing.Snapshot{
		Tiers: [3]pricing.Tier{
			{Capacity: 2000, PriceFiat: 50_000, PriceStable: 80},
			{Capacity: 3000, PriceFiat: 70_000, PriceStable: 112},
			{Capacity: 5000, PriceFiat: 100_000, PriceStable: 160},
		},
		CofounderTotal:       100,
		CofounderPriceFiat:   1_450_000,
		CofounderPriceStable: 2320,
		CofounderRatio:       29,
		CommissionRates:      [3]int64{15, 3, 2},
		InstallmentMinMonths: 2,
		InstallmentMaxMonths: 12,
	}
}

type fixture struct {
	svc       *Service
	ledger    *ledger.MemoryStore
	counters  *inventory.MemoryStore
	holdings  *holding.MemoryStore
	referrals *referral.MemoryStore
	gw        *gateway.StaticGateway
	chain     *gateway.StaticVerifier
	users     *identity.Service
	audits    *audit.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	audits := audit.NewMemoryStore()
	auditSvc := audit.NewService(audits, logger)

	prices := pricing.NewService(pricing.NewMemoryStore(), auditSvc, logger)
	if err := prices.Seed(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}

	led := ledger.NewMemoryStore()
	counters := inventory.NewMemoryStore()
	holdings := holding.NewMemoryStore()
	users := identity.NewService(identity.NewMemoryRepository())
	refStore := referral.NewMemoryStore()
	refSvc := referral.NewService(refStore, users, prices, metrics.Nop(), logger)
	gw := gateway.NewStaticGateway()
	chain := gateway.NewStaticVerifier()

	svc := NewService(Deps{
		Store:     NewMemoryStore(led, counters, holdings),
		Inventory: counters,
		Prices:    prices,
		Referrals: refSvc,
		Gateway:   gw,
		Chain:     chain,
		Proofs:    blob.NewMemoryStore(),
		Mailer:    notification.NewLoggerMailer(logger),
		Users:     users,
		Audits:    auditSvc,
		Metrics:   metrics.Nop(),
		Logger:    logger,
	})
	return &fixture{
		svc:       svc,
		ledger:    led,
		counters:  counters,
		holdings:  holdings,
		referrals: refStore,
		gw:        gw,
		chain:     chain,
		users:     users,
		audits:    audits,
	}
}

func (f *fixture) register(t *testing.T, email, referredBy string) identity.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), identity.Credentials{
		Name:       "buyer",
		Email:      email,
		Password:   "correct-horse",
		ReferredBy: referredBy,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (f *fixture) gatewayBuy(t *testing.T, userID string, kind ledger.ShareKind, qty int64) BuyResult {
	t.Helper()
	result, err := f.svc.Buy(context.Background(), BuyInput{
		UserID:   userID,
		Kind:     kind,
		Quantity: qty,
		Currency: money.Fiat,
		Method:   ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	return result
}

func TestGatewayPurchaseLifecycle(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result := f.gatewayBuy(t, buyer.ID, ledger.ShareRegular, 2500)
	// 2000 from tier 1 at 50,000 plus 500 from tier 2 at 70,000.
	if result.Entry.Amount != 135_000_000 {
		t.Fatalf("amount = %d, want 135000000", result.Entry.Amount)
	}
	if result.Reservation.Tiers != [3]int64{2000, 500, 0} {
		t.Fatalf("breakdown = %v", result.Reservation.Tiers)
	}
	if result.Payment == nil || result.Payment.AuthorizationURL == "" {
		t.Fatal("expected a gateway redirection")
	}
	if result.Entry.Status != ledger.StatusPending {
		t.Fatalf("intent status = %s", result.Entry.Status)
	}

	// Nothing committed before verification.
	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{0, 0, 0} {
		t.Fatalf("counters committed early: %v", counters.Tiers)
	}

	out, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !out.Applied || out.Entry.Status != ledger.StatusCompleted {
		t.Fatalf("verify outcome %+v", out)
	}
	if out.Holding.RegularTotal != 2500 {
		t.Fatalf("holding = %d", out.Holding.RegularTotal)
	}
	counters, _ = f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{2000, 500, 0} {
		t.Fatalf("counters = %v", counters.Tiers)
	}

	// Verifying again is a no-op.
	again, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Applied {
		t.Fatal("second verify applied effects")
	}
	counters, _ = f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{2000, 500, 0} {
		t.Fatalf("counters after second verify = %v", counters.Tiers)
	}
}

func TestGatewayFailureReleasesNothing(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result := f.gatewayBuy(t, buyer.ID, ledger.ShareRegular, 10)
	f.gw.SetOutcome(result.Entry.Reference, gateway.VerifyFailed)

	_, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference)
	if !apperr.IsCode(err, apperr.CodeExternalFailed) {
		t.Fatalf("expected EXTERNAL_FAILED, got %v", err)
	}
	entry, _ := f.ledger.Get(ctx, result.Entry.ID)
	if entry.Status != ledger.StatusFailed {
		t.Fatalf("entry status = %s", entry.Status)
	}
	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{0, 0, 0} {
		t.Fatalf("failed intent committed inventory: %v", counters.Tiers)
	}
	h, _ := f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 0 {
		t.Fatalf("failed intent credited holding: %d", h.RegularTotal)
	}
}

func TestPendingGatewayKeepsIntentOpen(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result := f.gatewayBuy(t, buyer.ID, ledger.ShareRegular, 10)
	f.gw.SetOutcome(result.Entry.Reference, gateway.VerifyPending)

	_, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference)
	if !apperr.IsCode(err, apperr.CodeExternalPending) {
		t.Fatalf("expected EXTERNAL_PENDING, got %v", err)
	}
	entry, _ := f.ledger.Get(ctx, result.Entry.ID)
	if entry.Status != ledger.StatusPending {
		t.Fatalf("entry status = %s", entry.Status)
	}

	// The payment later succeeds and the same reference settles.
	f.gw.SetOutcome(result.Entry.Reference, gateway.VerifySuccess)
	out, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference)
	if err != nil || !out.Applied {
		t.Fatalf("late verify: %v %+v", err, out)
	}
}

func TestStablecoinPurchase(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result, err := f.svc.Buy(ctx, BuyInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 5,
		Currency: money.Stable,
		Method:   ledger.MethodStablecoin,
		TxHash:   "0xabc",
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if result.Entry.Amount != 5*80 {
		t.Fatalf("amount = %d", result.Entry.Amount)
	}

	// Not on chain yet.
	_, err = f.svc.VerifyStablecoin(ctx, buyer.ID, result.Entry.ID)
	if !apperr.IsCode(err, apperr.CodeExternalPending) {
		t.Fatalf("expected EXTERNAL_PENDING, got %v", err)
	}

	f.chain.Register("0xabc", 400)
	out, err := f.svc.VerifyStablecoin(ctx, buyer.ID, result.Entry.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !out.Applied || out.Holding.RegularTotal != 5 {
		t.Fatalf("outcome %+v", out)
	}

	// Resubmitting the same hash collides on the reference.
	_, err = f.svc.Buy(ctx, BuyInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 5,
		Currency: money.Stable,
		Method:   ledger.MethodStablecoin,
		TxHash:   "0xabc",
	})
	if !apperr.IsCode(err, apperr.CodeDuplicate) {
		t.Fatalf("expected DUPLICATE, got %v", err)
	}
}

func TestStablecoinUnderpaymentFails(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result, err := f.svc.Buy(ctx, BuyInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 5,
		Currency: money.Stable,
		Method:   ledger.MethodStablecoin,
		TxHash:   "0xshort",
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	f.chain.Register("0xshort", 399)
	_, err = f.svc.VerifyStablecoin(ctx, buyer.ID, result.Entry.ID)
	if !apperr.IsCode(err, apperr.CodeExternalFailed) {
		t.Fatalf("expected EXTERNAL_FAILED, got %v", err)
	}
	entry, _ := f.ledger.Get(ctx, result.Entry.ID)
	if entry.Status != ledger.StatusFailed {
		t.Fatalf("entry status = %s", entry.Status)
	}
}

func TestManualPurchaseAdminVerify(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	result, err := f.svc.Buy(ctx, BuyInput{
		UserID:    buyer.ID,
		Kind:      ledger.ShareRegular,
		Quantity:  3,
		Currency:  money.Fiat,
		Method:    ledger.MethodManual,
		Proof:     []byte("receipt bytes"),
		ProofMIME: "image/png",
		ProofName: "receipt.png",
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if result.Entry.Metadata.ProofHandle == "" {
		t.Fatal("proof handle missing")
	}
	obj, err := f.svc.Proof(ctx, result.Entry.ID)
	if err != nil || string(obj.Bytes) != "receipt bytes" {
		t.Fatalf("proof fetch: %v %q", err, obj.Bytes)
	}

	actor := audit.Actor{AdminID: "admin-1", IP: "10.0.0.1"}
	out, err := f.svc.AdminVerify(ctx, actor, result.Entry.ID)
	if err != nil || !out.Applied {
		t.Fatalf("admin verify: %v %+v", err, out)
	}
	entries := f.audits.All()
	if len(entries) != 1 || entries[0].Action != "purchase.verify" {
		t.Fatalf("audit entries %+v", entries)
	}
}

func TestCofounderPurchaseOccupiesRegularCapacity(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	other := f.register(t, "other@example.com", "")
	ctx := context.Background()

	result := f.gatewayBuy(t, buyer.ID, ledger.ShareCofounder, 1)
	if result.Entry.Amount != 1_450_000 {
		t.Fatalf("cofounder amount = %d", result.Entry.Amount)
	}
	if _, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// One cofounder share occupies 29 regular equivalents from tier 1.
	avail, _, err := f.svc.Availability(ctx)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if avail.Tiers[0] != 1971 || avail.Total != 9971 {
		t.Fatalf("availability = %+v", avail)
	}

	// Buying 2000 regular shares now spills 29 into tier 2.
	second := f.gatewayBuy(t, other.ID, ledger.ShareRegular, 2000)
	if second.Reservation.Tiers != [3]int64{1971, 29, 0} {
		t.Fatalf("breakdown = %v", second.Reservation.Tiers)
	}
}

func TestConcurrentVerifyOfLastShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@example.com", "")
	b := f.register(t, "b@example.com", "")

	// Both buyers reserve the same final 10,000 shares while inventory is open.
	first := f.gatewayBuy(t, a.ID, ledger.ShareRegular, 10_000)
	second := f.gatewayBuy(t, b.ID, ledger.ShareRegular, 10_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ref := range []string{first.Entry.Reference, second.Entry.Reference} {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			_, errs[i] = f.svc.VerifyGateway(ctx, "", ref)
		}(i, ref)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apperr.IsCode(err, apperr.CodeInsufficientShares):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d", won, lost)
	}
	counters, _ := f.counters.Counters(ctx)
	total := counters.Tiers[0] + counters.Tiers[1] + counters.Tiers[2]
	if total != 10_000 {
		t.Fatalf("sold total = %d", total)
	}
}

func TestReverseRestoresAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	referrer := f.register(t, "referrer@example.com", "")
	buyer := f.register(t, "buyer@example.com", referrer.ReferralCode)

	result := f.gatewayBuy(t, buyer.ID, ledger.ShareRegular, 2)
	if _, err := f.svc.VerifyGateway(ctx, buyer.ID, result.Entry.Reference); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Commission went out to the referrer.
	earnings, _ := f.referrals.CompletedEarnings(ctx, referrer.ID)
	if earnings != 15_000 {
		t.Fatalf("earnings = %d", earnings)
	}

	actor := audit.Actor{AdminID: "admin-1"}
	out, err := f.svc.AdminReverse(ctx, actor, result.Entry.ID, "chargeback")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if out.Reversal.Kind != ledger.KindAdminReversal || out.Reversal.ParentEntry != result.Entry.ID {
		t.Fatalf("reversal entry %+v", out.Reversal)
	}
	if out.Reversal.Amount != -result.Entry.Amount {
		t.Fatalf("reversal amount = %d", out.Reversal.Amount)
	}

	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{0, 0, 0} {
		t.Fatalf("counters after reverse = %v", counters.Tiers)
	}
	h, _ := f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 0 {
		t.Fatalf("holding after reverse = %d", h.RegularTotal)
	}
	earnings, _ = f.referrals.CompletedEarnings(ctx, referrer.ID)
	if earnings != 0 {
		t.Fatalf("earnings after reverse = %d", earnings)
	}

	// The buyer can purchase again afterwards.
	again := f.gatewayBuy(t, buyer.ID, ledger.ShareRegular, 2)
	if _, err := f.svc.VerifyGateway(ctx, buyer.ID, again.Entry.Reference); err != nil {
		t.Fatalf("re-purchase verify: %v", err)
	}
	h, _ = f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 2 {
		t.Fatalf("holding after re-purchase = %d", h.RegularTotal)
	}
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	cases := []struct {
		name string
		in   BuyInput
		code apperr.Code
	}{
		{"zero quantity", BuyInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 0, Currency: money.Fiat, Method: ledger.MethodGateway}, apperr.CodeValidation},
		{"bad kind", BuyInput{UserID: buyer.ID, Kind: "preferred", Quantity: 1, Currency: money.Fiat, Method: ledger.MethodGateway}, apperr.CodeValidation},
		{"bad method", BuyInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 1, Currency: money.Fiat, Method: "cash"}, apperr.CodeValidation},
		{"stablecoin without hash", BuyInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 1, Currency: money.Stable, Method: ledger.MethodStablecoin}, apperr.CodeValidation},
		{"over capacity", BuyInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 10_001, Currency: money.Fiat, Method: ledger.MethodGateway}, apperr.CodeInsufficientShares},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Buy(ctx, tc.in)
			if !apperr.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}
