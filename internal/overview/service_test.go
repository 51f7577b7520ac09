package overview

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/logging"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
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
		Withdrawal: pricing.WithdrawalPolicy{
			Enabled:    true,
			Minimum:    1_000,
			DailyCap:   5,
			FeePercent: 2,
		},
		InstallmentMinMonths: 2,
		InstallmentMaxMonths: 12,
	}
}

type fixture struct {
	svc       *Service
	entries   *ledger.MemoryStore
	counters  *inventory.MemoryStore
	holdings  *holding.MemoryStore
	users     *identity.Service
	referrals *referral.Service
	markets   *market.Service
	payouts   *withdrawal.Service
	audits    *audit.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	auditSvc := audit.NewService(audit.NewMemoryStore(), logger)
	prices := pricing.NewService(pricing.NewMemoryStore(), auditSvc, logger)
	if err := prices.Seed(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("seed pricing: %v", err)
	}

	led := ledger.NewMemoryStore()
	counters := inventory.NewMemoryStore()
	holdings := holding.NewMemoryStore()
	users := identity.NewService(identity.NewMemoryRepository())
	mailer := notification.NewLoggerMailer(logger)
	refSvc := referral.NewService(referral.NewMemoryStore(), users, prices, metrics.Nop(), logger)

	planSvc := installment.NewService(installment.Deps{
		Store:     installment.NewMemoryStore(led, counters, holdings),
		Inventory: counters,
		Prices:    prices,
		Referrals: refSvc,
		Gateway:   gateway.NewStaticGateway(),
		Chain:     gateway.NewStaticVerifier(),
		Proofs:    blob.NewMemoryStore(),
		Mailer:    mailer,
		Users:     users,
		Audits:    auditSvc,
		Metrics:   metrics.Nop(),
		Logger:    logger,
	})
	marketSvc := market.NewService(market.Deps{
		Store:   market.NewMemoryStore(led, holdings),
		Users:   users,
		Gateway: gateway.NewStaticGateway(),
		Chain:   gateway.NewStaticVerifier(),
		Mailer:  mailer,
		Audits:  auditSvc,
		Metrics: metrics.Nop(),
		Logger:  logger,
	})
	paySvc := withdrawal.NewService(withdrawal.Deps{
		Store:    withdrawal.NewMemoryStore(led),
		Earnings: refSvc,
		Prices:   prices,
		Users:    users,
		Mailer:   mailer,
		Audits:   auditSvc,
		Metrics:  metrics.Nop(),
		Logger:   logger,
	})

	svc := NewService(Deps{
		Entries:     led,
		Inventory:   counters,
		Holdings:    holdings,
		Prices:      prices,
		Users:       users,
		Referrals:   refSvc,
		Plans:       planSvc,
		Market:      marketSvc,
		Withdrawals: paySvc,
		Audits:      auditSvc,
		Logger:      logger,
	})
	return &fixture{
		svc:       svc,
		entries:   led,
		counters:  counters,
		holdings:  holdings,
		users:     users,
		referrals: refSvc,
		markets:   marketSvc,
		payouts:   paySvc,
		audits:    auditSvc,
	}
}

func (f *fixture) register(t *testing.T, email, referredBy string) identity.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), identity.Credentials{
		Name:       "user",
		Email:      email,
		Password:   "correct-horse",
		ReferredBy: referredBy,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (f *fixture) appendCompleted(t *testing.T, e ledger.Entry) ledger.Entry {
	t.Helper()
	now := time.Now().UTC()
	e.Status = ledger.StatusCompleted
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CompletedAt = &now
	stored, err := f.entries.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return stored
}

func TestSystemReportRevenue(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	seller := f.register(t, "seller@example.com", "")
	ctx := context.Background()

	f.appendCompleted(t, ledger.Entry{
		Kind:      ledger.KindPurchase,
		ActorUser: buyer.ID,
		Amount:    100_000,
		Currency:  money.Fiat,
		Reference: "pur-1",
		Metadata:  ledger.Metadata{Method: ledger.MethodGateway, ShareKind: ledger.ShareRegular, Quantity: 2},
	})
	f.appendCompleted(t, ledger.Entry{
		Kind:      ledger.KindPurchase,
		ActorUser: buyer.ID,
		Amount:    500,
		Currency:  money.Stable,
		Reference: "pur-2",
		Metadata:  ledger.Metadata{Method: ledger.MethodStablecoin, ShareKind: ledger.ShareRegular, Quantity: 1},
	})
	f.appendCompleted(t, ledger.Entry{
		Kind:      ledger.KindInstallmentPayment,
		ActorUser: buyer.ID,
		Amount:    50_000,
		Currency:  money.Fiat,
		Reference: "inst-1",
		Metadata:  ledger.Metadata{Method: ledger.MethodGateway},
	})
	// Marketplace transfers move money between users, not to the platform.
	f.appendCompleted(t, ledger.Entry{
		Kind:             ledger.KindMarketplaceTransfer,
		ActorUser:        buyer.ID,
		CounterpartyUser: seller.ID,
		Amount:           9_999_999,
		Currency:         money.Fiat,
		Reference:        "mkt-1",
	})

	report, err := f.svc.System(ctx)
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if report.Revenue.Total != 150_500 {
		t.Fatalf("revenue total = %d, want 150500", report.Revenue.Total)
	}
	if report.Revenue.ByCurrency[money.Fiat] != 150_000 || report.Revenue.ByCurrency[money.Stable] != 500 {
		t.Fatalf("by currency = %v", report.Revenue.ByCurrency)
	}
	if report.Revenue.ByMethod[ledger.MethodGateway] != 150_000 {
		t.Fatalf("by method = %v", report.Revenue.ByMethod)
	}
	if report.Revenue.ByKind[ledger.KindInstallmentPayment] != 50_000 {
		t.Fatalf("by kind = %v", report.Revenue.ByKind)
	}
	if len(report.Daily) != 1 || report.Daily[0].Amount != 150_500 {
		t.Fatalf("daily = %v", report.Daily)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("unexpected issues %v", report.Issues)
	}
}

func TestRevenuePagingCountsEachEntryOnce(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	// More entries than one page, all sharing one timestamp so the page
	// boundary lands on identical created_at values.
	at := time.Now().UTC()
	for i := 0; i < 600; i++ {
		f.appendCompleted(t, ledger.Entry{
			Kind:      ledger.KindPurchase,
			ActorUser: buyer.ID,
			Amount:    1_000,
			Currency:  money.Fiat,
			Reference: fmt.Sprintf("pur-%d", i),
			CreatedAt: at,
			Metadata:  ledger.Metadata{Method: ledger.MethodGateway, ShareKind: ledger.ShareRegular, Quantity: 1},
		})
	}

	report, err := f.svc.System(ctx)
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if report.Revenue.Total != 600_000 {
		t.Fatalf("revenue total = %d, want 600000", report.Revenue.Total)
	}
	if len(report.Daily) != 1 || report.Daily[0].Amount != 600_000 {
		t.Fatalf("daily = %v", report.Daily)
	}
}

func TestSystemReportCountsMarketplaceAndKYC(t *testing.T) {
	f := newFixture(t)
	seller := f.register(t, "seller@example.com", "")
	ctx := context.Background()

	if err := f.holdings.Update(seller.ID, func(h *holding.Holding) error {
		h.Credit(ledger.ShareRegular, 10)
		return nil
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := f.markets.List(ctx, market.ListInput{
		SellerID:      seller.ID,
		Kind:          ledger.ShareRegular,
		Shares:        5,
		PricePerShare: 1_000,
		Currency:      money.Fiat,
	}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.users.SubmitKYC(ctx, seller.ID); err != nil {
		t.Fatalf("submit kyc: %v", err)
	}

	report, err := f.svc.System(ctx)
	if err != nil {
		t.Fatalf("system: %v", err)
	}
	if report.Listings[market.ListingActive] != 1 {
		t.Fatalf("listings = %v", report.Listings)
	}
	if report.PendingKYC != 1 {
		t.Fatalf("pending kyc = %d", report.PendingKYC)
	}
	if report.Held.Regular != 10 {
		t.Fatalf("held = %+v", report.Held)
	}
}

func TestIssueThresholds(t *testing.T) {
	r := SystemReport{
		Duplicates:  10,
		StuckOffers: 5,
		Withdrawals: map[withdrawal.Status]int64{withdrawal.StatusPending: 20},
		PendingKYC:  49,
		Plans:       map[installment.State]int64{installment.StateDefaulted: 10},
	}
	got := issues(r)
	want := map[string]string{
		"duplicate_commissions": SeverityHigh,
		"stuck_offers":          SeverityHigh,
		"pending_withdrawals":   SeverityMedium,
		"defaulted_plans":       SeverityLow,
	}
	if len(got) != len(want) {
		t.Fatalf("issues = %+v", got)
	}
	for _, issue := range got {
		severity, ok := want[issue.Code]
		if !ok {
			t.Fatalf("unexpected issue %q", issue.Code)
		}
		if issue.Severity != severity {
			t.Fatalf("issue %q severity = %s, want %s", issue.Code, issue.Severity, severity)
		}
	}
}

func TestUserReport(t *testing.T) {
	f := newFixture(t)
	referrer := f.register(t, "referrer@example.com", "")
	buyer := f.register(t, "buyer@example.com", referrer.ReferralCode)
	ctx := context.Background()

	entry := f.appendCompleted(t, ledger.Entry{
		Kind:      ledger.KindPurchase,
		ActorUser: buyer.ID,
		Amount:    100_000,
		Currency:  money.Fiat,
		Reference: "pur-1",
		Metadata:  ledger.Metadata{Method: ledger.MethodGateway, ShareKind: ledger.ShareRegular, Quantity: 2},
	})
	if _, err := f.referrals.Propagate(ctx, entry); err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if _, err := f.payouts.Request(ctx, withdrawal.RequestInput{
		UserID:      referrer.ID,
		Amount:      5_000,
		Method:      "bank_transfer",
		Destination: "acct-001",
	}); err != nil {
		t.Fatalf("withdrawal request: %v", err)
	}

	report, err := f.svc.User(ctx, referrer.ID)
	if err != nil {
		t.Fatalf("user overview: %v", err)
	}
	if report.Profile.ID != referrer.ID || report.Profile.Email != referrer.Email {
		t.Fatalf("profile = %+v", report.Profile)
	}
	if report.Referrer != nil {
		t.Fatalf("unexpected referrer %+v", report.Referrer)
	}
	if len(report.Downlines) != 3 || report.Downlines[0].Count != 1 {
		t.Fatalf("downlines = %+v", report.Downlines)
	}
	if report.Commissions.TotalEarnings != 15_000 {
		t.Fatalf("commission earnings = %d", report.Commissions.TotalEarnings)
	}
	if len(report.Earned) != 1 || report.Earned[0].Amount != 15_000 {
		t.Fatalf("earned = %+v", report.Earned)
	}
	if report.Balance.Available != 10_000 || report.Balance.InFlight != 5_000 {
		t.Fatalf("balance = %+v", report.Balance)
	}
	if len(report.Withdrawals) != 1 {
		t.Fatalf("withdrawals = %+v", report.Withdrawals)
	}
	if report.Restricted {
		t.Fatal("unexpected restriction")
	}

	buyerReport, err := f.svc.User(ctx, buyer.ID)
	if err != nil {
		t.Fatalf("buyer overview: %v", err)
	}
	if buyerReport.Referrer == nil || buyerReport.Referrer.ID != referrer.ID {
		t.Fatalf("buyer referrer = %+v", buyerReport.Referrer)
	}
	if len(buyerReport.Generated) != 1 || buyerReport.Generated[0].Beneficiary != referrer.ID {
		t.Fatalf("generated = %+v", buyerReport.Generated)
	}
	if len(buyerReport.History) != 1 || buyerReport.History[0].ID != entry.ID {
		t.Fatalf("history = %+v", buyerReport.History)
	}
}
