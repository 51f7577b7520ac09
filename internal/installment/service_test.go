package installment

import (
	"context"
	"testing"
	"time"

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
		CofounderTotal:        100,
		CofounderPriceFiat:    1_450_000,
		CofounderPriceStable:  2320,
		CofounderRatio:        29,
		CommissionRates:       [3]int64{15, 3, 2},
		LateFeePercent:        4,
		LateFeeCapPercent:     5,
		InstallmentMinMonths:  2,
		InstallmentMaxMonths:  12,
		InstallmentMinDownPct: 20,
		InstallmentGraceDays:  30,
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

func (f *fixture) create(t *testing.T, userID string, kind ledger.ShareKind, qty int64, months int) Plan {
	t.Helper()
	plan, _, err := f.svc.Create(context.Background(), CreateInput{
		UserID:   userID,
		Kind:     kind,
		Quantity: qty,
		Currency: money.Fiat,
		Months:   months,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

func (f *fixture) payVerify(t *testing.T, userID, planID string, index int, amount int64) PaymentOutcome {
	t.Helper()
	res, err := f.svc.Pay(context.Background(), PayInput{
		UserID: userID,
		PlanID: planID,
		Index:  index,
		Amount: amount,
		Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay %d on %s: %v", amount, planID, err)
	}
	out, err := f.svc.Verify(context.Background(), userID, res.Item.ExternalRef)
	if err != nil {
		t.Fatalf("verify %s: %v", res.Item.ExternalRef, err)
	}
	return out
}

func TestPlanLifecycle(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	plan, items, err := f.svc.Create(ctx, CreateInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 1,
		Currency: money.Fiat,
		Months:   5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plan.TotalPrice != 50_000 || plan.MinDown != 10_000 {
		t.Fatalf("total=%d min_down=%d", plan.TotalPrice, plan.MinDown)
	}
	if plan.State != StatePending || len(items) != 5 {
		t.Fatalf("state=%s items=%d", plan.State, len(items))
	}
	if !items[0].IsFirst || items[0].Nominal != 10_000 {
		t.Fatalf("first item %+v", items[0])
	}

	// 15,000 in: plan activates but no share releases yet.
	out := f.payVerify(t, buyer.ID, plan.ID, 0, 15_000)
	if out.Plan.State != StateActive || out.Plan.PaidAmount != 15_000 {
		t.Fatalf("after first payment %+v", out.Plan)
	}
	if out.ReleasedDelta != 0 || out.Plan.ReleasedShares != 0 {
		t.Fatalf("premature release: delta=%d total=%d", out.ReleasedDelta, out.Plan.ReleasedShares)
	}
	h, _ := f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 0 {
		t.Fatalf("holding credited early: %d", h.RegularTotal)
	}

	// The remaining 35,000 completes the plan and releases the share.
	out = f.payVerify(t, buyer.ID, plan.ID, 1, 35_000)
	if out.Plan.State != StateCompleted || out.Plan.PaidAmount != 50_000 {
		t.Fatalf("after final payment %+v", out.Plan)
	}
	if out.ReleasedDelta != 1 || out.Plan.ReleasedShares != 1 {
		t.Fatalf("release: delta=%d total=%d", out.ReleasedDelta, out.Plan.ReleasedShares)
	}
	h, _ = f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 1 {
		t.Fatalf("holding = %d", h.RegularTotal)
	}
	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{1, 0, 0} {
		t.Fatalf("counters = %v", counters.Tiers)
	}
}

func TestProportionalRelease(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	// 10 tier-1 shares, 500,000 total, min down 100,000.
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 10, 4)
	if plan.TotalPrice != 500_000 {
		t.Fatalf("total = %d", plan.TotalPrice)
	}

	out := f.payVerify(t, buyer.ID, plan.ID, 0, 150_000)
	if out.ReleasedDelta != 3 {
		t.Fatalf("first release delta = %d", out.ReleasedDelta)
	}
	out = f.payVerify(t, buyer.ID, plan.ID, 1, 120_000)
	if out.ReleasedDelta != 2 || out.Plan.ReleasedShares != 5 {
		t.Fatalf("second release delta=%d total=%d", out.ReleasedDelta, out.Plan.ReleasedShares)
	}
	out = f.payVerify(t, buyer.ID, plan.ID, 2, 230_000)
	if out.Plan.State != StateCompleted || out.Plan.ReleasedShares != 10 {
		t.Fatalf("final %+v", out.Plan)
	}
	h, _ := f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 10 {
		t.Fatalf("holding = %d", h.RegularTotal)
	}
	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{10, 0, 0} {
		t.Fatalf("counters = %v", counters.Tiers)
	}
}

func TestFirstPaymentBelowMinimum(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	_, err := f.svc.Pay(context.Background(), PayInput{
		UserID: buyer.ID,
		PlanID: plan.ID,
		Index:  0,
		Amount: 5_000,
		Method: ledger.MethodGateway,
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestOneOpenPlanPerKind(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	_, _, err := f.svc.Create(context.Background(), CreateInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 2,
		Currency: money.Fiat,
		Months:   6,
	})
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	// A plan of the other kind is still allowed.
	f.create(t, buyer.ID, ledger.ShareCofounder, 1, 5)
}

func TestScheduleClampsDayOfMonth(t *testing.T) {
	created := time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC)
	items := Schedule("p", 50_000, 10_000, 4, created)

	want := []time.Time{
		created,
		time.Date(2026, time.February, 28, 10, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2026, time.April, 30, 10, 0, 0, 0, time.UTC),
	}
	for i, item := range items {
		if !item.DueDate.Equal(want[i]) {
			t.Fatalf("due[%d] = %s, want %s", i, item.DueDate, want[i])
		}
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	res, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 0, Amount: 10_000, Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	first, err := f.svc.Verify(ctx, buyer.ID, res.Item.ExternalRef)
	if err != nil || !first.Applied {
		t.Fatalf("first verify: %v %+v", err, first)
	}
	again, err := f.svc.Verify(ctx, buyer.ID, res.Item.ExternalRef)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.Applied {
		t.Fatal("second verify applied effects")
	}
	p, _, _ := f.svc.Get(ctx, buyer.ID, plan.ID)
	if p.PaidAmount != 10_000 {
		t.Fatalf("paid = %d", p.PaidAmount)
	}
}

func TestConcurrentPaymentsCannotOverpay(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	// 10 tier-1 shares, 500,000 total. Open two in-flight payments on
	// different installments before verifying either: each passes the
	// balance gate on its own but together they exceed the plan.
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 10, 4)
	first, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 0, Amount: 300_000, Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay first: %v", err)
	}
	second, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 1, Amount: 300_000, Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay second: %v", err)
	}

	out, err := f.svc.Verify(ctx, buyer.ID, first.Item.ExternalRef)
	if err != nil || !out.Applied {
		t.Fatalf("first verify: %v %+v", err, out)
	}
	if _, err := f.svc.Verify(ctx, buyer.ID, second.Item.ExternalRef); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}

	p, _, _ := f.svc.Get(ctx, buyer.ID, plan.ID)
	if p.PaidAmount != 300_000 || p.PaidAmount > p.TotalPrice {
		t.Fatalf("paid = %d of %d", p.PaidAmount, p.TotalPrice)
	}
	if p.ReleasedShares != 6 {
		t.Fatalf("released = %d", p.ReleasedShares)
	}
	h, _ := f.holdings.Get(ctx, buyer.ID)
	counters, _ := f.counters.Counters(ctx)
	if h.RegularTotal != 6 || counters.Tiers != [3]int64{6, 0, 0} {
		t.Fatalf("holding=%d counters=%v", h.RegularTotal, counters.Tiers)
	}
}

func TestFailedPaymentReopensForRetry(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	res, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 0, Amount: 10_000, Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	f.gw.SetOutcome(res.Item.ExternalRef, gateway.VerifyFailed)
	if _, err := f.svc.Verify(ctx, buyer.ID, res.Item.ExternalRef); !apperr.IsCode(err, apperr.CodeExternalFailed) {
		t.Fatalf("expected EXTERNAL_FAILED, got %v", err)
	}

	// The installment accepts a fresh payment.
	out := f.payVerify(t, buyer.ID, plan.ID, 0, 10_000)
	if !out.Applied || out.Plan.PaidAmount != 10_000 {
		t.Fatalf("retry %+v", out)
	}
}

func TestStablecoinInstallment(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	plan, _, err := f.svc.Create(ctx, CreateInput{
		UserID:   buyer.ID,
		Kind:     ledger.ShareRegular,
		Quantity: 5,
		Currency: money.Stable,
		Months:   2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// 5 × 80 = 400; min down 80.
	if plan.TotalPrice != 400 || plan.MinDown != 80 {
		t.Fatalf("total=%d min_down=%d", plan.TotalPrice, plan.MinDown)
	}

	if _, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 0, Amount: 100, Method: ledger.MethodStablecoin, TxHash: "0xplan",
	}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.svc.Verify(ctx, buyer.ID, "0xplan"); !apperr.IsCode(err, apperr.CodeExternalPending) {
		t.Fatalf("expected EXTERNAL_PENDING before the transfer lands, got %v", err)
	}
	f.chain.Register("0xplan", 100)
	out, err := f.svc.Verify(ctx, buyer.ID, "0xplan")
	if err != nil || !out.Applied {
		t.Fatalf("verify: %v %+v", err, out)
	}
	if out.ReleasedDelta != 1 {
		t.Fatalf("release delta = %d", out.ReleasedDelta)
	}
}

func TestManualPaymentAwaitsAdmin(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	res, err := f.svc.Pay(ctx, PayInput{
		UserID:    buyer.ID,
		PlanID:    plan.ID,
		Index:     0,
		Amount:    10_000,
		Method:    ledger.MethodManual,
		Proof:     []byte("receipt bytes"),
		ProofMIME: "image/png",
		ProofName: "receipt.png",
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if _, err := f.svc.Verify(ctx, buyer.ID, res.Item.ExternalRef); !apperr.IsCode(err, apperr.CodeExternalPending) {
		t.Fatalf("expected EXTERNAL_PENDING, got %v", err)
	}
	obj, err := f.svc.Proof(ctx, res.Item.ExternalRef)
	if err != nil || string(obj.Bytes) != "receipt bytes" {
		t.Fatalf("proof fetch: %v %q", err, obj.Bytes)
	}

	actor := audit.Actor{AdminID: "admin-1"}
	out, err := f.svc.AdminVerify(ctx, actor, res.Item.ExternalRef, false)
	if err != nil || !out.Applied {
		t.Fatalf("admin verify: %v %+v", err, out)
	}
	entries := f.audits.All()
	if len(entries) != 1 || entries[0].Action != "installment.verify" {
		t.Fatalf("audit entries %+v", entries)
	}
}

func TestAdminForceVerifyOverridesGateway(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()
	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)

	res, err := f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 0, Amount: 10_000, Method: ledger.MethodGateway,
	})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	f.gw.SetOutcome(res.Item.ExternalRef, gateway.VerifyPending)

	actor := audit.Actor{AdminID: "admin-1"}
	if _, err := f.svc.AdminVerify(ctx, actor, res.Item.ExternalRef, false); !apperr.IsCode(err, apperr.CodeExternalFailed) {
		t.Fatalf("expected EXTERNAL_FAILED without force, got %v", err)
	}
	out, err := f.svc.AdminVerify(ctx, actor, res.Item.ExternalRef, true)
	if err != nil || !out.Applied {
		t.Fatalf("forced verify: %v %+v", err, out)
	}
	if !out.Item.ForceApproved || out.Entry.Metadata.Reason != "force_approved" {
		t.Fatalf("force not recorded: %+v", out.Item)
	}
}

func TestUnverifyClawsBackReleaseAndCommissions(t *testing.T) {
	f := newFixture(t)
	referrer := f.register(t, "referrer@example.com", "")
	buyer := f.register(t, "buyer@example.com", referrer.ReferralCode)
	ctx := context.Background()

	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)
	f.payVerify(t, buyer.ID, plan.ID, 0, 15_000)
	final := f.payVerify(t, buyer.ID, plan.ID, 1, 35_000)
	if final.Plan.State != StateCompleted {
		t.Fatalf("plan %+v", final.Plan)
	}

	// 15% of each settled payment went out.
	earnings, _ := f.referrals.CompletedEarnings(ctx, referrer.ID)
	if earnings != 2_250+5_250 {
		t.Fatalf("earnings = %d", earnings)
	}

	actor := audit.Actor{AdminID: "admin-1"}
	out, err := f.svc.AdminUnverify(ctx, actor, final.Item.ExternalRef, "chargeback")
	if err != nil {
		t.Fatalf("unverify: %v", err)
	}
	if out.ClawedShares != 1 || out.Plan.State != StateActive || out.Plan.PaidAmount != 15_000 {
		t.Fatalf("outcome %+v", out)
	}
	if out.Reversal.Kind != ledger.KindAdminReversal || out.Reversal.Amount != -35_000 {
		t.Fatalf("reversal %+v", out.Reversal)
	}
	if out.Item.Status != ItemUpcoming || out.Item.ExternalRef != "" {
		t.Fatalf("item not reinstated: %+v", out.Item)
	}

	h, _ := f.holdings.Get(ctx, buyer.ID)
	if h.RegularTotal != 0 {
		t.Fatalf("holding after claw-back = %d", h.RegularTotal)
	}
	counters, _ := f.counters.Counters(ctx)
	if counters.Tiers != [3]int64{0, 0, 0} {
		t.Fatalf("counters after claw-back = %v", counters.Tiers)
	}
	earnings, _ = f.referrals.CompletedEarnings(ctx, referrer.ID)
	if earnings != 2_250 {
		t.Fatalf("earnings after rollback = %d", earnings)
	}

	// The installment can be paid again to completion.
	redo := f.payVerify(t, buyer.ID, plan.ID, 1, 35_000)
	if redo.Plan.State != StateCompleted || redo.Plan.ReleasedShares != 1 {
		t.Fatalf("re-payment %+v", redo.Plan)
	}
}

func TestCofounderPlanReservesPoolUpfront(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	plan := f.create(t, buyer.ID, ledger.ShareCofounder, 2, 5)
	if plan.TotalPrice != 2*1_450_000 {
		t.Fatalf("total = %d", plan.TotalPrice)
	}
	counters, _ := f.counters.Counters(ctx)
	if counters.Cofounder != 2 {
		t.Fatalf("pool not reserved: %d", counters.Cofounder)
	}

	// Cancelling before the minimum down payment is the admin's call only.
	if _, err := f.svc.Cancel(ctx, buyer.ID, plan.ID); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
	actor := audit.Actor{AdminID: "admin-1"}
	cancelled, err := f.svc.AdminCancel(ctx, actor, plan.ID, "buyer request")
	if err != nil || cancelled.State != StateCancelled {
		t.Fatalf("admin cancel: %v %+v", err, cancelled)
	}
	counters, _ = f.counters.Counters(ctx)
	if counters.Cofounder != 0 {
		t.Fatalf("pool not reclaimed: %d", counters.Cofounder)
	}
}

func TestSweepLateFeeCapAndDefault(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	plan := f.create(t, buyer.ID, ledger.ShareRegular, 1, 5)
	f.payVerify(t, buyer.ID, plan.ID, 0, 10_000)

	// Inside the grace window nothing accrues.
	result, err := f.svc.SweepOverdue(ctx, time.Now().Add(20*24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.MarkedLate != 0 || result.FeesLevied != 0 {
		t.Fatalf("sweep inside grace %+v", result)
	}

	// Two months late: 4% × 2 × 40,000 = 3,200 is capped at 5% of 50,000.
	result, err = f.svc.SweepOverdue(ctx, time.Now().Add(65*24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.MarkedLate != 1 || result.FeesLevied != 2_500 {
		t.Fatalf("late sweep %+v", result)
	}
	p, _, _ := f.svc.Get(ctx, "", plan.ID)
	if p.State != StateLate || p.MonthsLate != 2 || p.LateFeeAccrued != 2_500 {
		t.Fatalf("plan after late sweep %+v", p)
	}

	// Three months late defaults the plan; the fee stays at the cap.
	result, err = f.svc.SweepOverdue(ctx, time.Now().Add(95*24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Defaulted != 1 || result.FeesLevied != 0 {
		t.Fatalf("default sweep %+v", result)
	}
	p, _, _ = f.svc.Get(ctx, "", plan.ID)
	if p.State != StateDefaulted || p.LateFeeAccrued != 2_500 {
		t.Fatalf("plan after default %+v", p)
	}

	// Terminal plans take no further payments.
	_, err = f.svc.Pay(ctx, PayInput{
		UserID: buyer.ID, PlanID: plan.ID, Index: 1, Amount: 10_000, Method: ledger.MethodGateway,
	})
	if !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	buyer := f.register(t, "buyer@example.com", "")
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
		code apperr.Code
	}{
		{"too few months", CreateInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 1, Currency: money.Fiat, Months: 1}, apperr.CodeValidation},
		{"too many months", CreateInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 1, Currency: money.Fiat, Months: 13}, apperr.CodeValidation},
		{"bad kind", CreateInput{UserID: buyer.ID, Kind: "preferred", Quantity: 1, Currency: money.Fiat, Months: 5}, apperr.CodeValidation},
		{"over capacity", CreateInput{UserID: buyer.ID, Kind: ledger.ShareRegular, Quantity: 10_001, Currency: money.Fiat, Months: 5}, apperr.CodeInsufficientShares},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Create(ctx, tc.in)
			if !apperr.IsCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}
