package overview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
)

// revenueKinds are the completed inflows counted as revenue. Marketplace
// transfers move money between users, not to the platform, so they stay out.
var revenueKinds = []ledger.Kind{ledger.KindPurchase, ledger.KindInstallmentPayment}

// dailyWindow is how far back the per-day revenue series reaches.
const dailyWindow = 30 * 24 * time.Hour

// Deps wires the aggregator's read sources.
type Deps struct {
	Entries     ledger.Store
	Inventory   inventory.Store
	Holdings    holding.Store
	Prices      *pricing.Service
	Users       *identity.Service
	Referrals   *referral.Service
	Plans       *installment.Service
	Market      *market.Service
	Withdrawals *withdrawal.Service
	Audits      *audit.Service
	Logger      *slog.Logger
}

// Service assembles the dashboard reports.
type Service struct {
	d Deps
}

// NewService builds an overview service.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// System builds the admin dashboard report.
func (s *Service) System(ctx context.Context) (SystemReport, error) {
	now := time.Now().UTC()
	report := SystemReport{GeneratedAt: now}

	counters, err := s.d.Inventory.Counters(ctx)
	if err != nil {
		return report, err
	}
	report.Sold = counters
	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return report, err
	}
	report.Availability = inventory.Available(counters, snap)

	if report.Held, err = s.d.Holdings.Totals(ctx); err != nil {
		return report, err
	}
	if report.Revenue, report.Daily, err = s.revenue(ctx, now); err != nil {
		return report, err
	}
	if report.Listings, err = s.d.Market.ListingCounts(ctx); err != nil {
		return report, err
	}
	if report.Offers, err = s.d.Market.OfferCounts(ctx); err != nil {
		return report, err
	}
	stuck, err := s.d.Market.Stuck(ctx, now)
	if err != nil {
		return report, err
	}
	report.StuckOffers = int64(len(stuck))
	if report.Plans, err = s.d.Plans.Counts(ctx); err != nil {
		return report, err
	}
	if report.Withdrawals, err = s.d.Withdrawals.Counts(ctx); err != nil {
		return report, err
	}
	if report.PendingKYC, err = s.d.Users.CountByKYC(ctx, identity.KYCPending); err != nil {
		return report, err
	}
	if report.Duplicates, err = s.d.Referrals.DuplicateCount(ctx); err != nil {
		return report, err
	}

	report.Issues = issues(report)
	return report, nil
}

// issues flags figures at or past their thresholds.
func issues(r SystemReport) []Issue {
	var out []Issue
	add := func(count int64, threshold int64, severity, code, detail string) {
		if count >= threshold {
			out = append(out, Issue{Severity: severity, Code: code, Detail: detail, Count: count})
		}
	}
	add(r.Duplicates, ThresholdDuplicateCommissions, SeverityHigh,
		"duplicate_commissions", "completed commissions sharing an idempotency key")
	add(r.StuckOffers, ThresholdStuckOffers, SeverityHigh,
		"stuck_offers", "marketplace offers idle past the review window")
	add(r.Withdrawals[withdrawal.StatusPending], ThresholdPendingWithdrawals, SeverityMedium,
		"pending_withdrawals", "withdrawal requests awaiting processing")
	add(r.PendingKYC, ThresholdPendingKYC, SeverityMedium,
		"pending_kyc", "users awaiting identity review")
	add(r.Plans[installment.StateDefaulted], ThresholdDefaultedPlans, SeverityLow,
		"defaulted_plans", "installment plans in default")
	return out
}

// revenue pages the completed inflow entries once and produces both the
// all-time breakdown and the last-30-days series.
func (s *Service) revenue(ctx context.Context, now time.Time) (Revenue, []DailyRevenue, error) {
	rev := Revenue{
		ByCurrency: make(map[money.Currency]int64),
		ByMethod:   make(map[ledger.PaymentMethod]int64),
		ByKind:     make(map[ledger.Kind]int64),
	}
	cutoff := now.Add(-dailyWindow)
	perDay := make(map[string]int64)

	const page = 500
	var cursor int64
	for {
		batch, err := s.d.Entries.ListCompleted(ctx, revenueKinds, time.Time{}, cursor, page)
		if err != nil {
			return rev, nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			rev.Total += e.Amount
			rev.ByCurrency[e.Currency] += e.Amount
			rev.ByKind[e.Kind] += e.Amount
			if e.Metadata.Method != "" {
				rev.ByMethod[e.Metadata.Method] += e.Amount
			}
			if !e.CreatedAt.Before(cutoff) {
				perDay[e.CreatedAt.UTC().Format("2006-01-02")] += e.Amount
			}
		}
		if len(batch) < page {
			break
		}
		cursor = batch[len(batch)-1].Seq
	}

	var daily []DailyRevenue
	for d := 0; d < int(dailyWindow/(24*time.Hour)); d++ {
		day := now.Add(-time.Duration(d) * 24 * time.Hour).Format("2006-01-02")
		if amount, ok := perDay[day]; ok {
			daily = append(daily, DailyRevenue{Day: day, Amount: amount})
		}
	}
	return rev, daily, nil
}

// User builds the per-user support report. Sub-reports that are empty for the
// user come back as empty slices, not errors.
func (s *Service) User(ctx context.Context, userID string) (UserReport, error) {
	now := time.Now().UTC()
	user, err := s.d.Users.Get(ctx, userID)
	if err != nil {
		return UserReport{}, err
	}
	report := UserReport{Profile: ProfileOf(user), GeneratedAt: now}

	if report.Holding, err = s.d.Holdings.Get(ctx, userID); err != nil {
		return report, err
	}
	if report.Records, err = s.d.Holdings.Records(ctx, userID, 0); err != nil {
		return report, err
	}
	if report.History, err = s.d.Entries.ByUser(ctx, userID, nil, time.Time{}, time.Time{}, 0); err != nil {
		return report, err
	}

	chain, err := s.d.Users.ReferrerChain(ctx, userID)
	if err != nil {
		return report, err
	}
	if len(chain) > 0 {
		p := ProfileOf(chain[0])
		report.Referrer = &p
	}
	downlines, err := s.d.Users.Downlines(ctx, userID)
	if err != nil {
		return report, err
	}
	for gen, users := range downlines {
		d := Downline{Generation: gen + 1, Count: len(users)}
		for _, u := range users {
			d.Users = append(d.Users, ProfileOf(u))
		}
		report.Downlines = append(report.Downlines, d)
	}

	if report.Commissions, err = s.d.Referrals.Stats(ctx, userID); err != nil {
		return report, err
	}
	if report.Earned, err = s.d.Referrals.History(ctx, userID, 0); err != nil {
		return report, err
	}
	if report.Generated, err = s.d.Referrals.Generated(ctx, userID, 0); err != nil {
		return report, err
	}

	if report.Balance, err = s.d.Withdrawals.Balance(ctx, userID); err != nil {
		return report, err
	}
	if report.Withdrawals, err = s.d.Withdrawals.ByUser(ctx, userID); err != nil {
		return report, err
	}
	if report.Restricted, report.Restriction, err = s.d.Withdrawals.RestrictionStatus(ctx, userID, now); err != nil {
		return report, err
	}

	if report.Listings, err = s.d.Market.BySeller(ctx, userID); err != nil {
		return report, err
	}
	if report.OffersMade, report.OffersTaken, err = s.d.Market.MyOffers(ctx, userID); err != nil {
		return report, err
	}
	if report.Plans, err = s.d.Plans.ByUser(ctx, userID); err != nil {
		return report, err
	}
	if report.AuditTrail, err = s.d.Audits.ByTargetUser(ctx, userID, 0); err != nil {
		return report, err
	}
	return report, nil
}

// Health is the liveness payload: a cheap read through each backing store.
func (s *Service) Health(ctx context.Context) error {
	if _, err := s.d.Inventory.Counters(ctx); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	if _, err := s.d.Prices.Snapshot(ctx); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	return nil
}
