// Package overview is the read model behind the dashboards. Every figure is
// derived from the ledger and the current balances; nothing here takes write
// locks, so reports carry snapshot-level consistency.
package overview

import (
	"time"

	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/installment"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/market"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/referral"
	"github.com/sharevest/sharevest/internal/withdrawal"
)

// Issue severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Issue thresholds. A figure at or above its threshold raises the issue.
const (
	ThresholdDuplicateCommissions = 10
	ThresholdPendingWithdrawals   = 20
	ThresholdPendingKYC           = 50
	ThresholdStuckOffers          = 5
	ThresholdDefaultedPlans       = 10
)

// Issue is one flagged operational concern.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Count    int64  `json:"count"`
}

// Revenue groups completed inflow entries along the axes the dashboard plots.
type Revenue struct {
	Total      int64                          `json:"total"`
	ByCurrency map[money.Currency]int64       `json:"by_currency"`
	ByMethod   map[ledger.PaymentMethod]int64 `json:"by_method"`
	ByKind     map[ledger.Kind]int64          `json:"by_kind"`
}

// DailyRevenue is one day's completed inflow.
type DailyRevenue struct {
	Day    string `json:"day"`
	Amount int64  `json:"amount"`
}

// SystemReport is the admin dashboard payload.
type SystemReport struct {
	Sold         inventory.Counters             `json:"sold"`
	Availability inventory.Availability         `json:"availability"`
	Held         holding.Totals                 `json:"held"`
	Revenue      Revenue                        `json:"revenue"`
	Daily        []DailyRevenue                 `json:"daily_revenue"`
	Listings     map[market.ListingStatus]int64 `json:"listings"`
	Offers       map[market.OfferStatus]int64   `json:"offers"`
	StuckOffers  int64                          `json:"stuck_offers"`
	Plans        map[installment.State]int64    `json:"plans"`
	Withdrawals  map[withdrawal.Status]int64    `json:"withdrawals"`
	PendingKYC   int64                          `json:"pending_kyc"`
	Duplicates   int64                          `json:"duplicate_commissions"`
	Issues       []Issue                        `json:"issues"`
	GeneratedAt  time.Time                      `json:"generated_at"`
}

// Profile is the user identity slice safe to embed in reports.
type Profile struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Email        string             `json:"email"`
	ReferralCode string             `json:"referral_code"`
	KYC          identity.KYCStatus `json:"kyc_status"`
	IsBanned     bool               `json:"is_banned"`
	CreatedAt    time.Time          `json:"created_at"`
}

// ProfileOf trims a user to its report shape.
func ProfileOf(u identity.User) Profile {
	return Profile{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ReferralCode: u.ReferralCode,
		KYC:          u.KYC,
		IsBanned:     u.IsBanned,
		CreatedAt:    u.CreatedAt,
	}
}

// Downline is one referral generation of a user.
type Downline struct {
	Generation int       `json:"generation"`
	Count      int       `json:"count"`
	Users      []Profile `json:"users"`
}

// UserReport is the per-user support view.
type UserReport struct {
	Profile     Profile                 `json:"profile"`
	Holding     holding.Holding         `json:"holding"`
	Records     []holding.Record        `json:"records"`
	History     []ledger.Entry          `json:"history"`
	Referrer    *Profile                `json:"referrer,omitempty"`
	Downlines   []Downline              `json:"downlines"`
	Commissions referral.Stats          `json:"commissions"`
	Earned      []referral.Commission   `json:"commissions_earned"`
	Generated   []referral.Commission   `json:"commissions_generated"`
	Balance     withdrawal.Balance      `json:"balance"`
	Withdrawals []withdrawal.Request    `json:"withdrawals"`
	Restricted  bool                    `json:"restricted"`
	Restriction *withdrawal.Restriction `json:"restriction,omitempty"`
	Listings    []market.Listing        `json:"listings"`
	OffersMade  []market.Offer          `json:"offers_made"`
	OffersTaken []market.Offer          `json:"offers_received"`
	Plans       []installment.Plan      `json:"plans"`
	AuditTrail  []audit.Entry           `json:"audit_trail"`
	GeneratedAt time.Time               `json:"generated_at"`
}
