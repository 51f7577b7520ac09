package referral

import (
	"context"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/pricing"
)

// SourceModel values distinguish the event that funded a commission.
const (
	SourceDirect      = "direct_purchase"
	SourceInstallment = "installment_payment"
	SourceMarketplace = "marketplace"
)

// Service issues, rolls back and reconciles commissions. Propagation runs
// after the funding purchase committed; a failure here never unwinds the
// purchase, it is retried by Reconcile.
type Service struct {
	store   Store
	users   *identity.Service
	prices  *pricing.Service
	metrics *metrics.Set
	logger  *slog.Logger
}

// NewService builds a referral service.
func NewService(store Store, users *identity.Service, prices *pricing.Service, set *metrics.Set, logger *slog.Logger) *Service {
	return &Service{store: store, users: users, prices: prices, metrics: set, logger: logger}
}

// Propagate walks up to three referrer generations of the source entry's
// actor and issues a commission to each at the generation's rate. Rates come
// from the configuration version the entry was priced under; zero rates skip
// the generation without breaking the chain. Re-running for the same entry is
// a no-op per generation.
func (s *Service) Propagate(ctx context.Context, source ledger.Entry) ([]Commission, error) {
	if source.Status != ledger.StatusCompleted {
		return nil, apperr.StateConflict("source entry %s is %s", source.ID, source.Status)
	}
	sourceModel := sourceModelOf(source)
	if sourceModel == "" {
		return nil, apperr.Validation("entry kind %s does not fund commissions", source.Kind)
	}

	snap, err := s.snapshotFor(ctx, source.Metadata.ConfigVersion)
	if err != nil {
		return nil, err
	}
	chain, err := s.users.ReferrerChain(ctx, source.ActorUser)
	if err != nil {
		return nil, err
	}

	var issued []Commission
	for i, referrer := range chain {
		generation := i + 1
		rate := snap.Rate(generation)
		if rate <= 0 {
			continue
		}
		commission := Commission{
			Beneficiary:   referrer.ID,
			ReferredUser:  source.ActorUser,
			Generation:    generation,
			PurchaseType:  source.Metadata.ShareKind,
			SourceEntryID: source.ID,
			SourceModel:   sourceModel,
			Amount:        money.Percent(source.Amount, rate),
			Currency:      source.Currency,
			RateUsed:      rate,
			BaseAmount:    source.Amount,
		}
		if commission.Amount <= 0 {
			continue
		}
		saved, applied, err := s.store.SaveCompleted(ctx, commission)
		if err != nil {
			return issued, err
		}
		if applied {
			s.metrics.CommissionsIssued.WithLabelValues(generationLabel(generation)).Inc()
			s.logger.Info("commission issued",
				slog.String("beneficiary", saved.Beneficiary),
				slog.Int("generation", generation),
				slog.Int64("amount", saved.Amount),
				slog.String("source_entry", source.ID))
		}
		issued = append(issued, saved)
	}
	return issued, nil
}

// RollbackSource withdraws every completed commission funded by the entry,
// e.g. when an admin reverses the purchase or unverifies an installment.
func (s *Service) RollbackSource(ctx context.Context, sourceEntryID, reason string) ([]Commission, error) {
	rolled, err := s.store.RollbackSource(ctx, sourceEntryID, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, c := range rolled {
		s.metrics.CommissionsRolledBack.Inc()
		s.logger.Info("commission rolled back",
			slog.String("commission", c.ID),
			slog.String("beneficiary", c.Beneficiary),
			slog.Int64("amount", c.Amount),
			slog.String("reason", reason))
	}
	return rolled, nil
}

// Audit scans for completed commissions sharing an idempotency key, keeps the
// earliest of each group and marks the rest duplicate. Re-running after a
// clean pass reports zero groups.
func (s *Service) Audit(ctx context.Context) (AuditReport, error) {
	groups, err := s.store.DuplicateGroups(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{GroupsFound: len(groups)}
	now := time.Now().UTC()
	for _, group := range groups {
		for _, c := range group[1:] {
			if err := s.store.MarkDuplicate(ctx, c.ID, now); err != nil {
				return report, err
			}
			report.MarkedDuplicate++
			report.AmountReclaimed += c.Amount
		}
	}
	if report.MarkedDuplicate > 0 {
		s.logger.Warn("duplicate commissions reclaimed",
			slog.Int("groups", report.GroupsFound),
			slog.Int("marked", report.MarkedDuplicate),
			slog.Int64("amount", report.AmountReclaimed))
	}
	return report, nil
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	EntriesScanned int
	Recreated      int
}

// Reconcile replays completed funding entries since the cutoff and re-issues
// any commission that should exist but does not. SaveCompleted's idempotency
// makes already-present commissions no-ops, so the pass is safe to repeat.
func (s *Service) Reconcile(ctx context.Context, entries ledger.Store, since time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	const page = 500
	var cursor int64
	for {
		batch, err := entries.ListCompleted(ctx,
			[]ledger.Kind{ledger.KindPurchase, ledger.KindInstallmentPayment}, since, cursor, page)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			return report, nil
		}
		for _, entry := range batch {
			report.EntriesScanned++
			before, err := s.completedForSource(ctx, entry.ID)
			if err != nil {
				return report, err
			}
			if _, err := s.Propagate(ctx, entry); err != nil {
				s.logger.Error("reconcile: propagate failed",
					slog.String("entry", entry.ID), slog.String("error", err.Error()))
				continue
			}
			after, err := s.completedForSource(ctx, entry.ID)
			if err != nil {
				return report, err
			}
			report.Recreated += after - before
		}
		if len(batch) < page {
			return report, nil
		}
		cursor = batch[len(batch)-1].Seq
	}
}

// Stats returns the user's roll-up together with their downline counts.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	return s.store.Stats(ctx, userID)
}

// History lists commissions earned by the user, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Commission, error) {
	return s.store.ByBeneficiary(ctx, userID, limit)
}

// Generated lists commissions the user's own purchases produced for their
// uplines, newest first.
func (s *Service) Generated(ctx context.Context, userID string, limit int) ([]Commission, error) {
	return s.store.ByReferredUser(ctx, userID, limit)
}

// DuplicateCount counts completed commissions currently sharing an
// idempotency key.
func (s *Service) DuplicateCount(ctx context.Context) (int64, error) {
	return s.store.CountDuplicates(ctx)
}

// CompletedEarnings is the summed completed commissions to the user; the
// withdrawal balance is derived from it.
func (s *Service) CompletedEarnings(ctx context.Context, userID string) (int64, error) {
	return s.store.CompletedEarnings(ctx, userID)
}

func (s *Service) completedForSource(ctx context.Context, sourceEntryID string) (int, error) {
	all, err := s.store.BySource(ctx, sourceEntryID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range all {
		if c.Status == StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (s *Service) snapshotFor(ctx context.Context, version int64) (pricing.Snapshot, error) {
	if version > 0 {
		snap, err := s.prices.ByVersion(ctx, version)
		if err == nil {
			return snap, nil
		}
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return pricing.Snapshot{}, err
		}
	}
	return s.prices.Snapshot(ctx)
}

func sourceModelOf(entry ledger.Entry) string {
	switch entry.Kind {
	case ledger.KindPurchase:
		return SourceDirect
	case ledger.KindInstallmentPayment:
		return SourceInstallment
	default:
		return ""
	}
}

func generationLabel(g int) string {
	switch g {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	}
	return "other"
}
