package installment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/blob"
	"github.com/sharevest/sharevest/internal/gateway"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
)

// monthsLateDivisor converts days past the grace window into whole months.
const monthsLateDivisor = 30

// defaultAfterMonthsLate is when a late plan becomes defaulted.
const defaultAfterMonthsLate = 3

// Deps wires the installment engine's collaborators.
type Deps struct {
	Store     Store
	Inventory inventory.Store
	Prices    *pricing.Service
	Referrals *referral.Service
	Gateway   gateway.Gateway
	Chain     gateway.StablecoinVerifier
	Proofs    blob.Store
	Mailer    notification.Mailer
	Users     *identity.Service
	Audits    *audit.Service
	Metrics   *metrics.Set
	Logger    *slog.Logger
}

// Service drives the plan state machine.
type Service struct {
	d Deps
}

// NewService builds an installment service.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// CreateInput opens a new plan.
type CreateInput struct {
	UserID   string
	Kind     ledger.ShareKind
	Quantity int64
	Currency money.Currency
	Months   int
}

// Create opens a plan in pending state. The tier breakdown and prices are
// fixed now and obeyed verbatim on every release; cofounder plans also
// reserve their pool capacity now.
func (s *Service) Create(ctx context.Context, in CreateInput) (Plan, []Item, error) {
	if !in.Kind.Valid() {
		return Plan{}, nil, apperr.Validation("unknown share kind %q", in.Kind)
	}
	if _, err := s.d.Users.Get(ctx, in.UserID); err != nil {
		return Plan{}, nil, err
	}
	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return Plan{}, nil, err
	}
	if in.Months < snap.InstallmentMinMonths || in.Months > snap.InstallmentMaxMonths {
		return Plan{}, nil, apperr.Validation("months must be within [%d,%d]",
			snap.InstallmentMinMonths, snap.InstallmentMaxMonths)
	}
	if _, err := s.d.Store.NonTerminalByUserKind(ctx, in.UserID, in.Kind); err == nil {
		return Plan{}, nil, apperr.StateConflict("an open %s plan already exists", in.Kind)
	} else if !apperr.IsCode(err, apperr.CodeNotFound) {
		return Plan{}, nil, err
	}

	counters, err := s.d.Inventory.Counters(ctx)
	if err != nil {
		return Plan{}, nil, err
	}
	var res inventory.Reservation
	if in.Kind == ledger.ShareCofounder {
		res, err = inventory.PlanCofounder(counters, snap, in.Quantity, in.Currency)
	} else {
		res, err = inventory.PlanRegular(counters, snap, in.Quantity, in.Currency)
	}
	if err != nil {
		return Plan{}, nil, err
	}

	now := time.Now().UTC()
	plan := Plan{
		UserID:        in.UserID,
		Kind:          in.Kind,
		TotalShares:   in.Quantity,
		TotalPrice:    res.Total,
		Currency:      in.Currency,
		Months:        in.Months,
		MinDown:       money.Percent(res.Total, snap.InstallmentMinDownPct),
		TierBreakdown: res.Tiers,
		State:         StatePending,
		ConfigVersion: snap.Version,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if plan.Kind == ledger.ShareCofounder {
		// The whole quantity releases from the pool; the breakdown is unused.
		plan.TierBreakdown = [3]int64{plan.TotalShares, 0, 0}
	}
	items := Schedule(plan.ID, plan.TotalPrice, plan.MinDown, plan.Months, now)

	stored, err := s.d.Store.CreatePlan(ctx, plan, items, snap)
	if err != nil {
		return Plan{}, nil, err
	}
	for i := range items {
		items[i].PlanID = stored.ID
	}
	s.d.Logger.Info("installment plan opened",
		slog.String("plan", stored.ID),
		slog.String("user", in.UserID),
		slog.String("kind", string(in.Kind)),
		slog.Int64("shares", in.Quantity),
		slog.Int64("total", stored.TotalPrice),
		slog.Int("months", in.Months))
	return stored, items, nil
}

// PayInput opens one installment payment.
type PayInput struct {
	UserID string
	PlanID string
	Index  int
	Amount int64
	Method ledger.PaymentMethod

	TxHash    string
	Proof     []byte
	ProofMIME string
	ProofName string
}

// PayResult is an opened installment payment.
type PayResult struct {
	Item Item
	// Payment is set for the gateway method.
	Payment *gateway.InitializeResult
}

// Pay validates the amount and opens a pending payment on the installment.
// First payments must reach the plan's minimum down payment.
func (s *Service) Pay(ctx context.Context, in PayInput) (PayResult, error) {
	if !in.Method.Valid() {
		return PayResult{}, apperr.Validation("unknown payment method %q", in.Method)
	}
	if in.Amount <= 0 {
		return PayResult{}, apperr.Validation("amount must be positive")
	}
	plan, items, err := s.d.Store.Get(ctx, in.PlanID)
	if err != nil {
		return PayResult{}, err
	}
	if plan.UserID != in.UserID {
		return PayResult{}, apperr.NotFound("plan %s", in.PlanID)
	}
	if plan.State.Terminal() {
		return PayResult{}, apperr.StateConflict("plan %s is %s", in.PlanID, plan.State)
	}
	if in.Index < 0 || in.Index >= len(items) {
		return PayResult{}, apperr.NotFound("installment %d of plan %s", in.Index, in.PlanID)
	}
	if plan.PaidAmount+in.Amount > plan.TotalPrice {
		return PayResult{}, apperr.Validation("amount %d exceeds the remaining balance %d", in.Amount, plan.Remaining())
	}
	if items[in.Index].IsFirst && in.Amount < plan.MinDown {
		return PayResult{}, apperr.Validation("first payment must be at least %d", plan.MinDown)
	}

	ref := ""
	proofHandle, txHash := "", ""
	switch in.Method {
	case ledger.MethodGateway:
		ref = gateway.NewReference()
	case ledger.MethodStablecoin:
		if in.TxHash == "" {
			return PayResult{}, apperr.Validation("tx_hash is required for stablecoin payments")
		}
		ref = in.TxHash
		txHash = in.TxHash
	case ledger.MethodManual:
		handle, err := s.d.Proofs.Put(ctx, in.Proof, in.ProofMIME, in.ProofName)
		if err != nil {
			return PayResult{}, err
		}
		ref = gateway.NewReference()
		proofHandle = handle
	}

	item, err := s.d.Store.OpenPayment(ctx, in.PlanID, in.Index, in.Amount, in.Method, ref, proofHandle, txHash)
	if err != nil {
		return PayResult{}, err
	}
	out := PayResult{Item: item}

	if in.Method == ledger.MethodGateway {
		user, err := s.d.Users.Get(ctx, in.UserID)
		if err != nil {
			return PayResult{}, err
		}
		payment, err := s.d.Gateway.Initialize(ctx, gateway.InitializeInput{
			Email:      user.Email,
			MinorUnits: in.Amount,
			Reference:  ref,
			Metadata:   map[string]string{"plan_id": in.PlanID, "index": fmt.Sprint(in.Index)},
		})
		if err != nil {
			if _, failErr := s.d.Store.FailPayment(ctx, ref, time.Now().UTC()); failErr != nil {
				s.d.Logger.Error("failing installment after gateway error",
					slog.String("reference", ref), slog.String("error", failErr.Error()))
			}
			return PayResult{}, apperr.ExternalFailed("payment gateway rejected the initialization")
		}
		out.Payment = &payment
	}

	s.d.Logger.Info("installment payment opened",
		slog.String("plan", in.PlanID),
		slog.Int("index", in.Index),
		slog.Int64("amount", in.Amount),
		slog.String("method", string(in.Method)))
	return out, nil
}

// Verify re-queries the external collaborator for the reference and settles
// the installment. Verifying a settled reference returns the prior outcome.
func (s *Service) Verify(ctx context.Context, userID, ref string) (PaymentOutcome, error) {
	plan, item, err := s.d.Store.ByExternalRef(ctx, ref)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if userID != "" && plan.UserID != userID {
		return PaymentOutcome{}, apperr.NotFound("installment reference %s", ref)
	}
	if item.Status == ItemCompleted {
		return s.apply(ctx, plan, ref, false)
	}

	switch item.Method {
	case ledger.MethodGateway:
		result, err := s.d.Gateway.Verify(ctx, ref)
		if err != nil {
			return PaymentOutcome{}, err
		}
		switch result.Status {
		case gateway.VerifyPending:
			return PaymentOutcome{Plan: plan, Item: item}, apperr.ExternalPending("payment is still processing")
		case gateway.VerifyFailed:
			return s.failPayment(ctx, ref, "gateway reported failure")
		}
		if result.MinorUnits < item.PaidAmount {
			return s.failPayment(ctx, ref, fmt.Sprintf("gateway amount %d below payment %d", result.MinorUnits, item.PaidAmount))
		}
	case ledger.MethodStablecoin:
		result, err := s.d.Chain.VerifyTransfer(ctx, gateway.ChainCheck{TxHash: item.TxHash, Expected: item.PaidAmount})
		if err != nil {
			return PaymentOutcome{}, err
		}
		if !result.Verified {
			if result.ActualAmount == 0 {
				return PaymentOutcome{Plan: plan, Item: item}, apperr.ExternalPending("transfer not observed on chain yet")
			}
			return s.failPayment(ctx, ref, fmt.Sprintf("transfer amount %d below payment %d", result.ActualAmount, item.PaidAmount))
		}
	case ledger.MethodManual:
		return PaymentOutcome{Plan: plan, Item: item}, apperr.ExternalPending("awaiting manual review")
	default:
		return PaymentOutcome{}, apperr.StateConflict("installment %d has no payment method", item.Index)
	}
	return s.apply(ctx, plan, ref, false)
}

// AdminVerify settles a payment after review. With force, the payment settles
// even when the gateway does not report success; the item records the forced
// approval and the action is audited either way.
func (s *Service) AdminVerify(ctx context.Context, actor audit.Actor, ref string, force bool) (PaymentOutcome, error) {
	plan, item, err := s.d.Store.ByExternalRef(ctx, ref)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if item.Status == ItemCompleted {
		return s.apply(ctx, plan, ref, false)
	}
	if !force && item.Method == ledger.MethodGateway {
		result, err := s.d.Gateway.Verify(ctx, ref)
		if err != nil {
			return PaymentOutcome{}, err
		}
		if result.Status != gateway.VerifySuccess {
			return PaymentOutcome{}, apperr.ExternalFailed("gateway reports %s; use force to override", result.Status)
		}
	}
	out, err := s.apply(ctx, plan, ref, force)
	if err != nil {
		return out, err
	}
	if err := s.d.Audits.Record(ctx, actor, "installment.verify", plan.UserID, ref, item, out.Item); err != nil {
		return out, err
	}
	return out, nil
}

// AdminUnverify reverses a settled payment: the prior installment snapshot is
// reinstated, released shares are clawed back and the funded commissions roll
// back.
func (s *Service) AdminUnverify(ctx context.Context, actor audit.Actor, ref, reason string) (UnverifyOutcome, error) {
	if reason == "" {
		return UnverifyOutcome{}, apperr.Validation("a reversal reason is required")
	}
	before, beforeItem, err := s.d.Store.ByExternalRef(ctx, ref)
	if err != nil {
		return UnverifyOutcome{}, err
	}
	out, err := s.d.Store.Unverify(ctx, ref, reason, time.Now().UTC())
	if err != nil {
		return UnverifyOutcome{}, err
	}
	if _, err := s.d.Referrals.RollbackSource(ctx, out.SourceEntryID, "installment unverified: "+reason); err != nil {
		return out, fmt.Errorf("installment unverified but commission rollback failed: %w", err)
	}
	if err := s.d.Audits.Record(ctx, actor, "installment.unverify", before.UserID, ref, beforeItem, out.Item); err != nil {
		return out, err
	}
	s.d.Logger.Info("installment payment unverified",
		slog.String("plan", before.ID),
		slog.String("reference", ref),
		slog.String("admin", actor.AdminID),
		slog.Int64("clawed_shares", out.ClawedShares))
	return out, nil
}

// Cancel lets the owner close a plan once the minimum down payment is in.
// Released shares stay in the holding.
func (s *Service) Cancel(ctx context.Context, userID, planID string) (Plan, error) {
	plan, _, err := s.d.Store.Get(ctx, planID)
	if err != nil {
		return Plan{}, err
	}
	if plan.UserID != userID {
		return Plan{}, apperr.NotFound("plan %s", planID)
	}
	if plan.PaidAmount < plan.MinDown {
		return Plan{}, apperr.StateConflict("plan can be cancelled only after the minimum down payment")
	}
	return s.d.Store.Cancel(ctx, planID, "cancelled by owner", time.Now().UTC())
}

// AdminCancel closes any non-terminal plan with a reason.
func (s *Service) AdminCancel(ctx context.Context, actor audit.Actor, planID, reason string) (Plan, error) {
	if reason == "" {
		return Plan{}, apperr.Validation("a cancellation reason is required")
	}
	before, _, err := s.d.Store.Get(ctx, planID)
	if err != nil {
		return Plan{}, err
	}
	plan, err := s.d.Store.Cancel(ctx, planID, reason, time.Now().UTC())
	if err != nil {
		return Plan{}, err
	}
	if err := s.d.Audits.Record(ctx, actor, "installment.cancel", plan.UserID, planID, before, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// Get returns a plan with its schedule, owner-scoped.
func (s *Service) Get(ctx context.Context, userID, planID string) (Plan, []Item, error) {
	plan, items, err := s.d.Store.Get(ctx, planID)
	if err != nil {
		return Plan{}, nil, err
	}
	if userID != "" && plan.UserID != userID {
		return Plan{}, nil, apperr.NotFound("plan %s", planID)
	}
	return plan, items, nil
}

// ByUser lists the user's plans.
func (s *Service) ByUser(ctx context.Context, userID string) ([]Plan, error) {
	return s.d.Store.ByUser(ctx, userID)
}

// Counts groups plans by state.
func (s *Service) Counts(ctx context.Context) (map[State]int64, error) {
	return s.d.Store.CountByState(ctx)
}

// SweepOverdue walks the open plans, accrues capped late fees on those past
// the grace window and defaults plans three or more months late. Safe to run
// concurrently with user payments.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (SweepResult, error) {
	plans, err := s.d.Store.ListSweepable(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	var result SweepResult
	for _, plan := range plans {
		result.Scanned++
		snap, err := s.snapshotFor(ctx, plan.ConfigVersion)
		if err != nil {
			return result, err
		}

		anchor := plan.CreatedAt
		if plan.LastPaymentAt != nil {
			anchor = *plan.LastPaymentAt
		}
		days := int(now.UTC().Sub(anchor).Hours() / 24)
		if days <= snap.InstallmentGraceDays {
			continue
		}
		monthsLate := days / monthsLateDivisor
		if monthsLate < 1 {
			continue
		}

		accrued := money.Percent(plan.Remaining(), snap.LateFeePercent*int64(monthsLate))
		if lid := money.Percent(plan.TotalPrice, snap.LateFeeCapPercent); accrued > lid {
			accrued = lid
		}
		if accrued > plan.LateFeeAccrued {
			result.FeesLevied += accrued - plan.LateFeeAccrued
			plan.LateFeeAccrued = accrued
		}
		plan.MonthsLate = monthsLate
		if monthsLate >= defaultAfterMonthsLate {
			plan.State = StateDefaulted
			result.Defaulted++
			s.d.Metrics.PlansDefaulted.Inc()
		} else {
			plan.State = StateLate
			result.MarkedLate++
		}
		plan.UpdatedAt = now.UTC()
		if err := s.d.Store.SaveSweep(ctx, plan); err != nil {
			// Another writer may have closed the plan meanwhile.
			if apperr.IsCode(err, apperr.CodeStateConflict) {
				continue
			}
			return result, err
		}
		s.d.Logger.Info("plan swept",
			slog.String("plan", plan.ID),
			slog.Int("months_late", monthsLate),
			slog.String("state", string(plan.State)),
			slog.Int64("late_fee", plan.LateFeeAccrued))
	}
	s.d.Metrics.SweepRuns.WithLabelValues("installment_overdue").Inc()
	return result, nil
}

// Proof returns the manual-payment evidence attached to an installment.
func (s *Service) Proof(ctx context.Context, ref string) (blob.Object, error) {
	_, item, err := s.d.Store.ByExternalRef(ctx, ref)
	if err != nil {
		return blob.Object{}, err
	}
	if item.ProofHandle == "" {
		return blob.Object{}, apperr.NotFound("installment %s carries no proof", ref)
	}
	return s.d.Proofs.Get(ctx, item.ProofHandle)
}

func (s *Service) apply(ctx context.Context, plan Plan, ref string, force bool) (PaymentOutcome, error) {
	snap, err := s.snapshotFor(ctx, plan.ConfigVersion)
	if err != nil {
		return PaymentOutcome{}, err
	}
	out, err := s.d.Store.ApplyPayment(ctx, ref, snap, force, time.Now().UTC())
	if err != nil {
		return PaymentOutcome{}, err
	}
	if out.Applied {
		s.afterPayment(ctx, out)
	}
	return out, nil
}

func (s *Service) failPayment(ctx context.Context, ref, reason string) (PaymentOutcome, error) {
	item, err := s.d.Store.FailPayment(ctx, ref, time.Now().UTC())
	if err != nil {
		return PaymentOutcome{}, err
	}
	s.d.Logger.Info("installment payment failed",
		slog.String("reference", ref), slog.String("reason", reason))
	return PaymentOutcome{Item: item}, apperr.ExternalFailed("payment verification failed: %s", reason)
}

func (s *Service) afterPayment(ctx context.Context, out PaymentOutcome) {
	s.d.Metrics.InstallmentPayments.Inc()

	if _, err := s.d.Referrals.Propagate(ctx, out.Entry); err != nil {
		s.d.Logger.Error("commission propagation failed",
			slog.String("entry", out.Entry.ID), slog.String("error", err.Error()))
	}

	user, err := s.d.Users.Get(ctx, out.Plan.UserID)
	if err == nil {
		subject := "Installment payment received"
		body := fmt.Sprintf("<p>Payment of %d received; plan is %s.</p>", out.Item.PaidAmount, out.Plan.State)
		if out.Plan.State == StateCompleted {
			subject = "Installment plan completed"
			body = fmt.Sprintf("<p>Your plan is fully paid; %d share(s) are in your holding.</p>", out.Plan.TotalShares)
		}
		if err := s.d.Mailer.Send(ctx, notification.Email{To: user.Email, Subject: subject, HTML: body}); err != nil {
			s.d.Logger.Warn("installment email failed",
				slog.String("plan", out.Plan.ID), slog.String("error", err.Error()))
		}
	}

	s.d.Logger.Info("installment payment settled",
		slog.String("plan", out.Plan.ID),
		slog.Int("index", out.Item.Index),
		slog.Int64("amount", out.Item.PaidAmount),
		slog.Int64("released", out.ReleasedDelta),
		slog.String("state", string(out.Plan.State)))
}

func (s *Service) snapshotFor(ctx context.Context, version int64) (pricing.Snapshot, error) {
	if version > 0 {
		snap, err := s.d.Prices.ByVersion(ctx, version)
		if err == nil {
			return snap, nil
		}
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return pricing.Snapshot{}, err
		}
	}
	return s.d.Prices.Snapshot(ctx)
}
