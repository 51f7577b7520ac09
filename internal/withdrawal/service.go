package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/audit"
	"github.com/sharevest/sharevest/internal/identity"
	"github.com/sharevest/sharevest/internal/metrics"
	"github.com/sharevest/sharevest/internal/money"
	"github.com/sharevest/sharevest/internal/notification"
	"github.com/sharevest/sharevest/internal/pricing"
	"github.com/sharevest/sharevest/internal/referral"
)

// Deps wires the withdrawal engine's collaborators.
type Deps struct {
	Store    Store
	Earnings *referral.Service
	Prices   *pricing.Service
	Users    *identity.Service
	Mailer   notification.Mailer
	Audits   *audit.Service
	Metrics  *metrics.Set
	Logger   *slog.Logger
}

// Service drives the payout state machine over the derived earnings balance.
type Service struct {
	d Deps
}

// NewService builds a withdrawal service.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// Balance derives the user's spendable position. In-flight requests reserve
// balance, so the available figure can never be spent twice.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	earned, err := s.d.Earnings.CompletedEarnings(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	withdrawn, err := s.d.Store.SumCompleted(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	inFlight, err := s.d.Store.SumInFlight(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Earned:    earned,
		Withdrawn: withdrawn,
		InFlight:  inFlight,
		Available: earned - withdrawn - inFlight,
	}, nil
}

// RequestInput opens a payout request.
type RequestInput struct {
	UserID      string
	Amount      int64
	Method      string
	Destination string
}

// Request opens a pending payout after the policy gate: withdrawals enabled,
// amount at or above the minimum, no active restriction, daily cap not hit,
// and the amount covered by the available balance.
func (s *Service) Request(ctx context.Context, in RequestInput) (Request, error) {
	if in.Amount <= 0 {
		return Request{}, apperr.Validation("amount must be positive")
	}
	if in.Method == "" || in.Destination == "" {
		return Request{}, apperr.Validation("method and destination are required")
	}
	if _, err := s.d.Users.Get(ctx, in.UserID); err != nil {
		return Request{}, err
	}
	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return Request{}, err
	}
	if !snap.Withdrawal.Enabled {
		return Request{}, apperr.StateConflict("withdrawals are currently disabled")
	}
	if in.Amount < snap.Withdrawal.Minimum {
		return Request{}, apperr.Validation("amount is below the minimum of %d", snap.Withdrawal.Minimum)
	}

	now := time.Now().UTC()
	if restriction, err := s.d.Store.Restriction(ctx, in.UserID); err == nil {
		if restriction.ActiveAt(now) {
			return Request{}, apperr.Forbidden("withdrawals are restricted for this account")
		}
	} else if !apperr.IsCode(err, apperr.CodeNotFound) {
		return Request{}, err
	}
	if snap.Withdrawal.DailyCap > 0 {
		count, err := s.d.Store.CountToday(ctx, in.UserID, now)
		if err != nil {
			return Request{}, err
		}
		if count >= snap.Withdrawal.DailyCap {
			return Request{}, apperr.RateLimit("daily withdrawal limit of %d reached", snap.Withdrawal.DailyCap)
		}
	}
	balance, err := s.Balance(ctx, in.UserID)
	if err != nil {
		return Request{}, err
	}
	if in.Amount > balance.Available {
		return Request{}, apperr.InsufficientBalance("requested %d exceeds available balance %d",
			in.Amount, balance.Available)
	}

	r, err := s.d.Store.CreateRequest(ctx, Request{
		UserID:      in.UserID,
		Amount:      in.Amount,
		Fee:         money.Percent(in.Amount, snap.Withdrawal.FeePercent),
		Method:      in.Method,
		Destination: in.Destination,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Request{}, err
	}
	s.d.Logger.Info("withdrawal requested",
		slog.String("withdrawal_id", r.ID), slog.String("user_id", r.UserID),
		slog.Int64("amount", r.Amount), slog.Int64("fee", r.Fee))
	return r, nil
}

// Get returns one request to its owner.
func (s *Service) Get(ctx context.Context, userID, id string) (Request, error) {
	r, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if userID != "" && r.UserID != userID {
		return Request{}, apperr.NotFound("withdrawal %s", id)
	}
	return r, nil
}

// ByUser returns the user's requests, newest first.
func (s *Service) ByUser(ctx context.Context, userID string) ([]Request, error) {
	return s.d.Store.ByUser(ctx, userID)
}

// Cancel closes the owner's pending request and releases its reservation.
func (s *Service) Cancel(ctx context.Context, userID, id string) (Request, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return Request{}, err
	}
	r, err := s.d.Store.Cancel(ctx, id, time.Now())
	if err != nil {
		return Request{}, err
	}
	s.d.Metrics.WithdrawalOutcomes.WithLabelValues("cancelled").Inc()
	return r, nil
}

// MarkProcessing moves a pending request to processing while the payout runs
// at the provider.
func (s *Service) MarkProcessing(ctx context.Context, actor audit.Actor, id string) (Request, error) {
	before, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	r, err := s.d.Store.MarkProcessing(ctx, id, time.Now())
	if err != nil {
		return Request{}, err
	}
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.process", r.UserID, id, before, r); err != nil {
		return r, err
	}
	return r, nil
}

// Complete settles a processing request: the withdrawal_debit entry is
// appended and the money leaves the balance for good.
func (s *Service) Complete(ctx context.Context, actor audit.Actor, id, providerRef string) (Outcome, error) {
	before, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.d.Store.Complete(ctx, id, providerRef, time.Now())
	if err != nil {
		return Outcome{}, err
	}
	s.d.Metrics.WithdrawalOutcomes.WithLabelValues("completed").Inc()
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.complete", out.Request.UserID, id, before, out.Request); err != nil {
		return out, err
	}
	s.notify(ctx, out.Request, "Withdrawal paid out",
		fmt.Sprintf("Your withdrawal of %d has been paid out. Net amount after fee: %d.",
			out.Request.Amount, out.Request.Amount-out.Request.Fee))
	return out, nil
}

// Fail closes a processing request whose payout never left. The reservation
// releases and nothing touches the ledger.
func (s *Service) Fail(ctx context.Context, actor audit.Actor, id, reason string) (Request, error) {
	if reason == "" {
		return Request{}, apperr.Validation("a failure reason is required")
	}
	before, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	r, err := s.d.Store.Fail(ctx, id, reason, time.Now())
	if err != nil {
		return Request{}, err
	}
	s.d.Metrics.WithdrawalOutcomes.WithLabelValues("failed").Inc()
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.fail", r.UserID, id, before, r); err != nil {
		return r, err
	}
	return r, nil
}

// Refund compensates a completed request whose provider payout bounced after
// settlement. The withdrawal_refund entry restores the balance on the books.
func (s *Service) Refund(ctx context.Context, actor audit.Actor, id, reason string) (Outcome, error) {
	if reason == "" {
		return Outcome{}, apperr.Validation("a refund reason is required")
	}
	before, err := s.d.Store.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.d.Store.RefundCompleted(ctx, id, reason, time.Now())
	if err != nil {
		return Outcome{}, err
	}
	s.d.Metrics.WithdrawalOutcomes.WithLabelValues("refunded").Inc()
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.refund", out.Request.UserID, id, before, out.Request); err != nil {
		return out, err
	}
	s.notify(ctx, out.Request, "Withdrawal refunded",
		fmt.Sprintf("Your withdrawal of %d could not be paid out and was returned to your balance.",
			out.Request.Amount))
	return out, nil
}

// RestrictInput blocks a user's withdrawals.
type RestrictInput struct {
	UserID   string
	Scope    RestrictionScope
	StartsAt *time.Time
	EndsAt   *time.Time
	Reason   string
}

// Restrict blocks the user's withdrawal requests, permanently or for a
// window.
func (s *Service) Restrict(ctx context.Context, actor audit.Actor, in RestrictInput) (Restriction, error) {
	if in.Scope != ScopePermanent && in.Scope != ScopeTemporary {
		return Restriction{}, apperr.Validation("unknown restriction scope %q", in.Scope)
	}
	if in.Scope == ScopeTemporary && in.StartsAt == nil && in.EndsAt == nil {
		return Restriction{}, apperr.Validation("a temporary restriction needs a window")
	}
	if in.Reason == "" {
		return Restriction{}, apperr.Validation("a restriction reason is required")
	}
	if _, err := s.d.Users.Get(ctx, in.UserID); err != nil {
		return Restriction{}, err
	}
	r, err := s.d.Store.SetRestriction(ctx, Restriction{
		UserID:       in.UserID,
		IsRestricted: true,
		Scope:        in.Scope,
		StartsAt:     in.StartsAt,
		EndsAt:       in.EndsAt,
		Reason:       in.Reason,
		CreatedBy:    actor.AdminID,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return Restriction{}, err
	}
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.restrict", r.UserID, r.ID, nil, r); err != nil {
		return r, err
	}
	return r, nil
}

// Unrestrict lifts the user's current restriction.
func (s *Service) Unrestrict(ctx context.Context, actor audit.Actor, userID, reason string) (Restriction, error) {
	current, err := s.d.Store.Restriction(ctx, userID)
	if err != nil {
		return Restriction{}, err
	}
	if !current.IsRestricted {
		return Restriction{}, apperr.StateConflict("user %s is not restricted", userID)
	}
	r, err := s.d.Store.SetRestriction(ctx, Restriction{
		UserID:       userID,
		IsRestricted: false,
		Scope:        current.Scope,
		Reason:       reason,
		CreatedBy:    actor.AdminID,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return Restriction{}, err
	}
	if err := s.d.Audits.Record(ctx, actor, "withdrawal.unrestrict", r.UserID, r.ID, current, r); err != nil {
		return r, err
	}
	return r, nil
}

// RestrictionStatus reports whether withdrawals are currently blocked for the
// user. No restriction on file means unrestricted.
func (s *Service) RestrictionStatus(ctx context.Context, userID string, now time.Time) (bool, *Restriction, error) {
	r, err := s.d.Store.Restriction(ctx, userID)
	if apperr.IsCode(err, apperr.CodeNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return r.ActiveAt(now), &r, nil
}

// RestrictionHistory returns the user's restriction records, oldest first.
func (s *Service) RestrictionHistory(ctx context.Context, userID string) ([]Restriction, error) {
	return s.d.Store.RestrictionsByUser(ctx, userID)
}

// Counts groups requests by status.
func (s *Service) Counts(ctx context.Context) (map[Status]int64, error) {
	return s.d.Store.CountByStatus(ctx)
}

func (s *Service) notify(ctx context.Context, r Request, subject, body string) {
	user, err := s.d.Users.Get(ctx, r.UserID)
	if err != nil {
		return
	}
	email := notification.Email{To: user.Email, Subject: subject, HTML: body}
	if err := s.d.Mailer.Send(ctx, email); err != nil {
		s.d.Logger.Warn("withdrawal email failed",
			slog.String("withdrawal_id", r.ID), slog.String("error", err.Error()))
	}
}
