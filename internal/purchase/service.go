package purchase

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

// Deps wires the purchase engine's collaborators.
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

// Service drives the purchase lifecycle: price a reservation, open a pending
// intent, verify payment, commit. External calls never run inside a store
// transaction.
type Service struct {
	d Deps
}

// NewService builds a purchase service.
func NewService(d Deps) *Service {
	return &Service{d: d}
}

// BuyInput is a purchase request for either share kind.
type BuyInput struct {
	UserID   string
	Kind     ledger.ShareKind
	Quantity int64
	Currency money.Currency
	Method   ledger.PaymentMethod

	// TxHash identifies the stablecoin transfer (stablecoin method).
	TxHash string
	// Proof is the uploaded payment evidence (manual method).
	Proof       []byte
	ProofMIME   string
	ProofName   string
	CallbackURL string
}

// BuyResult is an opened purchase intent.
type BuyResult struct {
	Entry       ledger.Entry
	Reservation inventory.Reservation
	// Payment is set for the gateway method: where to send the buyer.
	Payment *gateway.InitializeResult
}

// Availability reports the purchasable remainder under the current pricing.
func (s *Service) Availability(ctx context.Context) (inventory.Availability, pricing.Snapshot, error) {
	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return inventory.Availability{}, pricing.Snapshot{}, err
	}
	counters, err := s.d.Inventory.Counters(ctx)
	if err != nil {
		return inventory.Availability{}, pricing.Snapshot{}, err
	}
	return inventory.Available(counters, snap), snap, nil
}

// Quote prices a prospective purchase without reserving anything.
func (s *Service) Quote(ctx context.Context, kind ledger.ShareKind, quantity int64, currency money.Currency) (inventory.Reservation, error) {
	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return inventory.Reservation{}, err
	}
	counters, err := s.d.Inventory.Counters(ctx)
	if err != nil {
		return inventory.Reservation{}, err
	}
	return plan(counters, snap, kind, quantity, currency)
}

// Buy opens a pending purchase intent. The reservation is priced against the
// current snapshot and pinned on the entry; nothing is committed until the
// payment verifies.
func (s *Service) Buy(ctx context.Context, in BuyInput) (BuyResult, error) {
	if !in.Kind.Valid() {
		return BuyResult{}, apperr.Validation("unknown share kind %q", in.Kind)
	}
	if !in.Method.Valid() {
		return BuyResult{}, apperr.Validation("unknown payment method %q", in.Method)
	}
	user, err := s.d.Users.Get(ctx, in.UserID)
	if err != nil {
		return BuyResult{}, err
	}

	snap, err := s.d.Prices.Snapshot(ctx)
	if err != nil {
		return BuyResult{}, err
	}
	counters, err := s.d.Inventory.Counters(ctx)
	if err != nil {
		return BuyResult{}, err
	}
	res, err := plan(counters, snap, in.Kind, in.Quantity, in.Currency)
	if err != nil {
		return BuyResult{}, err
	}

	entry := ledger.Entry{
		Kind:      ledger.KindPurchase,
		Status:    ledger.StatusPending,
		ActorUser: in.UserID,
		Amount:    res.Total,
		Currency:  in.Currency,
		Metadata: ledger.Metadata{
			ShareKind:     in.Kind,
			Quantity:      in.Quantity,
			Tiers:         res.Tiers,
			Method:        in.Method,
			ConfigVersion: snap.Version,
		},
		CreatedAt: time.Now().UTC(),
	}

	switch in.Method {
	case ledger.MethodGateway:
		entry.Reference = gateway.NewReference()
	case ledger.MethodStablecoin:
		if in.TxHash == "" {
			return BuyResult{}, apperr.Validation("tx_hash is required for stablecoin payments")
		}
		if in.Currency != money.Stable {
			return BuyResult{}, apperr.Validation("stablecoin payments settle in stable currency")
		}
		// The hash is the external reference, so resubmitting it collides.
		entry.Reference = in.TxHash
		entry.Metadata.TxHash = in.TxHash
	case ledger.MethodManual:
		handle, err := s.d.Proofs.Put(ctx, in.Proof, in.ProofMIME, in.ProofName)
		if err != nil {
			return BuyResult{}, err
		}
		entry.Reference = gateway.NewReference()
		entry.Metadata.ProofHandle = handle
	}

	stored, err := s.d.Store.CreateIntent(ctx, entry)
	if err != nil {
		return BuyResult{}, err
	}
	out := BuyResult{Entry: stored, Reservation: res}

	if in.Method == ledger.MethodGateway {
		payment, err := s.d.Gateway.Initialize(ctx, gateway.InitializeInput{
			Email:       user.Email,
			MinorUnits:  res.Total,
			Reference:   stored.Reference,
			CallbackURL: in.CallbackURL,
			Metadata:    map[string]string{"entry_id": stored.ID},
		})
		if err != nil {
			if _, failErr := s.d.Store.Fail(ctx, stored.ID, time.Now().UTC()); failErr != nil {
				s.d.Logger.Error("failing intent after gateway error",
					slog.String("entry", stored.ID), slog.String("error", failErr.Error()))
			}
			return BuyResult{}, apperr.ExternalFailed("payment gateway rejected the initialization")
		}
		out.Payment = &payment
	}

	s.d.Logger.Info("purchase intent opened",
		slog.String("entry", stored.ID),
		slog.String("user", in.UserID),
		slog.String("kind", string(in.Kind)),
		slog.Int64("quantity", in.Quantity),
		slog.Int64("amount", res.Total),
		slog.String("method", string(in.Method)))
	return out, nil
}

// VerifyGateway re-queries the gateway for the reference and settles the
// intent. Verifying an already-completed reference returns the prior outcome.
func (s *Service) VerifyGateway(ctx context.Context, userID, reference string) (Outcome, error) {
	entry, err := s.d.Store.EntryByReference(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	if userID != "" && entry.ActorUser != userID {
		return Outcome{}, apperr.NotFound("purchase %s", reference)
	}
	switch entry.Status {
	case ledger.StatusCompleted:
		return Outcome{Entry: entry, Applied: false}, nil
	case ledger.StatusFailed, ledger.StatusReversed:
		return Outcome{}, apperr.StateConflict("purchase %s is %s", entry.ID, entry.Status)
	}

	result, err := s.d.Gateway.Verify(ctx, reference)
	if err != nil {
		return Outcome{}, err
	}
	switch result.Status {
	case gateway.VerifyPending:
		return Outcome{Entry: entry}, apperr.ExternalPending("payment is still processing")
	case gateway.VerifyFailed:
		return s.fail(ctx, entry.ID, "gateway reported failure")
	}
	if result.MinorUnits < entry.Amount {
		return s.fail(ctx, entry.ID, fmt.Sprintf("gateway amount %d below charge %d", result.MinorUnits, entry.Amount))
	}
	return s.complete(ctx, entry)
}

// VerifyStablecoin checks the recorded transfer hash on chain and settles the
// intent when the transfer carries at least the charged amount.
func (s *Service) VerifyStablecoin(ctx context.Context, userID, entryID string) (Outcome, error) {
	entry, err := s.d.Store.Entry(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	if userID != "" && entry.ActorUser != userID {
		return Outcome{}, apperr.NotFound("purchase %s", entryID)
	}
	switch entry.Status {
	case ledger.StatusCompleted:
		return Outcome{Entry: entry, Applied: false}, nil
	case ledger.StatusFailed, ledger.StatusReversed:
		return Outcome{}, apperr.StateConflict("purchase %s is %s", entry.ID, entry.Status)
	}
	if entry.Metadata.TxHash == "" {
		return Outcome{}, apperr.StateConflict("purchase %s has no transfer hash", entryID)
	}

	result, err := s.d.Chain.VerifyTransfer(ctx, gateway.ChainCheck{
		TxHash:   entry.Metadata.TxHash,
		Expected: entry.Amount,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !result.Verified {
		if result.ActualAmount == 0 {
			return Outcome{Entry: entry}, apperr.ExternalPending("transfer not observed on chain yet")
		}
		return s.fail(ctx, entry.ID, fmt.Sprintf("transfer amount %d below charge %d", result.ActualAmount, entry.Amount))
	}
	return s.complete(ctx, entry)
}

// AdminVerify settles a pending intent on an admin's say-so, normally a manual
// payment whose proof checked out.
func (s *Service) AdminVerify(ctx context.Context, actor audit.Actor, entryID string) (Outcome, error) {
	entry, err := s.d.Store.Entry(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	if entry.Status == ledger.StatusCompleted {
		return Outcome{Entry: entry, Applied: false}, nil
	}
	out, err := s.complete(ctx, entry)
	if err != nil {
		return out, err
	}
	if err := s.d.Audits.Record(ctx, actor, "purchase.verify", entry.ActorUser, entry.ID, entry, out.Entry); err != nil {
		return out, err
	}
	return out, nil
}

// AdminReject fails a pending intent, normally a manual payment whose proof
// did not check out.
func (s *Service) AdminReject(ctx context.Context, actor audit.Actor, entryID, reason string) (ledger.Entry, error) {
	entry, err := s.d.Store.Entry(ctx, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	out, err := s.fail(ctx, entryID, reason)
	if err != nil && !apperr.IsCode(err, apperr.CodeExternalFailed) {
		return ledger.Entry{}, err
	}
	if auditErr := s.d.Audits.Record(ctx, actor, "purchase.reject", entry.ActorUser, entry.ID, entry, out.Entry); auditErr != nil {
		return out.Entry, auditErr
	}
	return out.Entry, nil
}

// AdminReverse undoes a completed purchase: compensating ledger entry, holding
// debit, inventory release, commission rollback, audit record.
func (s *Service) AdminReverse(ctx context.Context, actor audit.Actor, entryID, reason string) (Outcome, error) {
	if reason == "" {
		return Outcome{}, apperr.Validation("a reversal reason is required")
	}
	before, err := s.d.Store.Entry(ctx, entryID)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.d.Store.Reverse(ctx, entryID, reason, time.Now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	s.d.Metrics.PurchasesReversed.Inc()

	if _, err := s.d.Referrals.RollbackSource(ctx, entryID, "purchase reversed: "+reason); err != nil {
		return out, fmt.Errorf("purchase reversed but commission rollback failed: %w", err)
	}
	if err := s.d.Audits.Record(ctx, actor, "purchase.reverse", before.ActorUser, entryID, before, out.Entry); err != nil {
		return out, err
	}
	s.d.Logger.Info("purchase reversed",
		slog.String("entry", entryID),
		slog.String("admin", actor.AdminID),
		slog.String("reason", reason))
	return out, nil
}

// Proof returns the manual-payment evidence attached to an intent.
func (s *Service) Proof(ctx context.Context, entryID string) (blob.Object, error) {
	entry, err := s.d.Store.Entry(ctx, entryID)
	if err != nil {
		return blob.Object{}, err
	}
	if entry.Metadata.ProofHandle == "" {
		return blob.Object{}, apperr.NotFound("purchase %s carries no proof", entryID)
	}
	return s.d.Proofs.Get(ctx, entry.Metadata.ProofHandle)
}

// Entry fetches one purchase entry.
func (s *Service) Entry(ctx context.Context, id string) (ledger.Entry, error) {
	return s.d.Store.Entry(ctx, id)
}

func (s *Service) complete(ctx context.Context, entry ledger.Entry) (Outcome, error) {
	snap, err := s.snapshotFor(ctx, entry.Metadata.ConfigVersion)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.d.Store.Complete(ctx, entry.ID, snap, time.Now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	if out.Applied {
		s.afterComplete(ctx, out.Entry)
	}
	return out, nil
}

func (s *Service) fail(ctx context.Context, entryID, reason string) (Outcome, error) {
	entry, err := s.d.Store.Fail(ctx, entryID, time.Now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	s.d.Metrics.PurchasesFailed.Inc()
	s.d.Logger.Info("purchase failed",
		slog.String("entry", entryID), slog.String("reason", reason))
	return Outcome{Entry: entry, Applied: true}, apperr.ExternalFailed("payment verification failed: %s", reason)
}

// afterComplete runs the post-commit side effects. None of them can unwind
// the committed purchase; failures are logged and recovered elsewhere.
func (s *Service) afterComplete(ctx context.Context, entry ledger.Entry) {
	s.d.Metrics.PurchasesCompleted.WithLabelValues(string(entry.Metadata.ShareKind)).Inc()

	if _, err := s.d.Referrals.Propagate(ctx, entry); err != nil {
		s.d.Logger.Error("commission propagation failed",
			slog.String("entry", entry.ID), slog.String("error", err.Error()))
	}

	user, err := s.d.Users.Get(ctx, entry.ActorUser)
	if err != nil {
		s.d.Logger.Warn("purchase email skipped",
			slog.String("entry", entry.ID), slog.String("error", err.Error()))
		return
	}
	email := notification.Email{
		To:      user.Email,
		Subject: "Your share purchase is confirmed",
		HTML: fmt.Sprintf("<p>Your purchase of %d %s share(s) for %d completed.</p>",
			entry.Metadata.Quantity, entry.Metadata.ShareKind, entry.Amount),
	}
	if err := s.d.Mailer.Send(ctx, email); err != nil {
		s.d.Logger.Warn("purchase email failed",
			slog.String("entry", entry.ID), slog.String("error", err.Error()))
	}

	s.d.Logger.Info("purchase completed",
		slog.String("entry", entry.ID),
		slog.String("user", entry.ActorUser),
		slog.String("kind", string(entry.Metadata.ShareKind)),
		slog.Int64("amount", entry.Amount))
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

func plan(c inventory.Counters, snap pricing.Snapshot, kind ledger.ShareKind, quantity int64, currency money.Currency) (inventory.Reservation, error) {
	if kind == ledger.ShareCofounder {
		return inventory.PlanCofounder(c, snap, quantity, currency)
	}
	return inventory.PlanRegular(c, snap, quantity, currency)
}
