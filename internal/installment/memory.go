package installment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/holding"
	"github.com/sharevest/sharevest/internal/inventory"
	"github.com/sharevest/sharevest/internal/ledger"
	"github.com/sharevest/sharevest/internal/pricing"
)

// MemoryStore composes the in-memory ledger, inventory and holding stores
// with plan state under one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	plans    map[string]Plan
	items    map[string][]Item
	order    []string
	ledger   *ledger.MemoryStore
	counters *inventory.MemoryStore
	holdings *holding.MemoryStore
}

// NewMemoryStore wires a memory installment store over shared sub-stores.
func NewMemoryStore(led *ledger.MemoryStore, counters *inventory.MemoryStore, holdings *holding.MemoryStore) *MemoryStore {
	return &MemoryStore{
		plans:    make(map[string]Plan),
		items:    make(map[string][]Item),
		ledger:   led,
		counters: counters,
		holdings: holdings,
	}
}

// CreatePlan implements Store.
func (s *MemoryStore) CreatePlan(_ context.Context, plan Plan, items []Item, snap pricing.Snapshot) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if plan.Kind == ledger.ShareCofounder {
		res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: plan.TotalShares}
		if err := s.counters.Update(func(c *inventory.Counters) error {
			return c.Commit(res, snap)
		}); err != nil {
			return Plan{}, err
		}
	}

	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	s.plans[plan.ID] = plan
	stored := make([]Item, len(items))
	copy(stored, items)
	for i := range stored {
		stored[i].PlanID = plan.ID
	}
	s.items[plan.ID] = stored
	s.order = append(s.order, plan.ID)
	return plan, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, planID string) (Plan, []Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return Plan{}, nil, apperr.NotFound("plan %s", planID)
	}
	items := make([]Item, len(s.items[planID]))
	copy(items, s.items[planID])
	return plan, items, nil
}

// ByUser implements Store.
func (s *MemoryStore) ByUser(_ context.Context, userID string) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Plan
	for _, id := range s.order {
		if p := s.plans[id]; p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

// NonTerminalByUserKind implements Store.
func (s *MemoryStore) NonTerminalByUserKind(_ context.Context, userID string, kind ledger.ShareKind) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		p := s.plans[id]
		if p.UserID == userID && p.Kind == kind && !p.State.Terminal() {
			return p, nil
		}
	}
	return Plan{}, apperr.NotFound("no open %s plan for user", kind)
}

// ByExternalRef implements Store.
func (s *MemoryStore) ByExternalRef(_ context.Context, ref string) (Plan, Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRefLocked(ref)
}

func (s *MemoryStore) byRefLocked(ref string) (Plan, Item, error) {
	if ref == "" {
		return Plan{}, Item{}, apperr.Validation("reference is required")
	}
	for _, id := range s.order {
		for _, item := range s.items[id] {
			if item.ExternalRef == ref {
				return s.plans[id], item, nil
			}
		}
	}
	return Plan{}, Item{}, apperr.NotFound("installment reference %s", ref)
}

// ListSweepable implements Store.
func (s *MemoryStore) ListSweepable(_ context.Context) ([]Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Plan
	for _, id := range s.order {
		if p := s.plans[id]; !p.State.Terminal() {
			out = append(out, p)
		}
	}
	return out, nil
}

// CountByState implements Store.
func (s *MemoryStore) CountByState(_ context.Context) (map[State]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[State]int64)
	for _, p := range s.plans {
		out[p.State]++
	}
	return out, nil
}

// OpenPayment implements Store.
func (s *MemoryStore) OpenPayment(_ context.Context, planID string, index int, amount int64, method ledger.PaymentMethod, ref, proofHandle, txHash string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return Item{}, apperr.NotFound("plan %s", planID)
	}
	if plan.State.Terminal() {
		return Item{}, apperr.StateConflict("plan %s is %s", planID, plan.State)
	}
	items := s.items[planID]
	if index < 0 || index >= len(items) {
		return Item{}, apperr.NotFound("installment %d of plan %s", index, planID)
	}
	item := items[index]
	switch item.Status {
	case ItemCompleted:
		return Item{}, apperr.StateConflict("installment %d is already paid", index)
	case ItemPending:
		return Item{}, apperr.StateConflict("installment %d has a payment in flight", index)
	}
	if _, _, err := s.byRefLocked(ref); err == nil {
		return Item{}, apperr.Duplicate("installment reference %s already exists", ref)
	}
	item.Status = ItemPending
	item.PaidAmount = amount
	item.ExternalRef = ref
	item.Method = method
	item.ProofHandle = proofHandle
	item.TxHash = txHash
	items[index] = item
	return item, nil
}

// ApplyPayment implements Store.
func (s *MemoryStore) ApplyPayment(ctx context.Context, ref string, snap pricing.Snapshot, force bool, now time.Time) (PaymentOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, item, err := s.byRefLocked(ref)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if item.Status == ItemCompleted {
		entry, _ := s.ledger.ByReference(ctx, ledger.KindInstallmentPayment, ref)
		return PaymentOutcome{Plan: plan, Item: item, Entry: entry, Applied: false}, nil
	}
	if item.Status != ItemPending {
		return PaymentOutcome{}, apperr.StateConflict("installment %d is %s", item.Index, item.Status)
	}
	if plan.State.Terminal() {
		return PaymentOutcome{}, apperr.StateConflict("plan %s is %s", plan.ID, plan.State)
	}
	// Re-check the balance at apply time: another installment may have been
	// verified after this payment was opened.
	if plan.PaidAmount+item.PaidAmount > plan.TotalPrice {
		return PaymentOutcome{}, apperr.StateConflict("payment %d exceeds the remaining balance %d of plan %s",
			item.PaidAmount, plan.Remaining(), plan.ID)
	}

	at := now.UTC()
	next := plan
	next.PaidAmount += item.PaidAmount
	next.LastPaymentAt = &at
	next.MonthsLate = 0
	next.UpdatedAt = at

	target := next.ReleaseTarget()
	delta := target - plan.ReleasedShares
	cumTiers := next.TiersForRelease(target)
	var deltaTiers [3]int64
	for i := range deltaTiers {
		deltaTiers[i] = cumTiers[i] - plan.ReleasedTiers[i]
	}

	if delta > 0 && plan.Kind == ledger.ShareRegular {
		res := inventory.Reservation{Kind: ledger.ShareRegular, Quantity: delta, Tiers: deltaTiers}
		if err := s.counters.Update(func(c *inventory.Counters) error {
			return c.Commit(res, snap)
		}); err != nil {
			return PaymentOutcome{}, err
		}
	}

	item.Status = ItemCompleted
	item.PaidAt = &at
	item.ForceApproved = force

	entry := paymentEntry(next, item, deltaTiers, delta, force, now)
	stored, err := s.ledger.Append(ctx, entry)
	if err != nil {
		return PaymentOutcome{}, err
	}

	if delta > 0 {
		if err := s.holdings.Update(plan.UserID, func(h *holding.Holding) error {
			h.Credit(plan.Kind, delta)
			return nil
		}); err != nil {
			return PaymentOutcome{}, err
		}
		s.holdings.InsertRecord(releaseRecord(next, stored.ID, delta, deltaTiers, now))
	}

	next.ReleasedShares = target
	next.ReleasedTiers = cumTiers
	if next.PaidAmount >= next.TotalPrice {
		next.State = StateCompleted
	} else {
		next.State = StateActive
	}

	s.plans[plan.ID] = next
	s.items[plan.ID][item.Index] = item
	return PaymentOutcome{Plan: next, Item: item, Entry: stored, ReleasedDelta: delta, DeltaTiers: deltaTiers, Applied: true}, nil
}

// FailPayment implements Store.
func (s *MemoryStore) FailPayment(_ context.Context, ref string, _ time.Time) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, item, err := s.byRefLocked(ref)
	if err != nil {
		return Item{}, err
	}
	if item.Status != ItemPending {
		return Item{}, apperr.StateConflict("installment %d is %s", item.Index, item.Status)
	}
	item.Status = ItemFailed
	item.PaidAmount = 0
	s.items[plan.ID][item.Index] = item

	// Reopen for retry with a fresh reference.
	reset := item
	reset.Status = ItemUpcoming
	reset.ExternalRef = ""
	reset.Method = ""
	reset.ProofHandle = ""
	reset.TxHash = ""
	s.items[plan.ID][item.Index] = reset
	return item, nil
}

// Unverify implements Store.
func (s *MemoryStore) Unverify(ctx context.Context, ref, reason string, now time.Time) (UnverifyOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, item, err := s.byRefLocked(ref)
	if err != nil {
		return UnverifyOutcome{}, err
	}
	if item.Status != ItemCompleted {
		return UnverifyOutcome{}, apperr.StateConflict("installment %d is %s, expected completed", item.Index, item.Status)
	}

	source, err := s.ledger.ByReference(ctx, ledger.KindInstallmentPayment, ref)
	if err != nil {
		return UnverifyOutcome{}, err
	}
	if _, err := s.ledger.MarkReversed(source.ID, now); err != nil {
		return UnverifyOutcome{}, err
	}

	amount := item.PaidAmount
	next := plan
	next.PaidAmount -= amount
	if next.PaidAmount < 0 {
		next.PaidAmount = 0
	}
	target := next.ReleaseTarget()
	claw := plan.ReleasedShares - target
	cumTiers := next.TiersForRelease(target)
	var clawTiers [3]int64
	for i := range clawTiers {
		clawTiers[i] = plan.ReleasedTiers[i] - cumTiers[i]
	}

	if claw > 0 {
		if err := s.holdings.Update(plan.UserID, func(h *holding.Holding) error {
			return h.Debit(plan.Kind, claw)
		}); err != nil {
			return UnverifyOutcome{}, err
		}
		if err := s.holdings.MarkRecordReversed(source.ID); err != nil {
			return UnverifyOutcome{}, err
		}
		if plan.Kind == ledger.ShareRegular {
			res := inventory.Reservation{Kind: ledger.ShareRegular, Quantity: claw, Tiers: clawTiers}
			if err := s.counters.Update(func(c *inventory.Counters) error {
				return c.Release(res)
			}); err != nil {
				return UnverifyOutcome{}, err
			}
		}
	}

	reversal, err := s.ledger.Append(ctx, ledger.Entry{
		Kind:        ledger.KindAdminReversal,
		Status:      ledger.StatusCompleted,
		ActorUser:   plan.UserID,
		Amount:      -amount,
		Currency:    plan.Currency,
		ParentEntry: source.ID,
		Metadata: ledger.Metadata{
			ShareKind:        plan.Kind,
			Quantity:         claw,
			Tiers:            clawTiers,
			PlanID:           plan.ID,
			InstallmentIndex: item.Index,
			Reason:           reason,
		},
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return UnverifyOutcome{}, err
	}

	// Reinstate the item so the installment can be paid again.
	reset := item
	reset.Status = ItemUpcoming
	reset.PaidAmount = 0
	reset.PaidAt = nil
	reset.ExternalRef = ""
	reset.Method = ""
	reset.ProofHandle = ""
	reset.TxHash = ""
	reset.ForceApproved = false
	s.items[plan.ID][item.Index] = reset

	next.ReleasedShares = target
	next.ReleasedTiers = cumTiers
	next.UpdatedAt = now.UTC()
	switch {
	case next.PaidAmount == 0:
		next.State = StatePending
	default:
		next.State = StateActive
	}
	s.plans[plan.ID] = next

	return UnverifyOutcome{
		Plan:          next,
		Item:          reset,
		Reversal:      reversal,
		ClawedShares:  claw,
		ClawedTiers:   clawTiers,
		SourceEntryID: source.ID,
	}, nil
}

// Cancel implements Store.
func (s *MemoryStore) Cancel(_ context.Context, planID, reason string, now time.Time) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return Plan{}, apperr.NotFound("plan %s", planID)
	}
	if plan.State.Terminal() {
		return Plan{}, apperr.StateConflict("plan %s is %s", planID, plan.State)
	}

	// Unreleased cofounder pool capacity goes back; released shares stay.
	if plan.Kind == ledger.ShareCofounder {
		if unreleased := plan.TotalShares - plan.ReleasedShares; unreleased > 0 {
			res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: unreleased}
			if err := s.counters.Update(func(c *inventory.Counters) error {
				return c.Release(res)
			}); err != nil {
				return Plan{}, err
			}
		}
	}

	plan.State = StateCancelled
	plan.CancelReason = reason
	plan.UpdatedAt = now.UTC()
	s.plans[planID] = plan
	return plan, nil
}

// SaveSweep implements Store.
func (s *MemoryStore) SaveSweep(_ context.Context, plan Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.plans[plan.ID]
	if !ok {
		return apperr.NotFound("plan %s", plan.ID)
	}
	if current.State.Terminal() {
		return apperr.StateConflict("plan %s is %s", plan.ID, current.State)
	}
	// Defaulting a cofounder plan reclaims the unreleased pool reservation,
	// like a cancellation does.
	if plan.State == StateDefaulted && plan.Kind == ledger.ShareCofounder {
		if unreleased := plan.TotalShares - plan.ReleasedShares; unreleased > 0 {
			res := inventory.Reservation{Kind: ledger.ShareCofounder, Quantity: unreleased}
			if err := s.counters.Update(func(c *inventory.Counters) error {
				return c.Release(res)
			}); err != nil {
				return err
			}
		}
	}
	s.plans[plan.ID] = plan
	return nil
}
