package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/money"
)

func purchaseEntry(user, ref string, amount int64) Entry {
	return Entry{
		Kind:      KindPurchase,
		Status:    StatusPending,
		ActorUser: user,
		Amount:    amount,
		Currency:  money.Fiat,
		Reference: ref,
	}
}

func TestAppendDeduplicatesByKindAndReference(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Append(ctx, purchaseEntry("u1", "ref-1", 50_000))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("seq = %d, want 1", first.Seq)
	}

	dup, err := store.Append(ctx, purchaseEntry("u1", "ref-1", 50_000))
	if !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("duplicate append err = %v", err)
	}
	if dup.ID != first.ID {
		t.Fatalf("duplicate returned %s, want prior entry %s", dup.ID, first.ID)
	}

	// The same reference under another kind is a distinct event.
	other, err := store.Append(ctx, Entry{
		Kind: KindWithdrawalDebit, Status: StatusCompleted,
		ActorUser: "u1", Amount: 50_000, Currency: money.Fiat, Reference: "ref-1",
	})
	if err != nil {
		t.Fatalf("append other kind: %v", err)
	}
	if other.Seq != 2 {
		t.Fatalf("seq = %d, want 2", other.Seq)
	}
}

func TestTransitionsEnforceLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	entry, err := store.Append(ctx, purchaseEntry("u1", "ref-1", 10_000))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	completed, err := store.Complete(entry.ID, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("completed entry = %+v", completed)
	}

	if _, err := store.Fail(entry.ID, now); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("fail after complete err = %v", err)
	}

	reversed, err := store.MarkReversed(entry.ID, now)
	if err != nil {
		t.Fatalf("mark reversed: %v", err)
	}
	if reversed.Status != StatusReversed {
		t.Fatalf("status = %s", reversed.Status)
	}

	if _, err := store.Complete("missing", now); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("complete missing err = %v", err)
	}
}

func TestByUserMatchesActorOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, Entry{
		Kind: KindMarketplaceTransfer, Status: StatusCompleted,
		ActorUser: "buyer", CounterpartyUser: "seller",
		Amount: 9_000, Currency: money.Fiat, Reference: "t-1",
	}); err != nil {
		t.Fatalf("append transfer: %v", err)
	}
	if _, err := store.Append(ctx, purchaseEntry("buyer", "p-1", 20_000)); err != nil {
		t.Fatalf("append purchase: %v", err)
	}

	// Counterparty position does not surface in the seller's feed.
	entries, err := store.ByUser(ctx, "seller", nil, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("seller entries = %d, want 0", len(entries))
	}

	entries, err = store.ByUser(ctx, "buyer", nil, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("buyer entries = %d, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Reference != "p-1" || entries[1].Reference != "t-1" {
		t.Fatalf("order = %s, %s", entries[0].Reference, entries[1].Reference)
	}

	entries, err = store.ByUser(ctx, "buyer", []Kind{KindPurchase}, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("by user kinds: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != KindPurchase {
		t.Fatalf("kind filter returned %+v", entries)
	}
}

func TestListCompletedIsTheReconciliationFeed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, ref := range []string{"a", "b", "c"} {
		if _, err := store.Append(ctx, Entry{
			Kind: KindPurchase, Status: StatusCompleted,
			ActorUser: "u1", Amount: 10_000, Currency: money.Fiat,
			Reference: ref, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("append %s: %v", ref, err)
		}
	}
	// A pending intent never feeds the reconciler.
	if _, err := store.Append(ctx, purchaseEntry("u1", "pending", 10_000)); err != nil {
		t.Fatalf("append pending: %v", err)
	}

	entries, err := store.ListCompleted(ctx, []Kind{KindPurchase}, time.Time{}, 0, 0)
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	// Oldest first.
	if entries[0].Reference != "a" || entries[2].Reference != "c" {
		t.Fatalf("order = %s..%s", entries[0].Reference, entries[2].Reference)
	}

	entries, err = store.ListCompleted(ctx, []Kind{KindPurchase}, base.Add(time.Hour), 0, 0)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(entries) != 2 || entries[0].Reference != "b" {
		t.Fatalf("since filter returned %+v", entries)
	}

	// The sequence cursor is exclusive, so paging never repeats an entry.
	first, err := store.ListCompleted(ctx, []Kind{KindPurchase}, time.Time{}, 0, 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first page = %d entries", len(first))
	}
	rest, err := store.ListCompleted(ctx, []Kind{KindPurchase}, time.Time{}, first[len(first)-1].Seq, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest) != 1 || rest[0].Reference != "c" {
		t.Fatalf("second page = %+v", rest)
	}
}
