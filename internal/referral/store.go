package referral

import (
	"context"
	"time"
)

// Store persists commissions and the per-user stats roll-up. Mutations keep
// the roll-up consistent with completed commissions inside one transaction.
type Store interface {
	// SaveCompleted inserts a completed commission unless its idempotency key
	// already holds one. Existing pending rows transition to completed;
	// duplicate rows make the call a no-op. The returned bool is true when
	// stats changed.
	SaveCompleted(ctx context.Context, c Commission) (Commission, bool, error)

	// RollbackSource marks every completed commission for the source entry
	// rolled_back and subtracts their amounts from the roll-ups.
	RollbackSource(ctx context.Context, sourceEntryID, reason string, now time.Time) ([]Commission, error)

	// MarkDuplicate transitions a completed commission to duplicate and
	// subtracts it from the roll-up.
	MarkDuplicate(ctx context.Context, id string, now time.Time) error

	BySource(ctx context.Context, sourceEntryID string) ([]Commission, error)
	ByBeneficiary(ctx context.Context, userID string, limit int) ([]Commission, error)
	ByReferredUser(ctx context.Context, userID string, limit int) ([]Commission, error)

	Stats(ctx context.Context, userID string) (Stats, error)
	// CompletedEarnings is the withdrawal-facing balance input: the summed
	// completed commissions to the user.
	CompletedEarnings(ctx context.Context, userID string) (int64, error)

	// DuplicateGroups returns completed commissions sharing an idempotency
	// key, each group ordered by created_at ascending.
	DuplicateGroups(ctx context.Context) ([][]Commission, error)
	CountDuplicates(ctx context.Context) (int64, error)
}
