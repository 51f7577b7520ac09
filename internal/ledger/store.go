package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateReference indicates an entry with the same (kind, reference)
	// already exists; callers treat the prior entry as the operation outcome.
	ErrDuplicateReference = errors.New("duplicate ledger reference")
)

// Store is the append-and-read contract of the ledger. Status transitions on
// pending purchase intents are owned by the engine stores, which apply them
// in the same transaction as the derived-state effects; this interface stays
// strictly append + read.
type Store interface {
	// Append assigns id and sequence when absent and inserts the entry.
	// A (kind, reference) collision returns the existing entry together with
	// ErrDuplicateReference.
	Append(ctx context.Context, entry Entry) (Entry, error)

	Get(ctx context.Context, id string) (Entry, error)
	ByReference(ctx context.Context, kind Kind, reference string) (Entry, error)

	// ByUser lists a user's entries of the given kinds inside [from, to),
	// newest first. Zero times disable the bound; kinds nil means all kinds.
	ByUser(ctx context.Context, userID string, kinds []Kind, from, to time.Time, limit int) ([]Entry, error)

	// Children lists the compensating entries pointing at parentID.
	Children(ctx context.Context, parentID string) ([]Entry, error)

	// ListCompleted pages completed entries of the given kinds created at or
	// after since, oldest first. This is the reconciliation feed; callers
	// page with afterSeq, the sequence of the previous page's last entry,
	// which is exclusive so a boundary entry is never served twice.
	ListCompleted(ctx context.Context, kinds []Kind, since time.Time, afterSeq int64, limit int) ([]Entry, error)
}
