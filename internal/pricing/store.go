package pricing

import "context"

// Store persists configuration versions. Versions are append-only; Current
// returns the highest version.
type Store interface {
	Current(ctx context.Context) (Snapshot, error)
	ByVersion(ctx context.Context, version int64) (Snapshot, error)
	Append(ctx context.Context, snap Snapshot) (Snapshot, error)
}
