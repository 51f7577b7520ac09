package audit

import "context"

// Store persists audit entries. Implementations never update or delete rows.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ByAdmin(ctx context.Context, adminID string, limit int) ([]Entry, error)
	ByTargetUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
