// Package audit keeps the append-only trail of privileged admin actions.
// Entries record enough before/after state to reconstruct the human decision
// trail; they never substitute for ledger reversals.
package audit

import (
	"encoding/json"
	"time"
)

// Entry is one privileged admin action.
type Entry struct {
	ID           string          `json:"id"`
	AdminID      string          `json:"admin_id"`
	Action       string          `json:"action"`
	TargetUser   string          `json:"target_user,omitempty"`
	TargetEntity string          `json:"target_entity,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Actor identifies the admin performing a privileged write together with the
// request attributes recorded alongside it.
type Actor struct {
	AdminID   string
	IP        string
	UserAgent string
}
