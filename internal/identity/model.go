// Package identity manages platform users: signup credentials, referral
// codes, KYC status and the admin/ban flags. Users are never deleted; a ban
// is a flag.
package identity

import "time"

// KYCStatus is the verification state of a user's identity documents.
type KYCStatus string

const (
	KYCNotStarted KYCStatus = "not_started"
	KYCPending    KYCStatus = "pending"
	KYCVerified   KYCStatus = "verified"
	KYCFailed     KYCStatus = "failed"
)

// Valid reports whether s names a KYC state.
func (s KYCStatus) Valid() bool {
	switch s {
	case KYCNotStarted, KYCPending, KYCVerified, KYCFailed:
		return true
	}
	return false
}

// User is a registered platform account. ReferredBy holds the referral code
// of the referring user, not their id; the chain is resolved by code lookup
// so no object cycles are stored.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	ReferralCode string
	ReferredBy   string
	IsAdmin      bool
	IsBanned     bool
	KYC          KYCStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credentials is the signup/login request payload.
type Credentials struct {
	Name       string
	Email      string
	Password   string
	ReferredBy string
}
