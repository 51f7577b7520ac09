package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sharevest/sharevest/internal/apperr"
)

const (
	minPasswordLength  = 8
	referralCodeLength = 8
	// MaxGenerations is how far up the referrer chain commissions propagate.
	MaxGenerations = 3
)

// referral codes use an unambiguous uppercase alphabet (no 0/O, 1/I)
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Service manages the user lifecycle.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a user with a hashed password and a fresh unique referral
// code. A supplied referrer code must exist; emails are lowercase-normalized.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, apperr.Validation("a valid email is required")
	}
	if len(creds.Password) < minPasswordLength {
		return User{}, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	name := strings.TrimSpace(creds.Name)
	if name == "" {
		return User{}, apperr.Validation("name is required")
	}

	referredBy := strings.TrimSpace(creds.ReferredBy)
	if referredBy != "" {
		if _, err := s.repo.FindByReferralCode(ctx, referredBy); err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				return User{}, apperr.Validation("unknown referral code %s", referredBy)
			}
			return User{}, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		ReferredBy:   referredBy,
		KYC:          KYCNotStarted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Retry on the unlikely referral-code collision.
	for attempt := 0; attempt < 5; attempt++ {
		if user.ReferralCode, err = newReferralCode(); err != nil {
			return User{}, err
		}
		err = s.repo.Create(ctx, user)
		if err == nil {
			return user, nil
		}
		if !apperr.IsCode(err, apperr.CodeDuplicate) || strings.Contains(err.Error(), "email") {
			return User{}, err
		}
	}
	return User{}, apperr.Internal("could not allocate a referral code")
}

// Authenticate verifies email/password and rejects banned accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return User{}, apperr.Unauthorized("invalid credentials")
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, apperr.Unauthorized("invalid credentials")
	}
	if user.IsBanned {
		return User{}, apperr.Forbidden("account is banned")
	}
	return user, nil
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// ReferrerChain resolves up to MaxGenerations referrers of the given user by
// following referral codes. A missing pointer truncates the chain.
func (s *Service) ReferrerChain(ctx context.Context, userID string) ([]User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	var chain []User
	code := user.ReferredBy
	for generation := 1; generation <= MaxGenerations && code != ""; generation++ {
		referrer, err := s.repo.FindByReferralCode(ctx, code)
		if err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, referrer)
		code = referrer.ReferredBy
	}
	return chain, nil
}

// Downlines returns the referred users per generation, index 0 = generation 1.
func (s *Service) Downlines(ctx context.Context, userID string) ([MaxGenerations][]User, error) {
	var out [MaxGenerations][]User
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return out, err
	}
	frontier := []User{user}
	for generation := 0; generation < MaxGenerations; generation++ {
		var next []User
		for _, parent := range frontier {
			children, err := s.repo.ListByReferredBy(ctx, parent.ReferralCode)
			if err != nil {
				return out, err
			}
			next = append(next, children...)
		}
		out[generation] = next
		frontier = next
	}
	return out, nil
}

// SubmitKYC moves a user into the pending queue. Only not_started and failed
// users may (re)submit.
func (s *Service) SubmitKYC(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.KYC == KYCPending || user.KYC == KYCVerified {
		return User{}, apperr.StateConflict("kyc is already %s", user.KYC)
	}
	user.KYC = KYCPending
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ResolveKYC records an admin verdict on a pending submission.
func (s *Service) ResolveKYC(ctx context.Context, userID string, approved bool) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.KYC != KYCPending {
		return User{}, apperr.StateConflict("kyc is %s, expected pending", user.KYC)
	}
	if approved {
		user.KYC = KYCVerified
	} else {
		user.KYC = KYCFailed
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// CountByKYC counts users in the given verification state.
func (s *Service) CountByKYC(ctx context.Context, status KYCStatus) (int64, error) {
	return s.repo.CountByKYC(ctx, status)
}

// PendingKYC returns the review queue, oldest submissions first.
func (s *Service) PendingKYC(ctx context.Context, limit int) ([]User, error) {
	return s.repo.ListByKYC(ctx, KYCPending, limit)
}

// SetBanned toggles the ban flag.
func (s *Service) SetBanned(ctx context.Context, userID string, banned bool) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.IsBanned = banned
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateName changes the display name.
func (s *Service) UpdateName(ctx context.Context, userID, name string) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, apperr.Validation("name is required")
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	user.Name = name
	if err := s.repo.Update(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

func newReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("referral code entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
