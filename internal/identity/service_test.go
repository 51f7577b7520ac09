package identity

import (
	"context"
	"testing"

	"github.com/sharevest/sharevest/internal/apperr"
)

func register(t *testing.T, svc *Service, email, referredBy string) User {
	t.Helper()
	user, err := svc.Register(context.Background(), Credentials{
		Name:       "Test User",
		Email:      email,
		Password:   "correct-horse",
		ReferredBy: referredBy,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func TestRegisterNormalizesEmailAndIssuesCode(t *testing.T) {
	svc := NewService(NewMemoryRepository())

	user := register(t, svc, "  Alice@Example.COM ", "")
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if len(user.ReferralCode) != referralCodeLength {
		t.Fatalf("unexpected referral code %q", user.ReferralCode)
	}
	if user.KYC != KYCNotStarted {
		t.Fatalf("expected kyc not_started, got %s", user.KYC)
	}

	if _, err := svc.Register(context.Background(), Credentials{Name: "Dup", Email: "alice@example.com", Password: "correct-horse"}); !apperr.IsCode(err, apperr.CodeDuplicate) {
		t.Fatalf("expected DUPLICATE on reused email, got %v", err)
	}
}

func TestRegisterRejectsUnknownReferralCode(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	_, err := svc.Register(context.Background(), Credentials{Name: "Bob", Email: "bob@example.com", Password: "correct-horse", ReferredBy: "NOPE1234"})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	user := register(t, svc, "carol@example.com", "")

	got, err := svc.Authenticate(context.Background(), "CAROL@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("authenticated wrong user")
	}

	if _, err := svc.Authenticate(context.Background(), "carol@example.com", "wrong"); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	if _, err := svc.SetBanned(context.Background(), user.ID, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "carol@example.com", "correct-horse"); !apperr.IsCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN for banned user, got %v", err)
	}
}

func TestReferrerChainTruncates(t *testing.T) {
	svc := NewService(NewMemoryRepository())

	r3 := register(t, svc, "gen3@example.com", "")
	r2 := register(t, svc, "gen2@example.com", r3.ReferralCode)
	r1 := register(t, svc, "gen1@example.com", r2.ReferralCode)
	buyer := register(t, svc, "buyer@example.com", r1.ReferralCode)

	chain, err := svc.ReferrerChain(context.Background(), buyer.ID)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 generations, got %d", len(chain))
	}
	if chain[0].ID != r1.ID || chain[1].ID != r2.ID || chain[2].ID != r3.ID {
		t.Fatalf("chain out of order: %v", []string{chain[0].Email, chain[1].Email, chain[2].Email})
	}

	// r2 has only one referrer above it
	short, err := svc.ReferrerChain(context.Background(), r2.ID)
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(short) != 1 || short[0].ID != r3.ID {
		t.Fatalf("expected truncated single-hop chain, got %d", len(short))
	}
}

func TestKYCLifecycle(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	user := register(t, svc, "kyc@example.com", "")

	if _, err := svc.ResolveKYC(context.Background(), user.ID, true); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT resolving unsubmitted kyc, got %v", err)
	}

	if _, err := svc.SubmitKYC(context.Background(), user.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.SubmitKYC(context.Background(), user.ID); !apperr.IsCode(err, apperr.CodeStateConflict) {
		t.Fatalf("expected STATE_CONFLICT on double submit, got %v", err)
	}

	resolved, err := svc.ResolveKYC(context.Background(), user.ID, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.KYC != KYCFailed {
		t.Fatalf("expected failed, got %s", resolved.KYC)
	}

	// failed users may resubmit
	if _, err := svc.SubmitKYC(context.Background(), user.ID); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}
