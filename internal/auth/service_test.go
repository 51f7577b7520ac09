package auth

import (
	"testing"
	"time"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/config"
	"github.com/sharevest/sharevest/internal/identity"
)

func newService(ttl time.Duration) *Service {
	return NewService(config.Config{JWTSecret: "test-secret", TokenTTL: ttl})
}

func TestIssueAndVerify(t *testing.T) {
	svc := newService(time.Hour)

	token, err := svc.Issue(identity.User{ID: "user-1", IsAdmin: true})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token.AccessToken == "" || token.ExpiresIn != 3600 {
		t.Fatalf("token = %+v", token)
	}

	claims, err := svc.Verify(token.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || !claims.IsAdmin {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	token, err := newService(time.Hour).Issue(identity.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewService(config.Config{JWTSecret: "another-secret", TokenTTL: time.Hour})
	if _, err := other.Verify(token.AccessToken); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("verify err = %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, err := newService(-time.Minute).Issue(identity.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newService(time.Hour).Verify(token.AccessToken); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("verify err = %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := newService(time.Hour).Verify("not-a-token"); !apperr.IsCode(err, apperr.CodeUnauthorized) {
		t.Fatalf("verify err = %v", err)
	}
}
