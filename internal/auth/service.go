// Package auth issues and verifies the JWT access tokens protecting the API
// surface. Tokens carry the user id and admin flag; everything else is looked
// up per request.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sharevest/sharevest/internal/apperr"
	"github.com/sharevest/sharevest/internal/config"
	"github.com/sharevest/sharevest/internal/identity"
)

// Claims is the token payload.
type Claims struct {
	IsAdmin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and parses tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService builds an auth service from configuration.
func NewService(cfg config.Config) *Service {
	return &Service{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL}
}

// Token is the issued credential returned to clients.
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Issue signs a token for the user.
func (s *Service) Issue(user identity.User) (Token, error) {
	now := time.Now().UTC()
	claims := Claims{
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Verify parses and validates a token string.
func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.Unauthorized("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, apperr.Unauthorized("invalid token")
	}
	return claims, nil
}
