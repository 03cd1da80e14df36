// Package token mints and verifies signed identity tokens for clients of the
// marketplace API. Tokens bind one identity to a bearer credential so the live
// channel and command endpoints can trust the caller without a session store.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates a token failed signature or claim validation.
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrExpiredToken indicates a token is past its expiry.
	ErrExpiredToken = errors.New("expired identity token")
	// ErrIdentityRequired indicates a mint request is missing the identity.
	ErrIdentityRequired = errors.New("identity is required")
	// ErrSecretRequired indicates the signer is missing its HMAC secret.
	ErrSecretRequired = errors.New("signing secret is required")
)

const issuer = "campuswork-marketplace"

// identityClaims is the internal claims type used for JWT parsing.
type identityClaims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity"`
}

// Signer mints and verifies HMAC-signed identity tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer from a shared secret. A non-positive ttl
// defaults to 24 hours.
func NewSigner(secret string, ttl time.Duration, now func() time.Time) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// Mint issues a signed token for one identity.
func (s *Signer) Mint(identity string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrSecretRequired
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", ErrIdentityRequired
	}

	issuedAt := s.now().UTC()
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
		},
		Identity: identity,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

// Verify validates a token and returns the identity it carries.
func (s *Signer) Verify(raw string) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrSecretRequired
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidToken
	}

	var parsed identityClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	identity := strings.TrimSpace(parsed.Identity)
	if identity == "" {
		identity = strings.TrimSpace(parsed.Subject)
	}
	if identity == "" {
		return "", ErrInvalidToken
	}
	return identity, nil
}
