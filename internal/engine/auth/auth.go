package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the identity a verified token speaks for.
type Principal struct {
	Subject string
	Scopes  []string
	Source  string
}

func (p Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Verifier checks a bearer token.
type Verifier interface {
	Verify(token string) (Principal, error)
}

type claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// Mint issues an HS256 token for subject. A zero ttl never expires.
func Mint(secret, subject string, ttl time.Duration, scopes ...string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "trackway",
		},
		Scopes: scopes,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// JWT verifies HS256 tokens signed with Secret.
type JWT struct {
	Secret string
}

func (v JWT) Verify(token string) (Principal, error) {
	if strings.TrimSpace(v.Secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(v.Secret), nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Subject == "" {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: c.Subject, Scopes: c.Scopes, Source: "jwt"}, nil
}

// Static accepts exactly one shared token.
type Static string

func (s Static) Verify(token string) (Principal, error) {
	if s == "" || subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return Principal{}, ErrInvalidToken
	}
	return Principal{Subject: "static", Scopes: []string{"*"}, Source: "static"}, nil
}

// Chain tries each verifier in turn.
type Chain []Verifier

func (c Chain) Verify(token string) (Principal, error) {
	for _, v := range c {
		if p, err := v.Verify(token); err == nil {
			return p, nil
		}
	}
	return Principal{}, ErrInvalidToken
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
