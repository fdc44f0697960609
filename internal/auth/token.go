// ABOUTME: Operator token sources for the gateway connect handshake
// ABOUTME: Static bearer tokens or short-lived HS256 JWTs minted per attempt

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrNoCredential = errors.New("no credential configured")
	ErrEmptySecret  = errors.New("jwt secret must not be empty")
)

// TokenSource produces the bearer token presented inside the connect
// request. Connect fetches a fresh token per attempt, so sources may mint
// short-lived credentials without reconnects presenting expired ones.
type TokenSource interface {
	Token() (string, error)
}

// Static is a TokenSource wrapping a fixed bearer token.
type Static string

// Token returns the wrapped token.
func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// JWTMinter mints a short-lived HS256 JWT per handshake attempt, signed with
// a secret shared with the gateway. The subject claim carries the operator's
// principal ID.
type JWTMinter struct {
	secret  []byte
	subject string
	ttl     time.Duration
}

// DefaultTokenTTL bounds minted token lifetime when none is configured.
const DefaultTokenTTL = 5 * time.Minute

// NewJWTMinter creates a minting token source. ttl <= 0 uses DefaultTokenTTL.
func NewJWTMinter(secret []byte, subject string, ttl time.Duration) (*JWTMinter, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if subject == "" {
		return nil, errors.New("jwt subject must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTMinter{secret: secret, subject: subject, ttl: ttl}, nil
}

// Token mints a fresh signed token.
func (m *JWTMinter) Token() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": m.subject,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}
