package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes. Deployments override these per role through config.
const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType marks what a token may be used for. Verify rejects a token whose
// marker differs from the expected one, so an access token can never be
// replayed at the refresh endpoint and vice versa.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Authentication Methods Reference values carried in the amr claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
)

type Claims struct {
	jwt.RegisteredClaims

	TokenType TokenType `json:"token_type"`

	// Role is only set on access tokens. Refresh re-reads the role from the
	// store so a demotion takes effect on the next rotation.
	Role string `json:"role,omitempty"`

	// SID binds the token to a persisted session. Empty in stateless mode.
	SID string `json:"sid,omitempty"`

	AMR []string `json:"amr,omitempty"`
}

// HasAMR reports whether method was used to authenticate.
func (c Claims) HasAMR(method string) bool {
	return slices.Contains(c.AMR, method)
}

// ExpiresAtTime returns the exp claim, or the zero time if absent.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// ClaimOption decorates claims before signing.
type ClaimOption func(*Claims)

// WithSession binds the token to session sid.
func WithSession(sid string) ClaimOption {
	return func(c *Claims) { c.SID = sid }
}

// WithAMR records the authentication methods used.
func WithAMR(methods ...string) ClaimOption {
	return func(c *Claims) { c.AMR = append([]string(nil), methods...) }
}
