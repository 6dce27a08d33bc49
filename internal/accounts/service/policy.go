package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
)

// SessionMode selects how refresh tokens are tracked. A deployment picks one
// and every operation follows it.
type SessionMode string

const (
	// SessionPersistent stores a session row per login. Refresh tokens are
	// single use and replay revokes the session.
	SessionPersistent SessionMode = "persistent"

	// SessionStateless writes no session rows. Revocation relies on token
	// expiry and secret rotation; a refresh token may be replayed until it
	// expires.
	SessionStateless SessionMode = "stateless"
)

func ParseSessionMode(s string) (SessionMode, error) {
	switch m := SessionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SessionPersistent, SessionStateless:
		return m, nil
	case "":
		return SessionPersistent, nil
	default:
		return "", fmt.Errorf("unknown session mode %q", s)
	}
}

// RolePolicy holds role-specific overrides.
type RolePolicy struct {
	RequireMFA     bool
	AccessTokenTTL time.Duration // zero uses Policy.AccessTokenTTL
}

type Policy struct {
	SessionMode              SessionMode
	AccessTokenTTL           time.Duration
	RefreshTokenTTL          time.Duration
	RequireEmailVerification bool
	LockoutThreshold         int
	LockoutWindow            time.Duration
	VerifyTokenTTL           time.Duration
	ResetTokenTTL            time.Duration
	Roles                    map[domain.Role]RolePolicy
}

func DefaultPolicy() Policy {
	return Policy{
		SessionMode:              SessionPersistent,
		AccessTokenTTL:           jwtx.DefaultAccessTokenTTL,
		RefreshTokenTTL:          jwtx.DefaultRefreshTokenTTL,
		RequireEmailVerification: true,
		LockoutThreshold:         5,
		LockoutWindow:            15 * time.Minute,
		VerifyTokenTTL:           24 * time.Hour,
		ResetTokenTTL:            time.Hour,
		Roles: map[domain.Role]RolePolicy{
			domain.RoleAdmin: {RequireMFA: true},
		},
	}
}

func (p Policy) persistent() bool { return p.SessionMode != SessionStateless }

// AccessTTL returns the access token lifetime for role.
func (p Policy) AccessTTL(role domain.Role) time.Duration {
	if rp, ok := p.Roles[role]; ok && rp.AccessTokenTTL > 0 {
		return rp.AccessTokenTTL
	}
	return p.AccessTokenTTL
}

// RequiresMFA reports whether role-gated actions by role need a second factor.
func (p Policy) RequiresMFA(role domain.Role) bool {
	return p.Roles[role].RequireMFA
}
