package domain

import (
	"strings"
	"time"
)

// Role is the single authorization tag on an account. Role-specific policy
// (MFA requirement, token lifetime) is looked up from configuration.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role from least to most privileged.
var Roles = []Role{RoleMember, RoleModerator, RoleAdmin}

// ParseRole accepts a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.rank() > 0
}

// AtLeast reports whether r is as privileged as min.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank() && r.rank() > 0
}

func (r Role) rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusSuspended           Status = "suspended"
)

type Account struct {
	ID                string
	Email             string // stored lowercased
	Username          string // optional; empty when not chosen
	DisplayName       string
	PasswordHash      string `json:"-"`
	Role              Role
	Status            Status
	EmailVerified     bool
	FailedLogins      int
	LastFailedLoginAt *time.Time
	LockedUntil       *time.Time
	MFAEnabledAt      *time.Time
	MFASecret         *string `json:"-"` // base32 TOTP secret, set at enrolment
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// IsActive is the one predicate deciding whether an account may authenticate
// or be resolved as a principal. Soft-deleted accounts never are; suspended
// ones are handled separately so callers can answer Forbidden.
func IsActive(a Account) bool {
	return a.DeletedAt == nil && a.Status != StatusSuspended
}

// IsDeleted reports whether the account has been closed.
func (a Account) IsDeleted() bool { return a.DeletedAt != nil }

// MFAEnabled reports whether TOTP is active for the account.
func (a Account) MFAEnabled() bool { return a.MFAEnabledAt != nil && a.MFASecret != nil }

// IsLocked reports whether a lockout is in force at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Lockout tracks consecutive login failures for one account.
type Lockout struct {
	FailedLogins      int
	LastFailedLoginAt *time.Time
	LockedUntil       *time.Time
}

// FailureLockout returns the lockout state once count consecutive failures
// have been recorded, the latest at now. Reaching threshold locks the
// account for window; a zero threshold never locks.
func FailureLockout(count int, now time.Time, threshold int, window time.Duration) Lockout {
	l := Lockout{FailedLogins: count, LastFailedLoginAt: &now}
	if threshold > 0 && count >= threshold {
		until := now.Add(window)
		l.LockedUntil = &until
	}
	return l
}
