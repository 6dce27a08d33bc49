package domain

import "time"

// ActionPurpose scopes a single-use emailed token to one flow.
type ActionPurpose string

const (
	PurposeVerifyEmail   ActionPurpose = "verify_email"
	PurposeResetPassword ActionPurpose = "reset_password"
)

// ActionToken is an out-of-band token delivered by the notifier.
type ActionToken struct {
	ID        string
	AccountID string
	Purpose   ActionPurpose
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
