package domain

import "time"

// Session is the server-side record behind a refresh token. Only the
// fingerprint of the refresh token currently valid for the session is stored;
// rotation replaces it.
type Session struct {
	ID          string
	AccountID   string
	RefreshHash string
	UserAgent   string
	IP          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Usable reports whether the session can still authorize requests at now.
func (s Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is what Join, Login and Refresh hand back to the client.
type TokenPair struct {
	Access           string
	Refresh          string
	ExpiredAt        time.Time // access token exp
	RefreshableUntil time.Time // refresh token exp
	SessionID        string
}
