package accountsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSessionExpired is returned once the refresh token itself has expired.
var ErrSessionExpired = errors.New("accountsdk: session expired, log in again")

// Session is an authenticated client. Access tokens are refreshed on demand
// and refresh tokens rotate on every refresh. Safe for concurrent use.
type Session struct {
	client *Client

	mu               sync.RWMutex
	accessToken      string
	refreshToken     string
	expiresAt        time.Time // access expiry minus refreshBuffer
	refreshableUntil time.Time
}

// AccessToken returns the current access token without checking expiry.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Refresh rotates the token pair now, regardless of expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// getValidToken returns a usable access token, refreshing it if needed.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" || (!s.refreshableUntil.IsZero() && !time.Now().Before(s.refreshableUntil)) {
		return ErrSessionExpired
	}

	awt, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}

	s.accessToken = awt.Token.Access
	s.refreshToken = awt.Token.Refresh
	s.expiresAt = awt.Token.ExpiredAt.Add(-refreshBuffer)
	s.refreshableUntil = awt.Token.RefreshableUntil
	return nil
}
