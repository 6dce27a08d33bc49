package accountsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Me returns the authenticated account.
func (s *Session) Me(ctx context.Context) (*Account, error) {
	return s.getAccount(ctx, http.MethodGet, "/v1/accounts/me", nil)
}

// GetAccount returns an account by ID. Only the owner may read it.
func (s *Session) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id), nil)
}

// UpdateProfile changes the display name of an account the caller owns.
func (s *Session) UpdateProfile(ctx context.Context, id, displayName string) (*Account, error) {
	return s.getAccount(ctx, http.MethodPatch, "/v1/accounts/"+url.PathEscape(id), UpdateProfileRequest{DisplayName: displayName})
}

// ChangePassword replaces the caller's password. Every other session of the
// account is revoked; this one stays valid.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/accounts/me/password", ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// CloseAccount soft-deletes the caller's account. The session is unusable
// afterwards.
func (s *Session) CloseAccount(ctx context.Context, password string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/accounts/me", PasswordRequest{Password: password})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// ResendVerification queues a new verification email.
func (s *Session) ResendVerification(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/accounts/verify/resend", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusAccepted)
}

// ListSessions returns the caller's active sessions.
func (s *Session) ListSessions(ctx context.Context) (*SessionList, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}

	var out SessionList
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeSession ends one of the caller's sessions.
func (s *Session) RevokeSession(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

// Logout ends this session.
func (s *Session) Logout(ctx context.Context) error {
	return s.postNoContent(ctx, "/v1/auth/logout")
}

// LogoutAll ends every session of the account, this one included.
func (s *Session) LogoutAll(ctx context.Context) error {
	return s.postNoContent(ctx, "/v1/auth/logout-all")
}

func (s *Session) postNoContent(ctx context.Context, path string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

func (s *Session) getAccount(ctx context.Context, method, path string, payload any) (*Account, error) {
	resp, err := s.doAuthRequest(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	var out Account
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
