package accountsdk

import (
	"context"
	"net/http"
	"net/url"
)

// Suspend blocks an account. Requires moderator and a second factor when the
// server enforces MFA for that role.
func (s *Session) Suspend(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(id)+"/suspend", nil)
}

// Reinstate lifts a suspension.
func (s *Session) Reinstate(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, http.MethodPost, "/v1/admin/accounts/"+url.PathEscape(id)+"/reinstate", nil)
}

// SetRole changes an account's role. Admin only.
func (s *Session) SetRole(ctx context.Context, id, role string) (*Account, error) {
	return s.getAccount(ctx, http.MethodPut, "/v1/admin/accounts/"+url.PathEscape(id)+"/role", SetRoleRequest{Role: role})
}
