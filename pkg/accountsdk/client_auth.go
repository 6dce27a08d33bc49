package accountsdk

import (
	"context"
	"net/http"
)

// Join registers a new account and returns it with a token pair.
func (c *Client) Join(ctx context.Context, req JoinRequest) (*AccountWithToken, error) {
	return c.postAccountWithToken(ctx, "/v1/auth/join", req, http.StatusCreated)
}

// Login authenticates with an email or username. When the account has MFA
// enabled and req.OTP is empty the error satisfies IsMFARequired.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AccountWithToken, error) {
	return c.postAccountWithToken(ctx, "/v1/auth/login", req, http.StatusOK)
}

// Refresh exchanges a refresh token for a new pair. The old refresh token
// must not be used again.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AccountWithToken, error) {
	return c.postAccountWithToken(ctx, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, http.StatusOK)
}

// LoginSession logs in and wraps the result in a Session.
func (c *Client) LoginSession(ctx context.Context, req LoginRequest) (*Session, error) {
	awt, err := c.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.NewSession(awt), nil
}

// Bootstrap creates the first admin account using the configured bootstrap token.
func (c *Client) Bootstrap(ctx context.Context, bootstrapToken string, req BootstrapRequest) (*AccountWithToken, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/bootstrap", req, map[string]string{
		"X-Bootstrap-Token": bootstrapToken,
	})
	if err != nil {
		return nil, err
	}

	var out AccountWithToken
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEmail redeems an emailed verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*Account, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/accounts/verify", VerifyEmailRequest{Token: token}, nil)
	if err != nil {
		return nil, err
	}

	var out Account
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForgotPassword requests a reset email. It succeeds whether or not the
// address is registered.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/password/forgot", ForgotPasswordRequest{Email: email}, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusAccepted)
}

// ResetPassword sets a new password with an emailed reset token. Every
// session of the account is revoked.
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/password/reset", ResetPasswordRequest{Token: token, Password: password}, nil)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

func (c *Client) postAccountWithToken(ctx context.Context, path string, payload any, expected int) (*AccountWithToken, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return nil, err
	}

	var out AccountWithToken
	if err := decodeJSON(resp, &out, expected); err != nil {
		return nil, err
	}
	return &out, nil
}
