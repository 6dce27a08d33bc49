package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// AuthHandler serves join, login, refresh and logout.
type AuthHandler struct {
	Manager    *service.Manager
	TrustProxy bool
}

// HandleJoin handles POST /v1/auth/join
//
//	@Summary		Create an account
//	@Description	Registers an account and starts a session. A verification email is queued.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.JoinRequest		true	"New account"
//	@Success		201		{object}	accountsdk.AccountWithToken	"Account and token pair"
//	@Failure		400		{object}	accountsdk.ErrorResponse	"Validation failed"
//	@Failure		409		{object}	accountsdk.ErrorResponse	"Email or username taken"
//	@Failure		429		{object}	accountsdk.ErrorResponse	"Rate limit exceeded"
//	@Router			/v1/auth/join [post].
func (h *AuthHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.JoinRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	out, err := h.Manager.Join(r.Context(), service.JoinInput{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	}, clientInfo(r, h.TrustProxy))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toAccountWithToken(out))
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Log in
//	@Description	Authenticates with an email or username. Accounts with MFA must send a TOTP or backup code in otp.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.LoginRequest		true	"Credentials"
//	@Success		200		{object}	accountsdk.AccountWithToken	"Account and token pair"
//	@Failure		401		{object}	accountsdk.ErrorResponse	"invalid_credentials or mfa_required"
//	@Failure		403		{object}	accountsdk.ErrorResponse	"Account suspended"
//	@Failure		429		{object}	accountsdk.ErrorResponse	"Rate limit exceeded"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	out, err := h.Manager.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		OTP:        req.OTP,
	}, clientInfo(r, h.TrustProxy))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAccountWithToken(out))
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Refresh tokens
//	@Description	Exchanges a refresh token for a new pair. With persistent sessions the old refresh token is spent, and presenting it again revokes the session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	accountsdk.AccountWithToken	"Account and rotated token pair"
//	@Failure		401		{object}	accountsdk.ErrorResponse	"Invalid, expired or replayed refresh token"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	out, err := h.Manager.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAccountWithToken(out))
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Log out
//	@Description	Revokes the session behind the access token.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Logout(r.Context(), principalFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll handles POST /v1/auth/logout-all
//
//	@Summary		Log out everywhere
//	@Description	Revokes every session of the account, the current one included.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		204
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/logout-all [post].
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.LogoutAll(r.Context(), principalFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
