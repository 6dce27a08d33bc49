package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// AccountsHandler serves profile, password and email verification endpoints.
type AccountsHandler struct {
	Manager *service.Manager
}

// HandleMe handles GET /v1/accounts/me
//
//	@Summary		Current account
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.Account
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/accounts/me [get].
func (h *AccountsHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, toAccount(principalFrom(r.Context()).Account))
}

// HandleGet handles GET /v1/accounts/{id}
//
//	@Summary		Get an account
//	@Description	Owners may read their own account; moderators and admins may read any.
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Account ID"
//	@Success		200	{object}	accountsdk.Account
//	@Failure		403	{object}	accountsdk.ErrorResponse	"Not the owner"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/accounts/{id} [get].
func (h *AccountsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	id, ok := pathID(w, r, service.ErrAccountNotFound)
	if !ok {
		return
	}

	if err := h.Manager.Guard().RequireOwner(p, id); err != nil && !p.Role.AtLeast(domain.RoleModerator) {
		writeError(w, r, err)
		return
	}

	a, err := h.Manager.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}

// HandleUpdateProfile handles PATCH /v1/accounts/{id}
//
//	@Summary		Update profile
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string							true	"Account ID"
//	@Param			request	body		accountsdk.UpdateProfileRequest	true	"New display name"
//	@Success		200		{object}	accountsdk.Account
//	@Failure		400		{object}	accountsdk.ErrorResponse	"Validation failed"
//	@Failure		403		{object}	accountsdk.ErrorResponse	"Not the owner"
//	@Router			/v1/accounts/{id} [patch].
func (h *AccountsHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, service.ErrAccountNotFound)
	if !ok {
		return
	}

	var req accountsdk.UpdateProfileRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	a, err := h.Manager.UpdateProfile(r.Context(), principalFrom(r.Context()), id, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}

// HandleChangePassword handles POST /v1/accounts/me/password
//
//	@Summary		Change password
//	@Description	Requires the current password. Every other session is revoked.
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Validation failed"
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Current password is wrong"
//	@Router			/v1/accounts/me/password [post].
func (h *AccountsHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	err := h.Manager.ChangePassword(r.Context(), principalFrom(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClose handles DELETE /v1/accounts/me
//
//	@Summary		Close account
//	@Description	Soft-deletes the account after re-checking the password and revokes every session.
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.PasswordRequest	true	"Password"
//	@Success		204
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Password is wrong"
//	@Router			/v1/accounts/me [delete].
func (h *AccountsHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.PasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.Manager.CloseAccount(r.Context(), principalFrom(r.Context()), req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerifyEmail handles POST /v1/accounts/verify
//
//	@Summary		Verify email
//	@Description	Redeems the token from a verification email. A pending account becomes active.
//	@Tags			Accounts
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.VerifyEmailRequest	true	"Verification token"
//	@Success		200		{object}	accountsdk.Account
//	@Failure		400		{object}	accountsdk.ErrorResponse	"Invalid or expired token"
//	@Router			/v1/accounts/verify [post].
func (h *AccountsHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.VerifyEmailRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	a, err := h.Manager.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}

// HandleResendVerification handles POST /v1/accounts/verify/resend
//
//	@Summary		Resend verification email
//	@Tags			Accounts
//	@Security		BearerAuth
//	@Produce		json
//	@Success		202	{object}	accountsdk.AcceptedResponse
//	@Failure		409	{object}	accountsdk.ErrorResponse	"Already verified"
//	@Router			/v1/accounts/verify/resend [post].
func (h *AccountsHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.ResendVerification(r.Context(), principalFrom(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, accountsdk.AcceptedResponse{Status: "accepted"})
}
