package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

type PasswordHandler struct {
	Manager *service.Manager
}

// HandleForgot handles POST /v1/password/forgot
//
//	@Summary		Request a password reset
//	@Description	Queues a reset email. The response is the same whether or not the address is registered.
//	@Tags			Password
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.ForgotPasswordRequest	true	"Email"
//	@Success		202		{object}	accountsdk.AcceptedResponse
//	@Failure		429		{object}	accountsdk.ErrorResponse	"Rate limit exceeded"
//	@Router			/v1/password/forgot [post].
func (h *PasswordHandler) HandleForgot(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.ForgotPasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.Manager.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, accountsdk.AcceptedResponse{Status: "accepted"})
}

// HandleReset handles POST /v1/password/reset
//
//	@Summary		Reset password
//	@Description	Sets a new password with an emailed reset token and revokes every session.
//	@Tags			Password
//	@Accept			json
//	@Param			request	body	accountsdk.ResetPasswordRequest	true	"Reset token and new password"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Invalid token or password"
//	@Router			/v1/password/reset [post].
func (h *PasswordHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.ResetPasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.Manager.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
