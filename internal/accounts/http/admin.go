package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// AdminHandler serves moderation endpoints. Role checks happen in the
// service so the same rules hold for every caller.
type AdminHandler struct {
	Manager *service.Manager
}

// HandleSuspend handles POST /v1/admin/accounts/{id}/suspend
//
//	@Summary		Suspend an account
//	@Description	Requires moderator or above, and a second factor where the caller's role demands one. Revokes the target's sessions.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Account ID"
//	@Success		200	{object}	accountsdk.Account
//	@Failure		403	{object}	accountsdk.ErrorResponse	"forbidden or second_factor_required"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/admin/accounts/{id}/suspend [post].
func (h *AdminHandler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, service.ErrAccountNotFound)
	if !ok {
		return
	}

	a, err := h.Manager.Suspend(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}

// HandleReinstate handles POST /v1/admin/accounts/{id}/reinstate
//
//	@Summary		Reinstate an account
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Account ID"
//	@Success		200	{object}	accountsdk.Account
//	@Failure		403	{object}	accountsdk.ErrorResponse	"forbidden or second_factor_required"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/admin/accounts/{id}/reinstate [post].
func (h *AdminHandler) HandleReinstate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, service.ErrAccountNotFound)
	if !ok {
		return
	}

	a, err := h.Manager.Reinstate(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}

// HandleSetRole handles PUT /v1/admin/accounts/{id}/role
//
//	@Summary		Change an account's role
//	@Tags			Admin
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string						true	"Account ID"
//	@Param			request	body		accountsdk.SetRoleRequest	true	"member, moderator or admin"
//	@Success		200		{object}	accountsdk.Account
//	@Failure		400		{object}	accountsdk.ErrorResponse	"Unknown role"
//	@Failure		403		{object}	accountsdk.ErrorResponse	"forbidden or second_factor_required"
//	@Router			/v1/admin/accounts/{id}/role [put].
func (h *AdminHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, service.ErrAccountNotFound)
	if !ok {
		return
	}

	var req accountsdk.SetRoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	a, err := h.Manager.SetRole(r.Context(), principalFrom(r.Context()), id, domain.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAccount(a))
}
