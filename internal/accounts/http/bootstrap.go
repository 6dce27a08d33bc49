package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// BootstrapTokenHeader carries the one-time setup token.
const BootstrapTokenHeader = "X-Bootstrap-Token"

type BootstrapHandler struct {
	Manager    *service.Manager
	TrustProxy bool
}

// ServeHTTP handles POST /v1/bootstrap
//
//	@Summary		Create the first admin
//	@Description	Only available while no accounts exist and a bootstrap token is configured.
//	@Tags			Bootstrap
//	@Accept			json
//	@Produce		json
//	@Param			X-Bootstrap-Token	header		string						true	"Bootstrap token"
//	@Param			request				body		accountsdk.BootstrapRequest	true	"Admin account"
//	@Success		201					{object}	accountsdk.AccountWithToken
//	@Failure		401					{object}	accountsdk.ErrorResponse	"Wrong bootstrap token"
//	@Failure		404					{object}	accountsdk.ErrorResponse	"Bootstrap not available"
//	@Router			/v1/bootstrap [post].
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.BootstrapRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	out, err := h.Manager.Bootstrap(r.Context(), r.Header.Get(BootstrapTokenHeader), service.JoinInput{
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
