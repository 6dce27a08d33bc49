package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

type SessionsHandler struct {
	Manager *service.Manager
}

// HandleList handles GET /v1/sessions
//
//	@Summary		List sessions
//	@Description	Lists the caller's active sessions, newest first. Always empty when sessions are stateless.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.SessionList
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/sessions [get].
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())

	sessions, err := h.Manager.ListSessions(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toSessionList(sessions, p.SessionID))
}

// HandleRevoke handles DELETE /v1/sessions/{id}
//
//	@Summary		Revoke a session
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Failure		403	{object}	accountsdk.ErrorResponse	"Session belongs to another account"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Session not found"
//	@Router			/v1/sessions/{id} [delete].
func (h *SessionsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, service.ErrSessionNotFound)
	if !ok {
		return
	}

	if err := h.Manager.RevokeSession(r.Context(), principalFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
