package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// MFAHandler handles all MFA-related endpoints.
type MFAHandler struct {
	Manager *service.Manager
}

// HandleEnroll handles POST /v1/mfa/enroll
//
//	@Summary		Enroll in TOTP MFA
//	@Description	Generates a TOTP secret for the caller. MFA stays off until a code is confirmed.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.MFAEnrollResponse	"TOTP secret and otpauth URL"
//	@Failure		409	{object}	accountsdk.ErrorResponse		"MFA already enabled"
//	@Failure		401	{object}	accountsdk.ErrorResponse		"Invalid or missing access token"
//	@Router			/v1/mfa/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.Manager.EnrollMFA(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, accountsdk.MFAEnrollResponse{
		Secret:     enrollment.Secret,
		OTPAuthURL: enrollment.URL,
		Issuer:     enrollment.Issuer,
		Account:    enrollment.Account,
	})
}

// HandleConfirm handles POST /v1/mfa/verify
//
//	@Summary		Confirm TOTP and enable MFA
//	@Description	Checks a code against the enrolled secret, enables MFA and returns backup codes.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.MFACodeRequest		true	"TOTP code"
//	@Success		200		{object}	accountsdk.BackupCodesResponse	"Backup codes (shown once)"
//	@Failure		400		{object}	accountsdk.ErrorResponse		"Invalid code or not enrolled"
//	@Router			/v1/mfa/verify [post].
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.MFACodeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	codes, err := h.Manager.ConfirmMFA(r.Context(), principalFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, accountsdk.BackupCodesResponse{BackupCodes: codes})
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes
//
//	@Summary		Regenerate backup codes
//	@Description	Replaces every backup code. Requires a current TOTP code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.MFACodeRequest		true	"TOTP code"
//	@Success		200		{object}	accountsdk.BackupCodesResponse	"New backup codes (shown once)"
//	@Failure		400		{object}	accountsdk.ErrorResponse		"Invalid code or MFA not enabled"
//	@Router			/v1/mfa/backup-codes [post].
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.MFACodeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	codes, err := h.Manager.RegenerateBackupCodes(r.Context(), principalFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, accountsdk.BackupCodesResponse{BackupCodes: codes})
}

// HandleDisable handles DELETE /v1/mfa
//
//	@Summary		Disable MFA
//	@Description	Turns MFA off and deletes backup codes after re-checking the password.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.PasswordRequest	true	"Password"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"MFA not enabled"
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Password is wrong"
//	@Router			/v1/mfa [delete].
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.PasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := h.Manager.DisableMFA(r.Context(), principalFrom(r.Context()), req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
