package accountsdk

import (
	"context"
	"net/http"
)

// EnrollMFA starts TOTP enrollment. MFA is not enabled until ConfirmMFA.
func (s *Session) EnrollMFA(ctx context.Context) (*MFAEnrollResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/enroll", nil)
	if err != nil {
		return nil, err
	}

	var out MFAEnrollResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmMFA enables MFA with a code from the authenticator and returns the
// one-time backup codes.
func (s *Session) ConfirmMFA(ctx context.Context, code string) ([]string, error) {
	return s.backupCodes(ctx, "/v1/mfa/verify", code)
}

// RegenerateBackupCodes replaces every backup code. code must be a TOTP code.
func (s *Session) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	return s.backupCodes(ctx, "/v1/mfa/backup-codes", code)
}

// DisableMFA turns MFA off after re-checking the password.
func (s *Session) DisableMFA(ctx context.Context, password string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/mfa", PasswordRequest{Password: password})
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusNoContent)
}

func (s *Session) backupCodes(ctx context.Context, path, code string) ([]string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, path, MFACodeRequest{Code: code})
	if err != nil {
		return nil, err
	}

	var out BackupCodesResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}
