package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod      = 30
	backupCodeBytes = cryptox.TokenSize128
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// EnrollMFA provisions a TOTP secret for the caller. MFA is not enforced
// until ConfirmMFA proves the authenticator works; enrolling again before
// that replaces the pending secret.
func (m *Manager) EnrollMFA(ctx context.Context, p Principal) (domain.MFAEnrollment, error) {
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}
	if acct.MFAEnabled() {
		return domain.MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.tokens.Name(),
		AccountName: acct.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollment{}, internalErr("TOTP_GENERATE_FAILED", err, "account_id", acct.ID)
	}
	if err := m.store.Accounts().UpdateMFASecret(ctx, acct.ID, key.Secret()); err != nil {
		return domain.MFAEnrollment{}, internalErr("MFA_SECRET_UPDATE_FAILED", err, "account_id", acct.ID)
	}

	return domain.MFAEnrollment{
		Secret:  key.Secret(),
		URL:     key.URL(),
		Issuer:  key.Issuer(),
		Account: key.AccountName(),
	}, nil
}

// ConfirmMFA enables MFA once code matches the pending secret and returns
// the first set of backup codes. The codes are only ever shown here.
func (m *Manager) ConfirmMFA(ctx context.Context, p Principal, code string) ([]string, error) {
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled() {
		return nil, ErrMFAAlreadyEnabled
	}
	if acct.MFASecret == nil {
		return nil, ErrMFANotEnrolled
	}
	now := m.now().UTC()
	if !validTOTP(code, *acct.MFASecret, now) {
		return nil, ErrInvalidOTP
	}

	codes, hashes, err := newBackupCodes()
	if err != nil {
		return nil, err
	}
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().ReplaceBackupCodes(ctx, acct.ID, hashes); err != nil {
			return internalErr("BACKUP_CODES_STORE_FAILED", err, "account_id", acct.ID)
		}
		if err := tx.Accounts().EnableMFA(ctx, acct.ID, now); err != nil {
			return internalErr("MFA_ENABLE_FAILED", err, "account_id", acct.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("mfa enabled", slog.String("account_id", acct.ID))
	return codes, nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP code.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, p Principal, code string) ([]string, error) {
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !acct.MFAEnabled() {
		return nil, ErrMFANotEnabled
	}
	if !validTOTP(code, *acct.MFASecret, m.now().UTC()) {
		return nil, ErrInvalidOTP
	}

	codes, hashes, err := newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := m.store.BackupCodes().ReplaceBackupCodes(ctx, acct.ID, hashes); err != nil {
		return nil, internalErr("BACKUP_CODES_STORE_FAILED", err, "account_id", acct.ID)
	}
	return codes, nil
}

// DisableMFA turns MFA off after re-checking the password.
func (m *Manager) DisableMFA(ctx context.Context, p Principal, password string) error {
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return err
	}
	if !acct.MFAEnabled() {
		return ErrMFANotEnabled
	}
	if !m.verifyPassword(acct, password) {
		return ErrInvalidCredentials
	}

	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteBackupCodes(ctx, acct.ID); err != nil {
			return internalErr("BACKUP_CODES_DELETE_FAILED", err, "account_id", acct.ID)
		}
		if err := tx.Accounts().DisableMFA(ctx, acct.ID); err != nil {
			return internalErr("MFA_DISABLE_FAILED", err, "account_id", acct.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("mfa disabled", slog.String("account_id", acct.ID))
	return nil
}

// checkSecondFactor accepts a current TOTP code or consumes a backup code.
func (m *Manager) checkSecondFactor(ctx context.Context, acct domain.Account, code string, now time.Time) (bool, error) {
	if validTOTP(code, *acct.MFASecret, now) {
		return true, nil
	}

	err := m.store.BackupCodes().ConsumeBackupCode(ctx, acct.ID, cryptox.FingerprintToken(code))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, internalErr("BACKUP_CODE_CONSUME_FAILED", err, "account_id", acct.ID)
	}
	slogx.FromContext(ctx).Info("backup code used", slog.String("account_id", acct.ID))
	return true, nil
}

func validTOTP(code, secret string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totpOpts)
	return err == nil && ok
}

// newBackupCodes returns fresh codes and their fingerprints.
func newBackupCodes() (codes, hashes []string, err error) {
	codes = make([]string, domain.BackupCodeCount)
	hashes = make([]string, domain.BackupCodeCount)
	for i := range codes {
		c, err := cryptox.GenerateToken(backupCodeBytes)
		if err != nil {
			return nil, nil, internalErr("BACKUP_CODE_GENERATE_FAILED", err)
		}
		codes[i], hashes[i] = c, cryptox.FingerprintToken(c)
	}
	return codes, hashes, nil
}
