package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// VerifyEmail redeems a verification token and marks the email verified,
// promoting a pending account to active.
func (m *Manager) VerifyEmail(ctx context.Context, token string) (acct domain.Account, err error) {
	ctx, span := tracer.Start(ctx, "service.VerifyEmail")
	defer func() { endSpan(span, err) }()

	var accountID string
	err = m.redeem(ctx, domain.PurposeVerifyEmail, token, func(tx store.Tx, t domain.ActionToken) error {
		accountID = t.AccountID
		err := tx.Accounts().MarkEmailVerified(ctx, t.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidActionToken
		}
		if err != nil {
			return internalErr("ACCOUNT_VERIFY_FAILED", err, "account_id", t.AccountID)
		}
		return nil
	})
	if err != nil {
		return domain.Account{}, err
	}

	slogx.FromContext(ctx).Info("email verified", slog.String("account_id", accountID))
	return m.loadAccount(ctx, accountID)
}

// ResendVerification issues a fresh verification token for the caller,
// invalidating any earlier one.
func (m *Manager) ResendVerification(ctx context.Context, p Principal) error {
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return err
	}
	if acct.EmailVerified {
		return ErrAlreadyVerified
	}

	var (
		raw string
		msg notify.Message
	)
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		raw, msg.ExpiresAt, err = m.newActionToken(ctx, tx, acct.ID, domain.PurposeVerifyEmail, m.policy.VerifyTokenTTL, m.now().UTC())
		return err
	})
	if err != nil {
		return err
	}

	msg.Kind, msg.AccountID, msg.To, msg.Token = notify.KindVerifyEmail, acct.ID, acct.Email, raw
	m.enqueue(ctx, msg)
	return nil
}

// RequestPasswordReset queues a reset token when email belongs to a live,
// unsuspended account. It reports success either way so the endpoint cannot
// be used to discover accounts.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "service.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return validationError("email", "email is required")
	}

	acct, err := m.store.Accounts().GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		m.verifyDummy(email)
		return nil
	}
	if err != nil {
		return internalErr("ACCOUNT_LOOKUP_FAILED", err)
	}
	if !domain.IsActive(acct) {
		return nil
	}

	var (
		raw string
		msg notify.Message
	)
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		raw, msg.ExpiresAt, err = m.newActionToken(ctx, tx, acct.ID, domain.PurposeResetPassword, m.policy.ResetTokenTTL, m.now().UTC())
		return err
	})
	if err != nil {
		return err
	}

	msg.Kind, msg.AccountID, msg.To, msg.Token = notify.KindPasswordReset, acct.ID, acct.Email, raw
	m.enqueue(ctx, msg)
	slogx.FromContext(ctx).Info("password reset requested", slog.String("account_id", acct.ID))
	return nil
}

// ResetPassword redeems a reset token, sets the new password, clears any
// lockout and revokes every session of the account.
func (m *Manager) ResetPassword(ctx context.Context, token, password string) (err error) {
	ctx, span := tracer.Start(ctx, "service.ResetPassword")
	defer func() { endSpan(span, err) }()

	if err := validatePassword("password", password); err != nil {
		return err
	}
	digest, err := m.hasher.Hash(password)
	if err != nil {
		return internalErr("PASSWORD_HASH_FAILED", err)
	}

	var accountID string
	err = m.redeem(ctx, domain.PurposeResetPassword, token, func(tx store.Tx, t domain.ActionToken) error {
		accountID = t.AccountID
		err := tx.Accounts().UpdatePasswordHash(ctx, t.AccountID, digest)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidActionToken
		}
		if err != nil {
			return internalErr("PASSWORD_UPDATE_FAILED", err, "account_id", t.AccountID)
		}
		return m.revokeOthers(ctx, tx, t.AccountID, "", m.now().UTC())
	})
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("password reset", slog.String("account_id", accountID))
	return nil
}

// redeem looks up an active token, consumes it and runs apply in the same
// transaction. A token consumed concurrently fails the second redemption.
func (m *Manager) redeem(ctx context.Context, purpose domain.ActionPurpose, raw string, apply func(store.Tx, domain.ActionToken) error) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validationError("token", "token is required")
	}

	now := m.now().UTC()
	return m.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.ActionTokens().GetActiveActionToken(ctx, purpose, cryptox.FingerprintToken(raw), now)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidActionToken
		}
		if err != nil {
			return internalErr("ACTION_TOKEN_LOOKUP_FAILED", err)
		}

		err = tx.ActionTokens().ConsumeActionToken(ctx, t.ID, now)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidActionToken
		}
		if err != nil {
			return internalErr("ACTION_TOKEN_CONSUME_FAILED", err, "token_id", t.ID)
		}
		return apply(tx, t)
	})
}
