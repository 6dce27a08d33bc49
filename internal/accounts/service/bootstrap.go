package service

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// Bootstrapped reports whether any live account exists.
func (m *Manager) Bootstrapped(ctx context.Context) (bool, error) {
	n, err := m.store.Accounts().CountAccounts(ctx)
	if err != nil {
		return false, internalErr("ACCOUNT_COUNT_FAILED", err)
	}
	return n > 0, nil
}

// Bootstrap creates the first admin account. It is only available while a
// bootstrap token is configured and no accounts exist.
func (m *Manager) Bootstrap(ctx context.Context, token string, in JoinInput, client ClientInfo) (out AccountWithToken, err error) {
	ctx, span := tracer.Start(ctx, "service.Bootstrap")
	defer func() { endSpan(span, err) }()

	l := slogx.FromContext(ctx)
	if m.bootstrapToken == "" {
		return AccountWithToken{}, ErrBootstrapUnavailable
	}
	done, err := m.Bootstrapped(ctx)
	if err != nil {
		return AccountWithToken{}, err
	}
	if done {
		l.Warn("bootstrap attempted on an initialised service")
		return AccountWithToken{}, ErrBootstrapUnavailable
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.bootstrapToken)) != 1 {
		l.Warn("unauthorized bootstrap attempt")
		return AccountWithToken{}, ErrBootstrapUnauthorized
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return AccountWithToken{}, err
	}
	username, err := validateUsername(in.Username)
	if err != nil {
		return AccountWithToken{}, err
	}
	if err := validatePassword("password", in.Password); err != nil {
		return AccountWithToken{}, err
	}
	displayName, err := validateDisplayName(in.DisplayName)
	if err != nil {
		return AccountWithToken{}, err
	}
	digest, err := m.hasher.Hash(in.Password)
	if err != nil {
		return AccountWithToken{}, internalErr("PASSWORD_HASH_FAILED", err)
	}

	now := m.now().UTC()
	acct := domain.Account{
		ID:            idx.New().String(),
		Email:         email,
		Username:      username,
		DisplayName:   displayName,
		PasswordHash:  digest,
		Role:          domain.RoleAdmin,
		Status:        domain.StatusActive,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var pair domain.TokenPair
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		// Concurrent calls queue on the lock, so the count below sees any
		// admin committed by the one that went first.
		if err := tx.LockBootstrap(ctx); err != nil {
			return internalErr("BOOTSTRAP_LOCK_FAILED", err)
		}
		n, err := tx.Accounts().CountAccounts(ctx)
		if err != nil {
			return internalErr("ACCOUNT_COUNT_FAILED", err)
		}
		if n > 0 {
			return ErrBootstrapUnavailable
		}
		if err := m.createAccount(ctx, tx, acct); err != nil {
			return err
		}
		pair, err = m.startSession(ctx, tx, acct, []string{jwtx.AMRPassword}, client, now)
		return err
	})
	if err != nil {
		return AccountWithToken{}, err
	}

	l.Info("bootstrap completed", slog.String("account_id", acct.ID))
	return AccountWithToken{Account: acct, Token: pair}, nil
}
