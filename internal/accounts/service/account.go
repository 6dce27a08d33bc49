package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// GetAccount returns a live account by id.
func (m *Manager) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return m.loadAccount(ctx, id)
}

// UpdateProfile changes the display name of the caller's own account.
func (m *Manager) UpdateProfile(ctx context.Context, p Principal, id, displayName string) (domain.Account, error) {
	if err := m.guard.RequireOwner(p, id); err != nil {
		return domain.Account{}, err
	}
	name, err := validateDisplayName(displayName)
	if err != nil {
		return domain.Account{}, err
	}

	err = m.store.Accounts().UpdateDisplayName(ctx, id, name)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, internalErr("ACCOUNT_UPDATE_FAILED", err, "account_id", id)
	}
	return m.loadAccount(ctx, id)
}

// ChangePassword replaces the caller's password after checking the current
// one. Every other session is revoked; the calling session survives.
func (m *Manager) ChangePassword(ctx context.Context, p Principal, current, next string) (err error) {
	ctx, span := tracer.Start(ctx, "service.ChangePassword")
	defer func() { endSpan(span, err) }()

	if err := validatePassword("new_password", next); err != nil {
		return err
	}
	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return err
	}
	if !m.verifyPassword(acct, current) {
		return ErrInvalidCredentials
	}

	digest, err := m.hasher.Hash(next)
	if err != nil {
		return internalErr("PASSWORD_HASH_FAILED", err)
	}

	now := m.now().UTC()
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().UpdatePasswordHash(ctx, acct.ID, digest); err != nil {
			return internalErr("PASSWORD_UPDATE_FAILED", err, "account_id", acct.ID)
		}
		return m.revokeOthers(ctx, tx, acct.ID, p.SessionID, now)
	})
	if err != nil {
		return err
	}

	m.enqueue(ctx, notify.Message{Kind: notify.KindPasswordChanged, AccountID: acct.ID, To: acct.Email})
	slogx.FromContext(ctx).Info("password changed", slog.String("account_id", acct.ID))
	return nil
}

// CloseAccount soft-deletes the caller's account after re-checking the
// password. All sessions and backup codes go with it.
func (m *Manager) CloseAccount(ctx context.Context, p Principal, password string) (err error) {
	ctx, span := tracer.Start(ctx, "service.CloseAccount")
	defer func() { endSpan(span, err) }()

	acct, err := m.loadAccount(ctx, p.ID)
	if err != nil {
		return err
	}
	if !m.verifyPassword(acct, password) {
		return ErrInvalidCredentials
	}

	now := m.now().UTC()
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.Accounts().SoftDeleteAccount(ctx, acct.ID, now)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return internalErr("ACCOUNT_DELETE_FAILED", err, "account_id", acct.ID)
		}
		if err := tx.BackupCodes().DeleteBackupCodes(ctx, acct.ID); err != nil {
			return internalErr("BACKUP_CODES_DELETE_FAILED", err, "account_id", acct.ID)
		}
		return m.revokeOthers(ctx, tx, acct.ID, "", now)
	})
	if err != nil {
		return err
	}

	m.enqueue(ctx, notify.Message{Kind: notify.KindAccountClosed, AccountID: acct.ID, To: acct.Email})
	slogx.FromContext(ctx).Info("account closed", slog.String("account_id", acct.ID))
	return nil
}

// Suspend blocks an account from authenticating and revokes its sessions.
// The actor must be a moderator and strictly outrank the target.
func (m *Manager) Suspend(ctx context.Context, actor Principal, id string) (domain.Account, error) {
	target, err := m.moderate(ctx, actor, id)
	if err != nil {
		return domain.Account{}, err
	}
	if target.Status == domain.StatusSuspended {
		return target, nil
	}

	now := m.now().UTC()
	err = m.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Accounts().SetStatus(ctx, id, domain.StatusSuspended); err != nil {
			return internalErr("ACCOUNT_UPDATE_FAILED", err, "account_id", id)
		}
		return m.revokeOthers(ctx, tx, id, "", now)
	})
	if err != nil {
		return domain.Account{}, err
	}

	slogx.FromContext(ctx).Warn("account suspended",
		slog.String("account_id", id), slog.String("actor_id", actor.ID))
	return m.loadAccount(ctx, id)
}

// Reinstate lifts a suspension. Accounts that never verified their email
// return to pending when verification is required.
func (m *Manager) Reinstate(ctx context.Context, actor Principal, id string) (domain.Account, error) {
	target, err := m.moderate(ctx, actor, id)
	if err != nil {
		return domain.Account{}, err
	}
	if target.Status != domain.StatusSuspended {
		return target, nil
	}

	status := domain.StatusActive
	if m.policy.RequireEmailVerification && !target.EmailVerified {
		status = domain.StatusPendingVerification
	}
	if err := m.store.Accounts().SetStatus(ctx, id, status); err != nil {
		return domain.Account{}, internalErr("ACCOUNT_UPDATE_FAILED", err, "account_id", id)
	}

	slogx.FromContext(ctx).Info("account reinstated",
		slog.String("account_id", id), slog.String("actor_id", actor.ID))
	return m.loadAccount(ctx, id)
}

func (m *Manager) moderate(ctx context.Context, actor Principal, id string) (domain.Account, error) {
	if err := m.guard.RequireRole(actor, domain.RoleModerator); err != nil {
		return domain.Account{}, err
	}
	target, err := m.loadAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if target.ID == actor.ID || target.Role.AtLeast(actor.Role) {
		return domain.Account{}, ErrForbidden
	}
	return target, nil
}

// SetRole changes the role of another account. Admin only.
func (m *Manager) SetRole(ctx context.Context, actor Principal, id string, role domain.Role) (domain.Account, error) {
	if err := m.guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return domain.Account{}, err
	}
	role, ok := domain.ParseRole(string(role))
	if !ok {
		return domain.Account{}, validationError("role", "role must be one of member, moderator, admin")
	}
	if actor.ID == id {
		return domain.Account{}, ErrForbidden
	}

	err := m.store.Accounts().SetRole(ctx, id, role)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, internalErr("ACCOUNT_UPDATE_FAILED", err, "account_id", id)
	}

	slogx.FromContext(ctx).Info("account role changed",
		slog.String("account_id", id),
		slog.String("role", string(role)),
		slog.String("actor_id", actor.ID))
	return m.loadAccount(ctx, id)
}
