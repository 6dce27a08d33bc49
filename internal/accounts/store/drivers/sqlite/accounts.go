package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type accountsRepo struct{ q dbtx }

var _ store.Accounts = (*accountsRepo)(nil)

const accountColumns = `id, email, username, display_name, password_hash, role, status,
	email_verified, failed_logins, last_failed_login_at, locked_until,
	mfa_enabled_at, mfa_secret, created_at, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (domain.Account, error) {
	var (
		a                                       domain.Account
		username, mfaSecret                     sql.NullString
		lastFailed, lockedUntil, mfaOn, deleted sql.NullTime
		role, status                            string
	)
	err := row.Scan(
		&a.ID, &a.Email, &username, &a.DisplayName, &a.PasswordHash, &role, &status,
		&a.EmailVerified, &a.FailedLogins, &lastFailed, &lockedUntil,
		&mfaOn, &mfaSecret, &a.CreatedAt, &a.UpdatedAt, &deleted,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.Username = username.String
	a.Role = domain.Role(role)
	a.Status = domain.Status(status)
	a.LastFailedLoginAt = mapNullTimePtr(lastFailed)
	a.LockedUntil = mapNullTimePtr(lockedUntil)
	a.MFAEnabledAt = mapNullTimePtr(mfaOn)
	a.MFASecret = mapNullStringPtr(mfaSecret)
	a.DeletedAt = mapNullTimePtr(deleted)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, mapStringNull(a.Username), a.DisplayName, a.PasswordHash,
		string(a.Role), string(a.Status), a.EmailVerified, a.FailedLogins,
		mapOptionalTime(a.LastFailedLoginAt), mapOptionalTime(a.LockedUntil),
		mapOptionalTime(a.MFAEnabledAt), mapOptionalString(a.MFASecret),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(), mapOptionalTime(a.DeletedAt),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND deleted_at IS NULL`, id))
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = lower(?) AND deleted_at IS NULL`, email))
}

func (r *accountsRepo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower(?) AND deleted_at IS NULL`, username))
}

func (r *accountsRepo) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

// update runs a single-row UPDATE against a live account, stamping updated_at.
func (r *accountsRepo) update(ctx context.Context, id, set string, args ...any) error {
	args = append(args, time.Now().UTC(), id)
	return requireAffected(r.q.ExecContext(ctx,
		`UPDATE accounts SET `+set+`, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, args...))
}

func (r *accountsRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	return r.update(ctx, id, `display_name = ?`, displayName)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, id,
		`password_hash = ?, failed_logins = 0, last_failed_login_at = NULL, locked_until = NULL`, hash)
}

func (r *accountsRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.update(ctx, id,
		`email_verified = 1, status = CASE WHEN status = ? THEN ? ELSE status END`,
		string(domain.StatusPendingVerification), string(domain.StatusActive))
}

func (r *accountsRepo) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return r.update(ctx, id, `status = ?`, string(status))
}

func (r *accountsRepo) SetRole(ctx context.Context, id string, role domain.Role) error {
	return r.update(ctx, id, `role = ?`, string(role))
}

func (r *accountsRepo) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, window time.Duration) (domain.Lockout, error) {
	now = now.UTC()
	since := now.Add(-window)

	var count int
	err := r.q.QueryRowContext(ctx, `
		UPDATE accounts SET
			failed_logins = CASE WHEN last_failed_login_at >= ? THEN failed_logins + 1 ELSE 1 END,
			last_failed_login_at = ?,
			locked_until = CASE
				WHEN ? > 0 AND (CASE WHEN last_failed_login_at >= ? THEN failed_logins + 1 ELSE 1 END) >= ?
				THEN ? ELSE locked_until END,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING failed_logins`,
		since, now, threshold, since, threshold, now.Add(window), time.Now().UTC(), id,
	).Scan(&count)
	if err != nil {
		return domain.Lockout{}, mapNotFound(err)
	}
	return domain.FailureLockout(count, now, threshold, window), nil
}

func (r *accountsRepo) ClearLockout(ctx context.Context, id string) error {
	return r.update(ctx, id, `failed_logins = 0, last_failed_login_at = NULL, locked_until = NULL`)
}

func (r *accountsRepo) UpdateMFASecret(ctx context.Context, id, secret string) error {
	return r.update(ctx, id, `mfa_secret = ?, mfa_enabled_at = NULL`, secret)
}

func (r *accountsRepo) EnableMFA(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, `mfa_enabled_at = ?`, at.UTC())
}

func (r *accountsRepo) DisableMFA(ctx context.Context, id string) error {
	return r.update(ctx, id, `mfa_secret = NULL, mfa_enabled_at = NULL`)
}

func (r *accountsRepo) SoftDeleteAccount(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, `deleted_at = ?`, at.UTC())
}
