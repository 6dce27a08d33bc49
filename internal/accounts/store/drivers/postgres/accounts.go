package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/jackc/pgx/v5"
)

type accountsRepo struct{ q querier }

var _ store.Accounts = (*accountsRepo)(nil)

const accountColumns = `id, email, username, display_name, password_hash, role, status,
	email_verified, failed_logins, last_failed_login_at, locked_until,
	mfa_enabled_at, mfa_secret, created_at, updated_at, deleted_at`

func scanAccount(op string, row pgx.Row) (domain.Account, error) {
	var (
		a            domain.Account
		username     *string
		role, status string
	)
	err := row.Scan(
		&a.ID, &a.Email, &username, &a.DisplayName, &a.PasswordHash, &role, &status,
		&a.EmailVerified, &a.FailedLogins, &a.LastFailedLoginAt, &a.LockedUntil,
		&a.MFAEnabledAt, &a.MFASecret, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return domain.Account{}, wrap(op, err)
	}
	if username != nil {
		a.Username = *username
	}
	a.Role = domain.Role(role)
	a.Status = domain.Status(status)
	return a, nil
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Email, nullString(a.Username), a.DisplayName, a.PasswordHash,
		string(a.Role), string(a.Status), a.EmailVerified, a.FailedLogins,
		a.LastFailedLoginAt, a.LockedUntil, a.MFAEnabledAt, a.MFASecret,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt,
	)
	return wrap("create account", err)
}

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount("get account by id", r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *accountsRepo) GetAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	return scanAccount("get account by email", r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email))
}

func (r *accountsRepo) GetAccountByUsername(ctx context.Context, username string) (domain.Account, error) {
	return scanAccount("get account by username", r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(username) = lower($1) AND deleted_at IS NULL`, username))
}

func (r *accountsRepo) CountAccounts(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE deleted_at IS NULL`).Scan(&n)
	return n, wrap("count accounts", err)
}

// update runs a single-row UPDATE against a live account. set uses
// placeholders $1..$n for args; updated_at and id follow.
func (r *accountsRepo) update(ctx context.Context, op, id, set string, args ...any) error {
	n := len(args)
	query := fmt.Sprintf(
		`UPDATE accounts SET %s, updated_at = $%d WHERE id = $%d AND deleted_at IS NULL`,
		set, n+1, n+2)
	args = append(args, time.Now().UTC(), id)
	tag, err := r.q.Exec(ctx, query, args...)
	return requireAffected(op, tag, err)
}

func (r *accountsRepo) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	return r.update(ctx, "update display name", id, `display_name = $1`, displayName)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, "update password hash", id,
		`password_hash = $1, failed_logins = 0, last_failed_login_at = NULL, locked_until = NULL`, hash)
}

func (r *accountsRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.update(ctx, "mark email verified", id,
		`email_verified = TRUE, status = CASE WHEN status = $1 THEN $2 ELSE status END`,
		string(domain.StatusPendingVerification), string(domain.StatusActive))
}

func (r *accountsRepo) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return r.update(ctx, "set status", id, `status = $1`, string(status))
}

func (r *accountsRepo) SetRole(ctx context.Context, id string, role domain.Role) error {
	return r.update(ctx, "set role", id, `role = $1`, string(role))
}

func (r *accountsRepo) RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, window time.Duration) (domain.Lockout, error) {
	now = now.UTC()

	var count int
	err := r.q.QueryRow(ctx, `
		UPDATE accounts SET
			failed_logins = CASE WHEN last_failed_login_at >= $1 THEN failed_logins + 1 ELSE 1 END,
			last_failed_login_at = $2,
			locked_until = CASE
				WHEN $3::int > 0 AND (CASE WHEN last_failed_login_at >= $1 THEN failed_logins + 1 ELSE 1 END) >= $3::int
				THEN $4::timestamptz ELSE locked_until END,
			updated_at = $5
		WHERE id = $6 AND deleted_at IS NULL
		RETURNING failed_logins`,
		now.Add(-window), now, threshold, now.Add(window), time.Now().UTC(), id,
	).Scan(&count)
	if err != nil {
		return domain.Lockout{}, wrap("record login failure", err)
	}
	return domain.FailureLockout(count, now, threshold, window), nil
}

func (r *accountsRepo) ClearLockout(ctx context.Context, id string) error {
	return r.update(ctx, "clear lockout", id,
		`failed_logins = 0, last_failed_login_at = NULL, locked_until = NULL`)
}

func (r *accountsRepo) UpdateMFASecret(ctx context.Context, id, secret string) error {
	return r.update(ctx, "update mfa secret", id, `mfa_secret = $1, mfa_enabled_at = NULL`, secret)
}

func (r *accountsRepo) EnableMFA(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "enable mfa", id, `mfa_enabled_at = $1`, at)
}

func (r *accountsRepo) DisableMFA(ctx context.Context, id string) error {
	return r.update(ctx, "disable mfa", id, `mfa_secret = NULL, mfa_enabled_at = NULL`)
}

func (r *accountsRepo) SoftDeleteAccount(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, "soft delete account", id, `deleted_at = $1`, at)
}
