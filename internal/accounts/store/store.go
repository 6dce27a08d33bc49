package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. Sub-repositories are reached through it so that a Tx can
// hand out the same repositories bound to the transaction.
type Store interface {
	Accounts() Accounts
	Sessions() Sessions
	ActionTokens() ActionTokens
	BackupCodes() BackupCodes

	ApplyMigrations(ctx context.Context) error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. Nested transactions are not supported.
type Tx interface {
	Store
	Commit() error
	Rollback() error

	// LockBootstrap blocks until no other transaction holds the bootstrap
	// lock and keeps it until this transaction ends.
	LockBootstrap(ctx context.Context) error
}

// Accounts lookups exclude soft-deleted rows unless stated otherwise.
type Accounts interface {
	// CreateAccount inserts a new account. Returns ErrAlreadyExists when the
	// email or username collides with a non-deleted account.
	CreateAccount(ctx context.Context, a domain.Account) error

	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail matches the lowercased email.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// GetAccountByUsername matches case-insensitively.
	GetAccountByUsername(ctx context.Context, username string) (domain.Account, error)

	// CountAccounts counts non-deleted accounts.
	CountAccounts(ctx context.Context) (int, error)

	UpdateDisplayName(ctx context.Context, id, displayName string) error

	// UpdatePasswordHash also clears any lockout state.
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// MarkEmailVerified sets email_verified and promotes a pending account to active.
	MarkEmailVerified(ctx context.Context, id string) error

	SetStatus(ctx context.Context, id string, status domain.Status) error
	SetRole(ctx context.Context, id string, role domain.Role) error

	// RecordLoginFailure counts one failed login at now in a single
	// statement. The count restarts when the previous failure is older than
	// window; reaching threshold sets locked_until to now+window.
	RecordLoginFailure(ctx context.Context, id string, now time.Time, threshold int, window time.Duration) (domain.Lockout, error)

	// ClearLockout zeroes the failure counters.
	ClearLockout(ctx context.Context, id string) error

	// UpdateMFASecret stores a pending (not yet enabled) TOTP secret.
	UpdateMFASecret(ctx context.Context, id, secret string) error

	// EnableMFA stamps mfa_enabled_at.
	EnableMFA(ctx context.Context, id string, at time.Time) error

	// DisableMFA clears both the secret and mfa_enabled_at.
	DisableMFA(ctx context.Context, id string) error

	// SoftDeleteAccount sets deleted_at. ErrNotFound if already deleted.
	SoftDeleteAccount(ctx context.Context, id string, at time.Time) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSession returns the session regardless of revocation or expiry.
	GetSession(ctx context.Context, id string) (domain.Session, error)

	// ListActiveSessions returns unrevoked, unexpired sessions, newest first.
	ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]domain.Session, error)

	// RotateSession swaps the refresh fingerprint from oldHash to newHash
	// only while the session is unrevoked and unexpired. ErrNotFound when
	// nothing matched, which callers treat as replay.
	RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error

	// RevokeSession stamps revoked_at. ErrNotFound if missing or already revoked.
	RevokeSession(ctx context.Context, id string, at time.Time) error

	// RevokeAccountSessions revokes every open session of the account, except
	// keepID when non-empty. Returns the number revoked.
	RevokeAccountSessions(ctx context.Context, accountID, keepID string, at time.Time) (int, error)

	// DeleteExpiredSessions removes sessions expired or revoked before cutoff.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error)
}

type ActionTokens interface {
	CreateActionToken(ctx context.Context, t domain.ActionToken) error

	// GetActiveActionToken returns an unused, unexpired token by fingerprint.
	GetActiveActionToken(ctx context.Context, purpose domain.ActionPurpose, hash string, now time.Time) (domain.ActionToken, error)

	// ConsumeActionToken marks the token used. ErrNotFound if it was already
	// used, so two concurrent redemptions cannot both succeed.
	ConsumeActionToken(ctx context.Context, id string, at time.Time) error

	// InvalidateActionTokens marks every open token of a purpose for the account used.
	InvalidateActionTokens(ctx context.Context, accountID string, purpose domain.ActionPurpose, at time.Time) error

	// DeleteStaleActionTokens removes tokens that expired or were used before cutoff.
	DeleteStaleActionTokens(ctx context.Context, cutoff time.Time) (int, error)
}

type BackupCodes interface {
	// ReplaceBackupCodes deletes existing codes and stores the new fingerprints.
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error

	// ConsumeBackupCode deletes a matching code. ErrNotFound if none matched.
	ConsumeBackupCode(ctx context.Context, accountID, hash string) error

	CountBackupCodes(ctx context.Context, accountID string) (int, error)

	DeleteBackupCodes(ctx context.Context, accountID string) error
}
