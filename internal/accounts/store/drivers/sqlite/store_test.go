package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations(context.Background()))
	return s
}

func newAccount(email, username string) domain.Account {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		Username:     username,
		DisplayName:  "Test " + username,
		PasswordHash: "$argon2id$stub",
		Role:         domain.RoleMember,
		Status:       domain.StatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.ApplyMigrations(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestAccounts_CreateAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("ada@example.com", "Ada")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	byID, err := s.Accounts().GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, a.Email, byID.Email)
	require.Equal(t, "Ada", byID.Username)
	require.Equal(t, domain.RoleMember, byID.Role)
	require.Equal(t, domain.StatusPendingVerification, byID.Status)
	require.False(t, byID.EmailVerified)
	require.Nil(t, byID.DeletedAt)
	require.True(t, a.CreatedAt.Equal(byID.CreatedAt))

	byEmail, err := s.Accounts().GetAccountByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, a.ID, byEmail.ID)

	byName, err := s.Accounts().GetAccountByUsername(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, a.ID, byName.ID)

	_, err = s.Accounts().GetAccountByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.Accounts().CountAccounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAccounts_UniqueAmongLiveAccounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	first := newAccount("dup@example.com", "dup")
	require.NoError(t, s.Accounts().CreateAccount(ctx, first))

	err := s.Accounts().CreateAccount(ctx, newAccount("dup@example.com", "other"))
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	err = s.Accounts().CreateAccount(ctx, newAccount("other@example.com", "DUP"))
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// Accounts without a username never collide on it.
	require.NoError(t, s.Accounts().CreateAccount(ctx, newAccount("a@example.com", "")))
	require.NoError(t, s.Accounts().CreateAccount(ctx, newAccount("b@example.com", "")))

	require.NoError(t, s.Accounts().SoftDeleteAccount(ctx, first.ID, time.Now()))
	require.ErrorIs(t, s.Accounts().SoftDeleteAccount(ctx, first.ID, time.Now()), store.ErrNotFound)

	_, err = s.Accounts().GetAccountByID(ctx, first.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	// A closed account frees its identifiers.
	require.NoError(t, s.Accounts().CreateAccount(ctx, newAccount("dup@example.com", "dup")))
}

func TestAccounts_Updates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	repo := s.Accounts()

	a := newAccount("upd@example.com", "upd")
	require.NoError(t, repo.CreateAccount(ctx, a))

	require.NoError(t, repo.MarkEmailVerified(ctx, a.ID))
	got, err := repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.Equal(t, domain.StatusActive, got.Status)

	require.NoError(t, repo.SetStatus(ctx, a.ID, domain.StatusSuspended))
	require.NoError(t, repo.MarkEmailVerified(ctx, a.ID))
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuspended, got.Status, "verification must not lift a suspension")

	require.NoError(t, repo.SetRole(ctx, a.ID, domain.RoleModerator))
	require.NoError(t, repo.UpdateDisplayName(ctx, a.ID, "Renamed"))

	now := time.Now().UTC()
	for range 5 {
		_, err = repo.RecordLoginFailure(ctx, a.ID, now, 5, time.Minute)
		require.NoError(t, err)
	}
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoleModerator, got.Role)
	require.Equal(t, "Renamed", got.DisplayName)
	require.Equal(t, 5, got.FailedLogins)
	require.True(t, got.IsLocked(now))

	require.NoError(t, repo.UpdatePasswordHash(ctx, a.ID, "$argon2id$new"))
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "$argon2id$new", got.PasswordHash)
	require.Zero(t, got.FailedLogins)
	require.Nil(t, got.LockedUntil)

	require.NoError(t, repo.UpdateMFASecret(ctx, a.ID, "JBSWY3DPEHPK3PXP"))
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled())

	require.NoError(t, repo.EnableMFA(ctx, a.ID, now))
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled())

	require.NoError(t, repo.DisableMFA(ctx, a.ID))
	got, err = repo.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.MFAEnabled())
	require.Nil(t, got.MFASecret)

	require.ErrorIs(t, repo.SetRole(ctx, "missing", domain.RoleAdmin), store.ErrNotFound)
}

func TestAccounts_RecordLoginFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	window := 15 * time.Minute
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("counts inside the window and locks at threshold", func(t *testing.T) {
		t.Parallel()
		repo := newTestStore(t).Accounts()
		a := newAccount("ada@example.com", "ada")
		require.NoError(t, repo.CreateAccount(ctx, a))

		for i := 1; i < 3; i++ {
			l, err := repo.RecordLoginFailure(ctx, a.ID, start.Add(time.Duration(i)*time.Minute), 3, window)
			require.NoError(t, err)
			require.Equal(t, i, l.FailedLogins)
			require.Nil(t, l.LockedUntil)
		}

		at := start.Add(3 * time.Minute)
		l, err := repo.RecordLoginFailure(ctx, a.ID, at, 3, window)
		require.NoError(t, err)
		require.Equal(t, 3, l.FailedLogins)
		require.Equal(t, at.Add(window), *l.LockedUntil)

		got, err := repo.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.FailedLogins)
		require.True(t, got.IsLocked(at.Add(time.Minute)))
		require.False(t, got.IsLocked(at.Add(window)))

		require.NoError(t, repo.ClearLockout(ctx, a.ID))
		got, err = repo.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Zero(t, got.FailedLogins)
		require.Nil(t, got.LastFailedLoginAt)
		require.Nil(t, got.LockedUntil)
	})

	t.Run("stale failures restart the count", func(t *testing.T) {
		t.Parallel()
		repo := newTestStore(t).Accounts()
		a := newAccount("grace@example.com", "grace")
		require.NoError(t, repo.CreateAccount(ctx, a))

		for range 2 {
			_, err := repo.RecordLoginFailure(ctx, a.ID, start, 3, window)
			require.NoError(t, err)
		}
		l, err := repo.RecordLoginFailure(ctx, a.ID, start.Add(window+time.Second), 3, window)
		require.NoError(t, err)
		require.Equal(t, 1, l.FailedLogins)
		require.Nil(t, l.LockedUntil)
	})

	t.Run("concurrent failures are all counted", func(t *testing.T) {
		t.Parallel()
		repo := newTestStore(t).Accounts()
		a := newAccount("linus@example.com", "linus")
		require.NoError(t, repo.CreateAccount(ctx, a))

		const attempts = 20
		errs := make(chan error, attempts)
		for range attempts {
			go func() {
				_, err := repo.RecordLoginFailure(ctx, a.ID, start, 5, window)
				errs <- err
			}()
		}
		for range attempts {
			require.NoError(t, <-errs)
		}

		got, err := repo.GetAccountByID(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, attempts, got.FailedLogins)
		require.True(t, got.IsLocked(start))
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		repo := newTestStore(t).Accounts()
		_, err := repo.RecordLoginFailure(ctx, idx.New().String(), start, 3, window)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func newSession(accountID, hash string, now time.Time) domain.Session {
	return domain.Session{
		ID:          idx.New().String(),
		AccountID:   accountID,
		RefreshHash: hash,
		UserAgent:   "test",
		IP:          "127.0.0.1",
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestSessions_Rotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("sess@example.com", "sess")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	now := time.Now().UTC()
	sess := newSession(a.ID, "hash-1", now)
	require.NoError(t, s.Sessions().CreateSession(ctx, sess))

	require.NoError(t, s.Sessions().RotateSession(ctx, sess.ID, "hash-1", "hash-2", now.Add(2*time.Hour), now))

	// Presenting the superseded fingerprint matches nothing.
	err := s.Sessions().RotateSession(ctx, sess.ID, "hash-1", "hash-3", now.Add(2*time.Hour), now)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Sessions().GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "hash-2", got.RefreshHash)
	require.True(t, got.Usable(now))

	require.NoError(t, s.Sessions().RevokeSession(ctx, sess.ID, now))
	require.ErrorIs(t, s.Sessions().RevokeSession(ctx, sess.ID, now), store.ErrNotFound)

	err = s.Sessions().RotateSession(ctx, sess.ID, "hash-2", "hash-3", now.Add(2*time.Hour), now)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_ListAndRevokeAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("many@example.com", "many")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	now := time.Now().UTC()
	keep := newSession(a.ID, "keep", now)
	other := newSession(a.ID, "other", now.Add(time.Second))
	expired := newSession(a.ID, "expired", now.Add(-2*time.Hour))
	for _, sess := range []domain.Session{keep, other, expired} {
		require.NoError(t, s.Sessions().CreateSession(ctx, sess))
	}

	active, err := s.Sessions().ListActiveSessions(ctx, a.ID, now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, other.ID, active[0].ID)

	n, err := s.Sessions().RevokeAccountSessions(ctx, a.ID, keep.ID, now)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	active, err = s.Sessions().ListActiveSessions(ctx, a.ID, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, keep.ID, active[0].ID)

	deleted, err := s.Sessions().DeleteExpiredSessions(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, deleted)
}

func TestActionTokens_SingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("tok@example.com", "tok")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	now := time.Now().UTC()
	tok := domain.ActionToken{
		ID:        idx.New().String(),
		AccountID: a.ID,
		Purpose:   domain.PurposeResetPassword,
		TokenHash: "fp",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, s.ActionTokens().CreateActionToken(ctx, tok))

	_, err := s.ActionTokens().GetActiveActionToken(ctx, domain.PurposeVerifyEmail, "fp", now)
	require.ErrorIs(t, err, store.ErrNotFound, "purpose must match")

	got, err := s.ActionTokens().GetActiveActionToken(ctx, domain.PurposeResetPassword, "fp", now)
	require.NoError(t, err)
	require.Equal(t, tok.ID, got.ID)

	require.NoError(t, s.ActionTokens().ConsumeActionToken(ctx, tok.ID, now))
	require.ErrorIs(t, s.ActionTokens().ConsumeActionToken(ctx, tok.ID, now), store.ErrNotFound)

	_, err = s.ActionTokens().GetActiveActionToken(ctx, domain.PurposeResetPassword, "fp", now)
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.ActionTokens().DeleteStaleActionTokens(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestActionTokens_Invalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("inv@example.com", "inv")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	now := time.Now().UTC()
	for _, fp := range []string{"one", "two"} {
		require.NoError(t, s.ActionTokens().CreateActionToken(ctx, domain.ActionToken{
			ID: idx.New().String(), AccountID: a.ID, Purpose: domain.PurposeVerifyEmail,
			TokenHash: fp, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}))
	}

	require.NoError(t, s.ActionTokens().InvalidateActionTokens(ctx, a.ID, domain.PurposeVerifyEmail, now))

	for _, fp := range []string{"one", "two"} {
		_, err := s.ActionTokens().GetActiveActionToken(ctx, domain.PurposeVerifyEmail, fp, now)
		require.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestBackupCodes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	a := newAccount("codes@example.com", "codes")
	require.NoError(t, s.Accounts().CreateAccount(ctx, a))

	require.NoError(t, s.BackupCodes().ReplaceBackupCodes(ctx, a.ID, []string{"a", "b", "c"}))
	require.NoError(t, s.BackupCodes().ReplaceBackupCodes(ctx, a.ID, []string{"d", "e"}))

	n, err := s.BackupCodes().CountBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.ErrorIs(t, s.BackupCodes().ConsumeBackupCode(ctx, a.ID, "a"), store.ErrNotFound)
	require.NoError(t, s.BackupCodes().ConsumeBackupCode(ctx, a.ID, "d"))
	require.ErrorIs(t, s.BackupCodes().ConsumeBackupCode(ctx, a.ID, "d"), store.ErrNotFound)

	require.NoError(t, s.BackupCodes().DeleteBackupCodes(ctx, a.ID))
	n, err = s.BackupCodes().CountBackupCodes(ctx, a.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	rolledBack := newAccount("rb@example.com", "rb")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Accounts().CreateAccount(ctx, rolledBack))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Accounts().GetAccountByID(ctx, rolledBack.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	committed := newAccount("ok@example.com", "ok")
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		require.ErrorIs(t, tx.WithTx(ctx, func(store.Tx) error { return nil }), sql.ErrTxDone)
		return tx.Accounts().CreateAccount(ctx, committed)
	}))

	_, err = s.Accounts().GetAccountByID(ctx, committed.ID)
	require.NoError(t, err)
}
