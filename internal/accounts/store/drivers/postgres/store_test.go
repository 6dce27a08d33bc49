package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/postgres"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

var accountCols = []string{
	"id", "email", "username", "display_name", "password_hash", "role", "status",
	"email_verified", "failed_logins", "last_failed_login_at", "locked_until",
	"mfa_enabled_at", "mfa_secret", "created_at", "updated_at", "deleted_at",
}

func newMockStore(t *testing.T) (*postgres.Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return postgres.NewStoreFromPool(mock, ""), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAccounts_GetAccountByID(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		wantUser  string
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				username := "ada"
				rows := pgxmock.NewRows(accountCols).AddRow(
					"acct-1", "ada@example.com", &username, "Ada", "hash", "admin", "active",
					true, 0, (*time.Time)(nil), (*time.Time)(nil),
					(*time.Time)(nil), (*string)(nil), now, now, (*time.Time)(nil),
				)
				mock.ExpectQuery(`FROM accounts WHERE id = `).WithArgs("acct-1").WillReturnRows(rows)
			},
			wantUser: "ada",
		},
		{
			name: "missing",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM accounts WHERE id = `).WithArgs("acct-1").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: store.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setupMock(mock)

			got, err := s.Accounts().GetAccountByID(context.Background(), "acct-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.wantUser, got.Username)
				require.Equal(t, domain.RoleAdmin, got.Role)
				require.True(t, got.EmailVerified)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccounts_CreateMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(anyArgs(16)...).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

	err := s.Accounts().CreateAccount(context.Background(), domain.Account{ID: "a", Email: "a@example.com"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_OtherErrorsKeepCause(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	boom := errors.New("connection refused")
	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(boom)

	_, err := s.Accounts().CountAccounts(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_UpdateNumbersPlaceholders(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE accounts SET role = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("moderator", pgxmock.AnyArg(), "acct-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE accounts SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("suspended", pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.Accounts().SetRole(context.Background(), "acct-1", domain.RoleModerator))
	require.ErrorIs(t, s.Accounts().SetStatus(context.Background(), "gone", domain.StatusSuspended), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_RecordLoginFailure(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	window := 15 * time.Minute
	tests := []struct {
		name       string
		count      int
		noRows     bool
		wantLocked bool
		wantErr    error
	}{
		{name: "below threshold", count: 4},
		{name: "reaches threshold", count: 5, wantLocked: true},
		{name: "unknown account", noRows: true, wantErr: store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, mock := newMockStore(t)
			exp := mock.ExpectQuery(`UPDATE accounts SET\s+failed_logins = CASE`).
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 5, pgxmock.AnyArg(), pgxmock.AnyArg(), "acct-1")
			if tt.noRows {
				exp.WillReturnError(pgx.ErrNoRows)
			} else {
				exp.WillReturnRows(pgxmock.NewRows([]string{"failed_logins"}).AddRow(tt.count))
			}

			l, err := s.Accounts().RecordLoginFailure(context.Background(), "acct-1", now, 5, window)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.NoError(t, mock.ExpectationsWereMet())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.count, l.FailedLogins)
			require.Equal(t, now, *l.LastFailedLoginAt)
			if tt.wantLocked {
				require.Equal(t, now.Add(window), *l.LockedUntil)
			} else {
				require.Nil(t, l.LockedUntil)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSessions_RotateNoMatchIsNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE sessions SET refresh_hash`).
		WithArgs("new", pgxmock.AnyArg(), pgxmock.AnyArg(), "sess-1", "old").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	now := time.Now()
	err := s.Sessions().RotateSession(context.Background(), "sess-1", "old", "new", now.Add(time.Hour), now)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessions_ListActive(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "account_id", "refresh_hash", "user_agent", "ip",
		"created_at", "updated_at", "expires_at", "revoked_at",
	}).
		AddRow("s2", "acct", "h2", "ua", "ip", now, now, now.Add(time.Hour), (*time.Time)(nil)).
		AddRow("s1", "acct", "h1", "ua", "ip", now, now, now.Add(time.Hour), (*time.Time)(nil))
	mock.ExpectQuery(`FROM sessions`).WithArgs("acct", pgxmock.AnyArg()).WillReturnRows(rows)

	got, err := s.Sessions().ListActiveSessions(context.Background(), "acct", now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "s2", got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	t.Run("commits on success", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE action_tokens SET used_at`).
			WithArgs(pgxmock.AnyArg(), "tok").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.ActionTokens().ConsumeActionToken(context.Background(), "tok", time.Now())
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE action_tokens SET used_at`).
			WithArgs(pgxmock.AnyArg(), "tok").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(tx store.Tx) error {
			return tx.ActionTokens().ConsumeActionToken(context.Background(), "tok", time.Now())
		})
		require.ErrorIs(t, err, store.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLockBootstrapTakesAdvisoryLock(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(\$1\)`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		if err := tx.LockBootstrap(context.Background()); err != nil {
			return err
		}
		n, err := tx.Accounts().CountAccounts(context.Background())
		require.Zero(t, n)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsNeedsDSN(t *testing.T) {
	t.Parallel()

	s, _ := newMockStore(t)
	require.Error(t, s.ApplyMigrations(context.Background()))
}
