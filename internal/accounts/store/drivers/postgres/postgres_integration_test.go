//go:build integration

package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/postgres"
	"github.com/aussiebroadwan/accounts/pkg/idx"
)

func setupPostgresContainer(ctx context.Context) (*postgres.Store, func(), error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("accounts_test"),
		tcpostgres.WithUsername("accounts"),
		tcpostgres.WithPassword("accounts"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	s, err := postgres.NewStore(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}
	if err := s.ApplyMigrations(ctx); err != nil {
		_ = s.Close()
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		_ = s.Close()
		_ = container.Terminate(ctx)
	}
	return s, cleanup, nil
}

func fixtureAccount(email, username string) domain.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$stub",
		Role:         domain.RoleMember,
		Status:       domain.StatusPendingVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

var _ = Describe("Postgres store", Ordered, func() {
	var (
		ctx     context.Context
		s       *postgres.Store
		cleanup func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		s, cleanup, err = setupPostgresContainer(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	It("re-applies migrations without error", func() {
		Expect(s.ApplyMigrations(ctx)).To(Succeed())
	})

	Describe("accounts", func() {
		It("enforces identifier uniqueness among live accounts", func() {
			first := fixtureAccount("Pat@Example.com", "pat")
			Expect(s.Accounts().CreateAccount(ctx, first)).To(Succeed())

			err := s.Accounts().CreateAccount(ctx, fixtureAccount("pat@example.com", "other"))
			Expect(err).To(MatchError(store.ErrAlreadyExists))

			err = s.Accounts().CreateAccount(ctx, fixtureAccount("x@example.com", "PAT"))
			Expect(err).To(MatchError(store.ErrAlreadyExists))

			got, err := s.Accounts().GetAccountByEmail(ctx, "PAT@example.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(first.ID))

			Expect(s.Accounts().SoftDeleteAccount(ctx, first.ID, time.Now())).To(Succeed())
			Expect(s.Accounts().CreateAccount(ctx, fixtureAccount("pat@example.com", "pat"))).To(Succeed())
		})

		It("promotes pending accounts on verification", func() {
			a := fixtureAccount("verify@example.com", "")
			Expect(s.Accounts().CreateAccount(ctx, a)).To(Succeed())
			Expect(s.Accounts().MarkEmailVerified(ctx, a.ID)).To(Succeed())

			got, err := s.Accounts().GetAccountByID(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EmailVerified).To(BeTrue())
			Expect(got.Status).To(Equal(domain.StatusActive))
			Expect(got.Username).To(BeEmpty())
		})
	})

	Describe("sessions", func() {
		It("rotates only from the current fingerprint", func() {
			a := fixtureAccount("rot@example.com", "rot")
			Expect(s.Accounts().CreateAccount(ctx, a)).To(Succeed())

			now := time.Now().UTC()
			sess := domain.Session{
				ID: idx.New().String(), AccountID: a.ID, RefreshHash: "h1",
				CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(time.Hour),
			}
			Expect(s.Sessions().CreateSession(ctx, sess)).To(Succeed())

			Expect(s.Sessions().RotateSession(ctx, sess.ID, "h1", "h2", now.Add(time.Hour), now)).To(Succeed())
			Expect(s.Sessions().RotateSession(ctx, sess.ID, "h1", "h3", now.Add(time.Hour), now)).
				To(MatchError(store.ErrNotFound))

			n, err := s.Sessions().RevokeAccountSessions(ctx, a.ID, "", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			active, err := s.Sessions().ListActiveSessions(ctx, a.ID, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})
	})

	Describe("backup codes", func() {
		It("replaces and consumes codes in a transaction", func() {
			a := fixtureAccount("codes@example.com", "codes")
			Expect(s.Accounts().CreateAccount(ctx, a)).To(Succeed())

			Expect(s.WithTx(ctx, func(tx store.Tx) error {
				return tx.BackupCodes().ReplaceBackupCodes(ctx, a.ID, []string{"a", "b"})
			})).To(Succeed())

			Expect(s.BackupCodes().ConsumeBackupCode(ctx, a.ID, "a")).To(Succeed())
			Expect(s.BackupCodes().ConsumeBackupCode(ctx, a.ID, "a")).To(MatchError(store.ErrNotFound))

			n, err := s.BackupCodes().CountBackupCodes(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})
})
