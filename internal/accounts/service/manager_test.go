package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testPassword = "correct horse battery"

// testParams keeps argon2 cheap in tests.
var testParams = cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recordingNotifier) Enqueue(msg notify.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return true
}

// last returns the most recent message of kind, failing the test if none.
func (r *recordingNotifier) last(t *testing.T, kind notify.Kind) notify.Message {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Kind == kind {
			return r.msgs[i]
		}
	}
	t.Fatalf("no %s message queued", kind)
	return notify.Message{}
}

func (r *recordingNotifier) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	m      *Manager
	store  *sqlite.Store
	clock  *testClock
	notes  *recordingNotifier
	hasher *cryptox.Hasher
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations(context.Background()))

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	issuer, err := jwtx.NewIssuer(jwtx.Options{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "accounts-test",
		Now:    clock.Now,
	})
	require.NoError(t, err)

	f := &fixture{
		store:  s,
		clock:  clock,
		notes:  &recordingNotifier{},
		hasher: cryptox.NewHasher("pepper", testParams),
	}
	d := Deps{
		Store:    s,
		Hasher:   f.hasher,
		Tokens:   issuer,
		Policy:   DefaultPolicy(),
		Notifier: f.notes,
		Now:      clock.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	f.m = NewManager(d)
	return f
}

func withPolicy(fn func(*Policy)) func(*Deps) {
	return func(d *Deps) { fn(&d.Policy) }
}

func (f *fixture) join(t *testing.T, email, username string) AccountWithToken {
	t.Helper()
	out, err := f.m.Join(context.Background(), JoinInput{
		Email:       email,
		Username:    username,
		DisplayName: username,
		Password:    testPassword,
	}, ClientInfo{UserAgent: "test", IP: "127.0.0.1"})
	require.NoError(t, err)
	return out
}

func (f *fixture) login(t *testing.T, identifier string) AccountWithToken {
	t.Helper()
	out, err := f.m.Login(context.Background(), LoginInput{Identifier: identifier, Password: testPassword}, ClientInfo{})
	require.NoError(t, err)
	return out
}

func (f *fixture) principal(t *testing.T, access string) Principal {
	t.Helper()
	p, err := f.m.Guard().ResolvePrincipal(context.Background(), access)
	require.NoError(t, err)
	return p
}

// bootstrapAdmin creates the first account as an admin whose principal
// carries a second factor.
func (f *fixture) bootstrapAdmin(t *testing.T) Principal {
	t.Helper()
	f.m.bootstrapToken = "boot"
	out, err := f.m.Bootstrap(context.Background(), "boot", JoinInput{
		Email:    "root@example.com",
		Username: "root",
		Password: testPassword,
	}, ClientInfo{})
	require.NoError(t, err)

	p := f.principal(t, out.Token.Access)
	p.AMR = append(p.AMR, jwtx.AMROTP)
	return p
}

func (f *fixture) account(t *testing.T, id string) domain.Account {
	t.Helper()
	a, err := f.store.Accounts().GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Kind
	}{
		{ErrInvalidCredentials, KindUnauthorized},
		{ErrAccountSuspended, KindForbidden},
		{ErrEmailTaken, KindConflict},
		{ErrSessionNotFound, KindNotFound},
		{validationError("email", "bad"), KindValidation},
		{internalErr("X", context.Canceled), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}

	require.ErrorIs(t, internalErr("X", context.Canceled, "k", "v"), context.Canceled)
}
