package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

type inbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (b *inbox) Enqueue(msg notify.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return true
}

func (b *inbox) token(t *testing.T, kind notify.Kind, to string) string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].Kind == kind && b.msgs[i].To == to {
			return b.msgs[i].Token
		}
	}
	t.Fatalf("no %s message for %s", kind, to)
	return ""
}

type testServer struct {
	client *accountsdk.Client
	url    string
	inbox  *inbox
}

func newTestServer(t *testing.T, opts ...func(*service.Deps)) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, httpx.RateLimitProfiles{
		Strict:   httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 1000},
		Moderate: httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 1000},
	}, opts...)
}

func newTestServerWithLimits(t *testing.T, limits httpx.RateLimitProfiles, opts ...func(*service.Deps)) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations(context.Background()))

	issuer, err := jwtx.NewIssuer(jwtx.Options{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "accounts-test",
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	box := &inbox{}
	deps := service.Deps{
		Store:    st,
		Hasher:   cryptox.NewHasher("pepper", cryptox.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, KeyLength: 16, SaltLength: 8}),
		Tokens:   issuer,
		Policy:   service.DefaultPolicy(),
		Notifier: box,
		Metrics:  metrics.NewCollector(reg),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	m := service.NewManager(deps)

	router := NewRouter(m, st, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		BuildVersion: "test",
		Metrics:      deps.Metrics,
		Gatherer:     reg,
		RateLimits:   &limits,
	})
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{client: accountsdk.NewClient(srv.URL), url: srv.URL, inbox: box}
}

func (s *testServer) join(t *testing.T, email, username string) *accountsdk.AccountWithToken {
	t.Helper()
	awt, err := s.client.Join(context.Background(), accountsdk.JoinRequest{
		Email:       email,
		Username:    username,
		DisplayName: username,
		Password:    testPassword,
	})
	require.NoError(t, err)
	return awt
}

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *accountsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	require.Equal(t, status, apiErr.StatusCode)
	require.Equal(t, code, apiErr.Code)
}

func TestJoinAndProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)

	awt := s.join(t, "Alice@Example.com", "alice")
	require.Equal(t, "alice@example.com", awt.Email)
	require.Equal(t, string(domain.StatusPendingVerification), awt.Status)
	require.NotEmpty(t, awt.Token.Access)
	require.NotEmpty(t, awt.Token.Refresh)
	require.True(t, awt.Token.RefreshableUntil.After(awt.Token.ExpiredAt))

	session := s.client.NewSession(awt)

	me, err := session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, awt.ID, me.ID)

	updated, err := session.UpdateProfile(ctx, awt.ID, "Alice L.")
	require.NoError(t, err)
	require.Equal(t, "Alice L.", updated.DisplayName)

	list, err := session.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	require.True(t, list.Sessions[0].Current)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := s.client.Join(ctx, accountsdk.JoinRequest{Email: "alice@example.com", Password: testPassword})
		requireCode(t, err, http.StatusConflict, accountsdk.ErrorCodeConflict)
	})

	t.Run("validation details", func(t *testing.T) {
		_, err := s.client.Join(ctx, accountsdk.JoinRequest{Email: "not-an-email", Password: testPassword})
		requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest)
		var apiErr *accountsdk.APIError
		require.True(t, errors.As(err, &apiErr))
		require.Contains(t, apiErr.Details, "email")
	})

	t.Run("other account is forbidden", func(t *testing.T) {
		bob := s.join(t, "bob@example.com", "bob")
		_, err := session.GetAccount(ctx, bob.ID)
		requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeForbidden)
		_, err = session.UpdateProfile(ctx, bob.ID, "mallory")
		requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeForbidden)
	})
}

func TestLoginRefreshLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)
	s.join(t, "carol@example.com", "carol")

	_, err := s.client.Login(ctx, accountsdk.LoginRequest{Identifier: "carol", Password: "wrong password"})
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials)

	_, err = s.client.Login(ctx, accountsdk.LoginRequest{Identifier: "nobody@example.com", Password: testPassword})
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials)

	awt, err := s.client.Login(ctx, accountsdk.LoginRequest{Identifier: "carol", Password: testPassword})
	require.NoError(t, err)

	rotated, err := s.client.Refresh(ctx, awt.Token.Refresh)
	require.NoError(t, err)
	require.NotEqual(t, awt.Token.Refresh, rotated.Token.Refresh)

	// Replaying the spent token revokes the session behind it
	_, err = s.client.Refresh(ctx, awt.Token.Refresh)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)
	_, err = s.client.Refresh(ctx, rotated.Token.Refresh)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	second, err := s.client.LoginSession(ctx, accountsdk.LoginRequest{Identifier: "carol@example.com", Password: testPassword})
	require.NoError(t, err)
	require.NoError(t, second.Logout(ctx))

	_, err = second.Me(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)
}

func TestMissingBearerToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp, err := http.Get(s.url + "/v1/accounts/me")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)
}

func TestRevokedTokensAreRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServerWithLimits(t, httpx.RateLimitProfiles{
		Strict:   httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 1000},
		Moderate: httpx.RateLimitConfig{RequestsPerWindow: 3, Window: time.Minute, Burst: 3},
	})
	awt := s.join(t, "ada@example.com", "ada")

	send := func(method, path string) *http.Response {
		req, err := http.NewRequest(method, s.url+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+awt.Token.Access)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	require.Less(t, send(http.MethodPost, "/v1/auth/logout").StatusCode, 300)

	// The token still verifies but its session is gone.
	for range 3 {
		require.Equal(t, http.StatusUnauthorized, send(http.MethodGet, "/v1/accounts/me").StatusCode)
	}
	resp := send(http.MethodGet, "/v1/accounts/me")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestEmailVerificationAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)
	s.join(t, "dave@example.com", "dave")

	verified, err := s.client.VerifyEmail(ctx, s.inbox.token(t, notify.KindVerifyEmail, "dave@example.com"))
	require.NoError(t, err)
	require.True(t, verified.EmailVerified)
	require.Equal(t, string(domain.StatusActive), verified.Status)

	_, err = s.client.VerifyEmail(ctx, "bogus")
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest)

	require.NoError(t, s.client.ForgotPassword(ctx, "unknown@example.com"))
	require.NoError(t, s.client.ForgotPassword(ctx, "dave@example.com"))

	reset := s.inbox.token(t, notify.KindPasswordReset, "dave@example.com")
	require.NoError(t, s.client.ResetPassword(ctx, reset, "a brand new password"))

	err = s.client.ResetPassword(ctx, reset, "another new password")
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest)

	_, err = s.client.Login(ctx, accountsdk.LoginRequest{Identifier: "dave", Password: "a brand new password"})
	require.NoError(t, err)
}

func TestBootstrapAndModeration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t, func(d *service.Deps) {
		d.BootstrapToken = "setup-token"
		d.Policy.Roles = nil
	})

	req := accountsdk.BootstrapRequest{Email: "root@example.com", Username: "root", Password: testPassword}

	_, err := s.client.Bootstrap(ctx, "wrong", req)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeUnauthorized)

	admin, err := s.client.Bootstrap(ctx, "setup-token", req)
	require.NoError(t, err)
	require.Equal(t, string(domain.RoleAdmin), admin.Role)

	_, err = s.client.Bootstrap(ctx, "setup-token", req)
	requireCode(t, err, http.StatusNotFound, accountsdk.ErrorCodeNotFound)

	member := s.join(t, "erin@example.com", "erin")
	adminSession := s.client.NewSession(admin)
	memberSession := s.client.NewSession(member)

	_, err = memberSession.Suspend(ctx, admin.ID)
	requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeForbidden)

	read, err := adminSession.GetAccount(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, member.ID, read.ID)

	suspended, err := adminSession.Suspend(ctx, member.ID)
	require.NoError(t, err)
	require.Equal(t, string(domain.StatusSuspended), suspended.Status)

	_, err = s.client.Login(ctx, accountsdk.LoginRequest{Identifier: "erin", Password: testPassword})
	requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeAccountSuspended)

	_, err = adminSession.Reinstate(ctx, member.ID)
	require.NoError(t, err)

	promoted, err := adminSession.SetRole(ctx, member.ID, "moderator")
	require.NoError(t, err)
	require.Equal(t, string(domain.RoleModerator), promoted.Role)

	_, err = adminSession.SetRole(ctx, member.ID, "overlord")
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest)
}

func TestSecondFactorRequiredForAdmin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t, func(d *service.Deps) { d.BootstrapToken = "setup-token" })

	admin, err := s.client.Bootstrap(ctx, "setup-token", accountsdk.BootstrapRequest{
		Email: "root@example.com", Password: testPassword,
	})
	require.NoError(t, err)
	member := s.join(t, "frank@example.com", "frank")

	_, err = s.client.NewSession(admin).Suspend(ctx, member.ID)
	requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeSecondFactorRequired)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestServer(t)

	live, err := s.client.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	ready, err := s.client.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Checks.Database)

	resp, err := http.Get(s.url + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `accounts_http_status_total{status_code="200"}`)
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials},
		{"mfa", service.ErrMFARequired, http.StatusUnauthorized, accountsdk.ErrorCodeMFARequired},
		{"token", service.ErrUnauthorized, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken},
		{"suspended", service.ErrAccountSuspended, http.StatusForbidden, accountsdk.ErrorCodeAccountSuspended},
		{"second factor", service.ErrSecondFactor, http.StatusForbidden, accountsdk.ErrorCodeSecondFactorRequired},
		{"conflict", service.ErrEmailTaken, http.StatusConflict, accountsdk.ErrorCodeConflict},
		{"not found", service.ErrSessionNotFound, http.StatusNotFound, accountsdk.ErrorCodeNotFound},
		{"validation", service.ErrInvalidOTP, http.StatusBadRequest, accountsdk.ErrorCodeInvalidRequest},
		{"internal", oops.Code("BOOM").Errorf("database on fire"), http.StatusInternalServerError, accountsdk.ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			apiErr := toAPIError(tt.err)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.code, apiErr.Code)
			require.False(t, strings.Contains(apiErr.Description, "fire"))
		})
	}
}
