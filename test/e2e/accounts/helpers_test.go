package accounts_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/app"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

/*
 * Common constants and helpers for accounts service end-to-end tests. Each
 * test boots the full application in-process on a fresh SQLite file and
 * drives it through the SDK.
 */

const (
	bootstrapToken = "test-bootstrap-token-12345"
	jwtSecret      = "e2e-secret-0123456789abcdef-0123456789"

	adminEmail    = "admin@example.com"
	adminUsername = "admin"
	adminPassword = "Admin123!Admin123!"
)

// relaxedRateLimits keeps the strict production limits out of the way of
// tests that make many rapid requests.
var relaxedRateLimits = map[string]string{
	"RATELIMIT_STRICT_REQUESTS":   "1000",
	"RATELIMIT_STRICT_WINDOW_SEC": "60",
	"RATELIMIT_STRICT_BURST":      "1000",
	"RATELIMIT_MODERATE_REQUESTS": "1000",
	"RATELIMIT_MODERATE_BURST":    "1000",
}

// setupAccountsServer starts the service and returns its base URL.
func setupAccountsServer(t *testing.T) string {
	t.Helper()
	for k, v := range relaxedRateLimits {
		t.Setenv(k, v)
	}
	return startServer(t)
}

// setupAccountsServerWithDefaultRateLimits uses production rate limits.
// Only the rate limit test should need it.
func setupAccountsServerWithDefaultRateLimits(t *testing.T) string {
	t.Helper()
	for k := range relaxedRateLimits {
		t.Setenv(k, "")
	}
	return startServer(t)
}

func startServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg, err := app.LoadConfig(nil)
	require.NoError(t, err)
	cfg.JWTSecret = jwtSecret
	cfg.BootstrapToken = bootstrapToken
	cfg.PepperFile = filepath.Join(dir, "pepper")
	cfg.Database = app.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "accounts.db")}
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.ShutdownGracePeriod = 2 * time.Second
	require.NoError(t, cfg.Validate())

	application, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	application.Start()

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := application.Shutdown(); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return srv.URL
}

// bootstrapAdmin creates the first admin and returns it with tokens.
func bootstrapAdmin(t *testing.T, client *accountsdk.Client) *accountsdk.AccountWithToken {
	t.Helper()

	admin, err := client.Bootstrap(t.Context(), bootstrapToken, accountsdk.BootstrapRequest{
		Email:       adminEmail,
		Username:    adminUsername,
		DisplayName: "Administrator",
		Password:    adminPassword,
	})
	require.NoError(t, err, "Bootstrap should succeed")
	require.Equal(t, "admin", admin.Role)
	return admin
}

// joinMember registers a member and returns a session for it.
func joinMember(t *testing.T, client *accountsdk.Client, username, password string) (*accountsdk.AccountWithToken, *accountsdk.Session) {
	t.Helper()

	awt, err := client.Join(t.Context(), accountsdk.JoinRequest{
		Email:       username + "@example.com",
		Username:    username,
		DisplayName: username,
		Password:    password,
	})
	require.NoError(t, err, "Join should succeed")
	assertTokenPair(t, awt.Token)
	return awt, client.NewSession(awt)
}

// enrollMFA enables TOTP for the session's account and returns the secret
// and backup codes.
func enrollMFA(t *testing.T, session *accountsdk.Session) (string, []string) {
	t.Helper()

	enrollment, err := session.EnrollMFA(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.True(t, strings.HasPrefix(enrollment.OTPAuthURL, "otpauth://totp/"))

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	backupCodes, err := session.ConfirmMFA(t.Context(), code)
	require.NoError(t, err)
	require.Len(t, backupCodes, 10)
	return enrollment.Secret, backupCodes
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	return code
}

// assertTokenPair verifies a token pair has all required fields.
func assertTokenPair(t *testing.T, tok accountsdk.Token) {
	t.Helper()
	require.NotEmpty(t, tok.Access, "Access token should not be empty")
	require.NotEmpty(t, tok.Refresh, "Refresh token should not be empty")
	require.True(t, tok.ExpiredAt.After(time.Now()), "Access token should not be expired")
	require.True(t, tok.RefreshableUntil.After(tok.ExpiredAt), "Refresh token should outlive the access token")
}

// assertAPIError checks the status and stable error code of err.
func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, status, accountsdk.StatusCode(err), "unexpected status for %v", err)
	require.True(t, accountsdk.HasCode(err, code), "expected %s, got %v", code, err)
}
