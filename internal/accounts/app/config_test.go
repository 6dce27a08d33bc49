package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	require.Equal(t, "accounts", cfg.Issuer)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	require.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	require.True(t, cfg.RequireEmailVerification)
	require.Equal(t, 5, cfg.LockoutThreshold)
	require.True(t, cfg.Roles["admin"].RequireMFA)

	policy := cfg.Policy()
	require.Equal(t, service.SessionPersistent, policy.SessionMode)
	require.True(t, policy.RequiresMFA(domain.RoleAdmin))
	require.False(t, policy.RequiresMFA(domain.RoleMember))
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
issuer: from-file
port: 9000
log_level: debug
access_token_ttl: 10m
roles:
  moderator:
    require_mfa: true
    access_token_ttl: 5m
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("ACCOUNTS_JWT_SECRET", testSecret)
	t.Setenv("REQUIRE_EMAIL_VERIFICATION", "false")
	t.Setenv("LOCKOUT_WINDOW", "30m")

	cfg, err := LoadConfig(newFlags(t, "--config", path, "--port", "9200", "--session-mode", "stateless"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "from-file", cfg.Issuer)   // file over default
	require.Equal(t, "debug", cfg.LogLevel)     // file, untouched by unset flag
	require.Equal(t, 9200, cfg.Port)            // flag over env over file
	require.Equal(t, testSecret, cfg.JWTSecret) // env
	require.False(t, cfg.RequireEmailVerification)
	require.Equal(t, 30*time.Minute, cfg.LockoutWindow)
	require.Equal(t, 10*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, "stateless", cfg.SessionMode)

	policy := cfg.Policy()
	require.Equal(t, service.SessionStateless, policy.SessionMode)
	require.True(t, policy.RequiresMFA(domain.RoleModerator))
	require.True(t, policy.RequiresMFA(domain.RoleAdmin))
	require.Equal(t, 5*time.Minute, policy.AccessTTL(domain.RoleModerator))
	require.Equal(t, 10*time.Minute, policy.AccessTTL(domain.RoleMember))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg, err := LoadConfig(nil)
		require.NoError(t, err)
		cfg.JWTSecret = testSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "jwt_secret"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "unknown database driver"},
		{"unknown session mode", func(c *Config) { c.SessionMode = "sticky" }, "unknown session mode"},
		{"zero ttl", func(c *Config) { c.AccessTokenTTL = 0 }, "access_token_ttl must be positive"},
		{"refresh shorter than access", func(c *Config) { c.RefreshTokenTTL = time.Minute }, "refresh_token_ttl must exceed"},
		{"unknown role", func(c *Config) { c.Roles["owner"] = RoleConfig{RequireMFA: true} }, `unknown role "owner"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWriteYAMLRedactsSecrets(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	cfg.JWTSecret = testSecret
	cfg.BootstrapToken = "bootstrap-me"
	cfg.Database = DatabaseConfig{Driver: "postgres", DSN: "postgres://accounts:hunter2@db:5432/accounts"}

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	out := buf.String()

	require.NotContains(t, out, testSecret)
	require.NotContains(t, out, "bootstrap-me")
	require.NotContains(t, out, "hunter2")
	require.Contains(t, out, "accounts:<redacted>@db:5432/accounts")
	require.Contains(t, out, "access_token_ttl: 30m0s")
}
