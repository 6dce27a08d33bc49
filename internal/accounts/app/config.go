package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

const minSecretLen = 32

type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite or postgres (default: sqlite)
	DSN    string `koanf:"dsn"`    // file path for sqlite, connection URL for postgres
}

type RoleConfig struct {
	RequireMFA     bool          `koanf:"require_mfa"`
	AccessTokenTTL time.Duration `koanf:"access_token_ttl"` // zero uses the global TTL
}

type Config struct {
	Issuer         string         `koanf:"issuer"`          // iss claim and TOTP issuer (default: accounts)
	JWTSecret      string         `koanf:"jwt_secret"`      // Required: HS256 key, at least 32 bytes
	BootstrapToken string         `koanf:"bootstrap_token"` // Optional: enables POST /v1/bootstrap
	PepperFile     string         `koanf:"pepper_file"`     // password pepper, created on first start (default: ./pepper)
	Database       DatabaseConfig `koanf:"database"`

	Env                  string        `koanf:"env"`        // dev, staging, prod (default: dev)
	LogLevel             string        `koanf:"log_level"`  // debug, info, warn, error (default: info)
	LogFormat            string        `koanf:"log_format"` // json, text (default: json)
	Port                 int           `koanf:"port"`       // HTTP server port (default: 8080)
	TrustProxy           bool          `koanf:"trust_proxy"`
	ShutdownGracePeriod  time.Duration `koanf:"shutdown_grace_period"` // default: 10s
	HousekeepingInterval time.Duration `koanf:"housekeeping_interval"` // default: 1h

	SessionMode              string        `koanf:"session_mode"` // persistent, stateless (default: persistent)
	AccessTokenTTL           time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL          time.Duration `koanf:"refresh_token_ttl"`
	RequireEmailVerification bool          `koanf:"require_email_verification"`
	LockoutThreshold         int           `koanf:"lockout_threshold"`
	LockoutWindow            time.Duration `koanf:"lockout_window"`
	VerifyTokenTTL           time.Duration `koanf:"verify_token_ttl"`
	ResetTokenTTL            time.Duration `koanf:"reset_token_ttl"`

	Roles map[string]RoleConfig `koanf:"roles"`

	NotifyWebhookURL string `koanf:"notify_webhook_url"` // Optional: deliver notifications by POST instead of logging
}

// defaults mirror service.DefaultPolicy. Durations are strings so the
// effective config prints the way it is written.
var defaults = map[string]any{
	"issuer":                     "accounts",
	"pepper_file":                "pepper",
	"database.driver":            "sqlite",
	"database.dsn":               "accounts.db",
	"env":                        "dev",
	"log_level":                  "info",
	"log_format":                 "json",
	"port":                       8080,
	"trust_proxy":                false,
	"shutdown_grace_period":      "10s",
	"housekeeping_interval":      "1h",
	"session_mode":               string(service.SessionPersistent),
	"access_token_ttl":           "30m",
	"refresh_token_ttl":          "168h",
	"require_email_verification": true,
	"lockout_threshold":          5,
	"lockout_window":             "15m",
	"verify_token_ttl":           "24h",
	"reset_token_ttl":            "1h",
	"roles.admin.require_mfa":    true,
}

// envKeys maps environment variables onto config keys.
var envKeys = map[string]string{
	"ACCOUNTS_ISSUER":            "issuer",
	"ACCOUNTS_JWT_SECRET":        "jwt_secret",
	"ACCOUNTS_DATABASE_DRIVER":   "database.driver",
	"ACCOUNTS_DATABASE_DSN":      "database.dsn",
	"ACCOUNTS_PEPPER_FILE":       "pepper_file",
	"BOOTSTRAP_TOKEN":            "bootstrap_token",
	"ENV":                        "env",
	"LOG_LEVEL":                  "log_level",
	"LOG_FORMAT":                 "log_format",
	"PORT":                       "port",
	"TRUST_PROXY":                "trust_proxy",
	"SHUTDOWN_GRACE_PERIOD":      "shutdown_grace_period",
	"HOUSEKEEPING_INTERVAL":      "housekeeping_interval",
	"SESSION_MODE":               "session_mode",
	"ACCESS_TOKEN_TTL":           "access_token_ttl",
	"REFRESH_TOKEN_TTL":          "refresh_token_ttl",
	"REQUIRE_EMAIL_VERIFICATION": "require_email_verification",
	"LOCKOUT_THRESHOLD":          "lockout_threshold",
	"LOCKOUT_WINDOW":             "lockout_window",
	"NOTIFY_WEBHOOK_URL":         "notify_webhook_url",
}

// flagKeys maps command-line flags onto config keys. Only flags the user
// actually set override lower layers.
var flagKeys = map[string]string{
	"port":            "port",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"database-driver": "database.driver",
	"database-dsn":    "database.dsn",
	"session-mode":    "session_mode",
	"trust-proxy":     "trust_proxy",
}

// BindFlags registers the flags LoadConfig understands on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.Int("port", 8080, "HTTP server port")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, text)")
	fs.String("database-driver", "sqlite", "database driver (sqlite, postgres)")
	fs.String("database-dsn", "accounts.db", "database file or connection URL")
	fs.String("session-mode", string(service.SessionPersistent), "session mode (persistent, stateless)")
	fs.Bool("trust-proxy", false, "trust X-Forwarded-For for client addresses")
}

// LoadConfig layers defaults, the optional YAML file named by --config, the
// environment and changed flags, in that order. fs may be nil.
func LoadConfig(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return Config{}, err
		}
	}

	if fs != nil {
		if path, _ := fs.GetString("config"); path != "" {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	for env, key := range envKeys {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return Config{}, err
			}
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("jwt_secret must be at least %d bytes", minSecretLen))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if _, err := service.ParseSessionMode(c.SessionMode); err != nil {
		errs = append(errs, err)
	}

	for name, d := range map[string]time.Duration{
		"access_token_ttl":      c.AccessTokenTTL,
		"refresh_token_ttl":     c.RefreshTokenTTL,
		"lockout_window":        c.LockoutWindow,
		"verify_token_ttl":      c.VerifyTokenTTL,
		"reset_token_ttl":       c.ResetTokenTTL,
		"housekeeping_interval": c.HousekeepingInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errs = append(errs, errors.New("refresh_token_ttl must exceed access_token_ttl"))
	}
	if c.LockoutThreshold < 1 {
		errs = append(errs, errors.New("lockout_threshold must be at least 1"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	for name, rc := range c.Roles {
		if _, ok := domain.ParseRole(name); !ok {
			errs = append(errs, fmt.Errorf("unknown role %q", name))
		}
		if rc.AccessTokenTTL < 0 {
			errs = append(errs, fmt.Errorf("roles.%s.access_token_ttl must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// Policy converts the config into the service policy.
func (c Config) Policy() service.Policy {
	mode, _ := service.ParseSessionMode(c.SessionMode)

	roles := make(map[domain.Role]service.RolePolicy, len(c.Roles))
	for name, rc := range c.Roles {
		if role, ok := domain.ParseRole(name); ok {
			roles[role] = service.RolePolicy{RequireMFA: rc.RequireMFA, AccessTokenTTL: rc.AccessTokenTTL}
		}
	}

	return service.Policy{
		SessionMode:              mode,
		AccessTokenTTL:           c.AccessTokenTTL,
		RefreshTokenTTL:          c.RefreshTokenTTL,
		RequireEmailVerification: c.RequireEmailVerification,
		LockoutThreshold:         c.LockoutThreshold,
		LockoutWindow:            c.LockoutWindow,
		VerifyTokenTTL:           c.VerifyTokenTTL,
		ResetTokenTTL:            c.ResetTokenTTL,
		Roles:                    roles,
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// WriteYAML prints the effective config with secrets redacted.
func (c Config) WriteYAML(w io.Writer) error {
	roles := make(map[string]any, len(c.Roles))
	for name, rc := range c.Roles {
		roles[name] = map[string]any{
			"require_mfa":      rc.RequireMFA,
			"access_token_ttl": rc.AccessTokenTTL.String(),
		}
	}

	dsn := c.Database.DSN
	if c.Database.Driver == "postgres" {
		dsn = redactDSN(dsn)
	}

	out := map[string]any{
		"issuer":          c.Issuer,
		"jwt_secret":      redact(c.JWTSecret),
		"bootstrap_token": redact(c.BootstrapToken),
		"pepper_file":     c.PepperFile,
		"database": map[string]any{
			"driver": c.Database.Driver,
			"dsn":    dsn,
		},
		"env":                        c.Env,
		"log_level":                  c.LogLevel,
		"log_format":                 c.LogFormat,
		"port":                       c.Port,
		"trust_proxy":                c.TrustProxy,
		"shutdown_grace_period":      c.ShutdownGracePeriod.String(),
		"housekeeping_interval":      c.HousekeepingInterval.String(),
		"session_mode":               c.SessionMode,
		"access_token_ttl":           c.AccessTokenTTL.String(),
		"refresh_token_ttl":          c.RefreshTokenTTL.String(),
		"require_email_verification": c.RequireEmailVerification,
		"lockout_threshold":          c.LockoutThreshold,
		"lockout_window":             c.LockoutWindow.String(),
		"verify_token_ttl":           c.VerifyTokenTTL.String(),
		"reset_token_ttl":            c.ResetTokenTTL.String(),
		"roles":                      roles,
		"notify_webhook_url":         c.NotifyWebhookURL,
	}

	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// redactDSN hides the password in a postgres URL.
func redactDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return dsn
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return scheme + "://" + user + ":<redacted>@" + host
}
