package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/notify"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/postgres"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-retry"

	httpapi "github.com/aussiebroadwan/accounts/internal/accounts/http"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// Application wires the accounts service together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	dispatcher *notify.Dispatcher

	manager      *service.Manager
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized. The config
// must already be validated.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "accounts",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewCollector(app.registry)

	db, err := OpenStore(ctx, cfg.Database, app.logger)
	if err != nil {
		return nil, err
	}
	app.db = db

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler exposes the router, mainly for in-process tests.
func (app *Application) Handler() http.Handler { return app.router }

// Start launches the background workers without listening. Run calls it;
// tests that serve Handler themselves call it directly.
func (app *Application) Start() {
	app.dispatcher.Start()
	app.housekeeping.Start()
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.Start()

	app.logger.Info("accounts service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"database", app.cfg.Database.Driver,
		"session_mode", app.cfg.SessionMode)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down accounts service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	// Drain queued notifications before the process exits
	if err := app.dispatcher.Stop(ctx); err != nil {
		app.logger.Warn("notification queue not drained", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("accounts service stopped")
	return nil
}

// OpenStore connects to the configured database, retrying while it comes
// up, and applies migrations.
func OpenStore(ctx context.Context, cfg DatabaseConfig, logger *slog.Logger) (store.Store, error) {
	var db store.Store

	backoff := retry.WithMaxRetries(connectAttempts-1, retry.NewExponential(connectBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := openDriver(ctx, cfg)
		if err == nil {
			err = s.Ping(ctx)
			if err != nil {
				_ = s.Close()
			}
		}
		if err != nil {
			logger.Warn("database not ready", "driver", cfg.Driver, "error", err)
			return retry.RetryableError(err)
		}
		db = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	logger.Info("database migrations applied successfully", "driver", cfg.Driver)
	return db, nil
}

func openDriver(ctx context.Context, cfg DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.NewStore(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.NewStore(sqliteDSN(cfg.DSN))
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// sqliteDSN turns a bare path into a DSN with WAL and a busy timeout.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (app *Application) initServices() error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}

	issuer, err := jwtx.NewIssuer(jwtx.Options{
		Secret: []byte(app.cfg.JWTSecret),
		Issuer: app.cfg.Issuer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	var sender notify.Sender = notify.LogSender{Logger: app.logger, IncludeTokens: app.cfg.Env == "dev"}
	if app.cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(app.cfg.NotifyWebhookURL, notify.DefaultSendTimeout)
		app.logger.Info("notifications delivered by webhook")
	}
	app.dispatcher = notify.NewDispatcher(sender, notify.Options{
		Logger:  app.logger,
		Metrics: app.metrics,
	})

	app.manager = service.NewManager(service.Deps{
		Store:          app.db,
		Hasher:         cryptox.NewHasher(pepper, cryptox.DefaultArgon2Params),
		Tokens:         issuer,
		Policy:         app.cfg.Policy(),
		Notifier:       app.dispatcher,
		Metrics:        app.metrics,
		BootstrapToken: app.cfg.BootstrapToken,
	})

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.metrics,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

func (app *Application) initHTTP() {
	limits := httpx.RateLimitProfilesFromEnv()

	router := httpapi.NewRouter(app.manager, app.db, app.logger, httpapi.Options{
		BuildVersion: BuildVersion,
		Metrics:      app.metrics,
		Gatherer:     app.registry,
		RateLimits:   &limits,
		TrustProxy:   app.cfg.TrustProxy,
	})
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
