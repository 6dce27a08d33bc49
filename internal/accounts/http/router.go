package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/aussiebroadwan/accounts/api/accounts" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Options tunes the router. The zero value is usable.
type Options struct {
	BuildVersion string

	// Metrics receives per-status response counts. Defaults to metrics.Nop.
	Metrics metrics.Recorder

	// Gatherer backs GET /metrics. Nil leaves the endpoint unregistered.
	Gatherer prometheus.Gatherer

	// RateLimits defaults to httpx.DefaultRateLimitProfiles.
	RateLimits *httpx.RateLimitProfiles

	// TrustProxy reads the client address from X-Forwarded-For.
	TrustProxy bool
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	manager      *service.Manager
	store        store.Store
	metrics      metrics.Recorder
	gatherer     prometheus.Gatherer
	limits       httpx.RateLimitProfiles
	trustProxy   bool
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
}

func NewRouter(m *service.Manager, st store.Store, logger *slog.Logger, opts Options) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		manager:      m,
		store:        st,
		metrics:      opts.Metrics,
		gatherer:     opts.Gatherer,
		limits:       httpx.DefaultRateLimitProfiles(),
		trustProxy:   opts.TrustProxy,
		buildVersion: opts.BuildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}
	if r.metrics == nil {
		r.metrics = metrics.Nop{}
	}
	if opts.RateLimits != nil {
		r.limits = *opts.RateLimits
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		statusMetrics(r.metrics),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSessions()
	r.registerAccounts()
	r.registerPassword()
	r.registerMFA()
	r.registerAdmin()
	r.registerBootstrap()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Accounts Service API
//	@version		0.1.0
//	@description	Account registration, login and session management with JWT access tokens and rotating refresh tokens.
//	@description
//	@description				Tokens are signed using HS256. Refresh tokens are single use when sessions are persistent.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/accounts
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// secured limits the caller by address before authenticating them, then by
// account.
func (r *Router) secured(h http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h,
		httpx.RateLimitByIP(limit, r.trustProxy),
		authn(r.manager.Guard()),
		httpx.RateLimitBySubject(limit, r.trustProxy),
	)
}

func (r *Router) public(h http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
	return httpx.Chain(h, httpx.RateLimitByIP(limit, r.trustProxy))
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Manager: r.manager, TrustProxy: r.trustProxy}

	// Credential endpoints: strict limit by IP
	r.Mux.Handle("POST /v1/auth/join", r.public(h.HandleJoin, r.limits.Strict))
	r.Mux.Handle("POST /v1/auth/login", r.public(h.HandleLogin, r.limits.Strict))
	r.Mux.Handle("POST /v1/auth/refresh", r.public(h.HandleRefresh, r.limits.Strict))

	r.Mux.Handle("POST /v1/auth/logout", r.secured(h.HandleLogout, r.limits.Moderate))
	r.Mux.Handle("POST /v1/auth/logout-all", r.secured(h.HandleLogoutAll, r.limits.Moderate))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Manager: r.manager}

	r.Mux.Handle("GET /v1/sessions", r.secured(h.HandleList, r.limits.Moderate))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.secured(h.HandleRevoke, r.limits.Moderate))
}

func (r *Router) registerAccounts() {
	h := &AccountsHandler{Manager: r.manager}

	r.Mux.Handle("GET /v1/accounts/me", r.secured(h.HandleMe, r.limits.Moderate))
	r.Mux.Handle("DELETE /v1/accounts/me", r.secured(h.HandleClose, r.limits.Strict))
	r.Mux.Handle("POST /v1/accounts/me/password", r.secured(h.HandleChangePassword, r.limits.Strict))
	r.Mux.Handle("GET /v1/accounts/{id}", r.secured(h.HandleGet, r.limits.Moderate))
	r.Mux.Handle("PATCH /v1/accounts/{id}", r.secured(h.HandleUpdateProfile, r.limits.Moderate))

	// Verification tokens arrive by email; the redeem endpoint is public
	r.Mux.Handle("POST /v1/accounts/verify", r.public(h.HandleVerifyEmail, r.limits.Strict))
	r.Mux.Handle("POST /v1/accounts/verify/resend", r.secured(h.HandleResendVerification, r.limits.Strict))
}

func (r *Router) registerPassword() {
	h := &PasswordHandler{Manager: r.manager}

	r.Mux.Handle("POST /v1/password/forgot", r.public(h.HandleForgot, r.limits.Strict))
	r.Mux.Handle("POST /v1/password/reset", r.public(h.HandleReset, r.limits.Strict))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{Manager: r.manager}

	// Code checks get the strict limit to slow down guessing
	r.Mux.Handle("POST /v1/mfa/enroll", r.secured(h.HandleEnroll, r.limits.Moderate))
	r.Mux.Handle("POST /v1/mfa/verify", r.secured(h.HandleConfirm, r.limits.Strict))
	r.Mux.Handle("POST /v1/mfa/backup-codes", r.secured(h.HandleRegenerateBackupCodes, r.limits.Strict))
	r.Mux.Handle("DELETE /v1/mfa", r.secured(h.HandleDisable, r.limits.Strict))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Manager: r.manager}

	r.Mux.Handle("POST /v1/admin/accounts/{id}/suspend", r.secured(h.HandleSuspend, r.limits.Moderate))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/reinstate", r.secured(h.HandleReinstate, r.limits.Moderate))
	r.Mux.Handle("PUT /v1/admin/accounts/{id}/role", r.secured(h.HandleSetRole, r.limits.Moderate))
}

func (r *Router) registerBootstrap() {
	h := &BootstrapHandler{Manager: r.manager, TrustProxy: r.trustProxy}

	r.Mux.Handle("POST /v1/bootstrap", r.public(h.ServeHTTP, r.limits.Strict))
}

func (r *Router) registerSystem() {
	// Probes and scrapes are not rate limited; orchestrators poll them
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))
	if r.gatherer != nil {
		r.Mux.Handle("GET /metrics", metrics.Handler(r.gatherer))
	}
}
