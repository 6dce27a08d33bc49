// Package metrics collects Prometheus metrics for the accounts service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the authentication counters.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeSuspended          = "suspended"
	OutcomeMFARequired        = "mfa_required"
	OutcomeInvalid            = "invalid"
	OutcomeReplay             = "replay"
	OutcomeConflict           = "conflict"
)

// Recorder is what the service, notifier and HTTP layers report to.
type Recorder interface {
	RecordJoin(outcome string)
	RecordLogin(outcome string)
	RecordRefresh(outcome string)
	RecordSessionsRevoked(count int)
	RecordNotification(kind, outcome string)
	RecordHousekeeping(table string, deleted int)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	joins         *prometheus.CounterVec
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	revoked       prometheus.Counter
	notifications *prometheus.CounterVec
	housekeeping  *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_join_total",
			Help: "Join attempts by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accounts_sessions_revoked_total",
			Help: "Sessions revoked by logout, replay detection or administrative action.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_notifications_total",
			Help: "Notification deliveries by kind and outcome.",
		}, []string{"kind", "outcome"}),
		housekeeping: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_housekeeping_deleted_total",
			Help: "Rows removed by housekeeping, by table.",
		}, []string{"table"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_status_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.joins,
		c.logins,
		c.refreshes,
		c.revoked,
		c.notifications,
		c.housekeeping,
		c.httpStatus,
	)
	return c
}

func (c *Collector) RecordJoin(outcome string)    { c.joins.WithLabelValues(outcome).Inc() }
func (c *Collector) RecordLogin(outcome string)   { c.logins.WithLabelValues(outcome).Inc() }
func (c *Collector) RecordRefresh(outcome string) { c.refreshes.WithLabelValues(outcome).Inc() }

func (c *Collector) RecordSessionsRevoked(count int) {
	if count > 0 {
		c.revoked.Add(float64(count))
	}
}

func (c *Collector) RecordNotification(kind, outcome string) {
	c.notifications.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordHousekeeping(table string, deleted int) {
	c.housekeeping.WithLabelValues(table).Add(float64(deleted))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. It is the zero-config default.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordJoin(string)                 {}
func (Nop) RecordLogin(string)                {}
func (Nop) RecordRefresh(string)              {}
func (Nop) RecordSessionsRevoked(int)         {}
func (Nop) RecordNotification(string, string) {}
func (Nop) RecordHousekeeping(string, int)    {}
func (Nop) RecordHTTPStatus(int)              {}
