package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordLogin(metrics.OutcomeSuccess)
	c.RecordLogin(metrics.OutcomeSuccess)
	c.RecordLogin(metrics.OutcomeInvalidCredentials)
	c.RecordSessionsRevoked(3)
	c.RecordSessionsRevoked(0)
	c.RecordHousekeeping("sessions", 4)

	expected := `
# HELP accounts_login_total Login attempts by outcome.
# TYPE accounts_login_total counter
accounts_login_total{outcome="invalid_credentials"} 1
accounts_login_total{outcome="success"} 2
# HELP accounts_sessions_revoked_total Sessions revoked by logout, replay detection or administrative action.
# TYPE accounts_sessions_revoked_total counter
accounts_sessions_revoked_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"accounts_login_total", "accounts_sessions_revoked_total"))
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.RecordHTTPStatus(http.StatusCreated)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `accounts_http_status_total{status_code="201"} 1`)
}
