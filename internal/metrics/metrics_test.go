package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	t.Parallel()

	m := New()
	m.Cycle("ok", 0.2)
	m.Cycle("halt", 0.1)
	m.Outcome("filled")
	m.Skip("stale_signal")
	m.Skip("stale_signal")
	m.Halt("drawdown")
	m.Equity(50000, 0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skips.WithLabelValues("stale_signal")))
	assert.Equal(t, 50000.0, testutil.ToFloat64(m.equity))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fxexec_halts_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.Cycle("ok", 1)
		m.Outcome("filled")
		m.Skip("x")
		m.Halt("x")
		m.Equity(1, 0)
	})
}
