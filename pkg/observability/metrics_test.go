package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserveHTTPIncrementsCounterAndHistogram(t *testing.T) {
	m := New()
	start := time.Now().Add(-10 * time.Millisecond)

	m.ObserveHTTP("/dispatch/{agentId}", "POST", 200, start)

	count := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/dispatch/{agentId}", "POST", "OK"))
	assert.Equal(t, float64(1), count)
}

func TestMetricsObserveToolCallIncrementsByOutcome(t *testing.T) {
	m := New()
	start := time.Now()

	m.ObserveToolCall("weather", "get_forecast", "success", start)
	m.ObserveToolCall("weather", "get_forecast", "error", start)

	success := testutil.ToFloat64(m.ToolCalls.WithLabelValues("weather", "get_forecast", "success"))
	failure := testutil.ToFloat64(m.ToolCalls.WithLabelValues("weather", "get_forecast", "error"))
	assert.Equal(t, float64(1), success)
	assert.Equal(t, float64(1), failure)
}

func TestMetricsObserveDispatchIncrementsByAgentAndOutcome(t *testing.T) {
	m := New()

	m.ObserveDispatch("bot", "success")
	m.ObserveDispatch("bot", "success")

	count := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("bot", "success"))
	assert.Equal(t, float64(2), count)
}

func TestMetricsHandlerServesPrometheusText(t *testing.T) {
	m := New()
	m.ObserveDispatch("bot", "success")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "cubicler_dispatch_total")
}

func TestNewRegistersIndependentRegistryPerCall(t *testing.T) {
	// Constructing two Metrics instances must never panic on duplicate
	// registration, since each gets its own prometheus.Registry.
	require.NotPanics(t, func() {
		New()
		New()
	})
}
