// Package observability wires Cubicler's Prometheus metrics and
// OpenTelemetry tracing, the way hector's pkg/observability bundles both
// concerns for its own agent/LLM call path. Persistence, alerting, and
// dashboards are external collaborators (spec.md §1 "Non-goals"); this
// package only instruments the dispatch engine's own
// request/tool-call/pool activity and exports spans for it.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every Prometheus collector Cubicler registers.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	DispatchTotal *prometheus.CounterVec

	PoolActiveWorkers *prometheus.GaugeVec
	PoolQueueDepth    *prometheus.GaugeVec
}

// New constructs and registers every collector against a fresh registry
// (not the global default, so repeated construction in tests never panics
// on duplicate registration).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cubicler",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests served by the dispatch engine's edge.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cubicler",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cubicler",
			Name:      "tool_calls_total",
			Help:      "Total tools/call invocations routed to a provider.",
		}, []string{"server", "tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cubicler",
			Name:      "tool_call_duration_seconds",
			Help:      "tools/call latency, by server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cubicler",
			Name:      "dispatch_total",
			Help:      "Total Dispatch Service invocations, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		PoolActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cubicler",
			Name:      "stdio_pool_active_workers",
			Help:      "Current worker count in a stdio agent pool.",
		}, []string{"agent"}),
		PoolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cubicler",
			Name:      "stdio_pool_queue_depth",
			Help:      "Current FIFO waiter count in a stdio agent pool.",
		}, []string{"agent"}),
	}

	reg.MustRegister(
		m.HTTPRequests, m.HTTPDuration,
		m.ToolCalls, m.ToolCallDuration,
		m.DispatchTotal,
		m.PoolActiveWorkers, m.PoolQueueDepth,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one request's outcome and latency.
func (m *Metrics) ObserveHTTP(route, method string, status int, start time.Time) {
	m.HTTPRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}

// ObserveDispatch records one Dispatch Service call's outcome.
func (m *Metrics) ObserveDispatch(agent, outcome string) {
	m.DispatchTotal.WithLabelValues(agent, outcome).Inc()
}

// ObserveToolCall records one tools/call outcome and latency.
func (m *Metrics) ObserveToolCall(server, tool, outcome string, start time.Time) {
	m.ToolCalls.WithLabelValues(server, tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(server).Observe(time.Since(start).Seconds())
}
