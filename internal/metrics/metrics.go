package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jamf_agent"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	webhookRequests *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	sessionDegraded prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound Slack webhook requests by route and response code.",
		}, []string{"route", "code"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations through the MCP bridge by outcome.",
		}, []string{"tool", "outcome"}),
		sessionDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_degraded_total",
			Help:      "Session resolutions that fell back to a non-persisted id.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Agent request latency by dispatch mode.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookRequests,
		m.toolInvocations,
		m.sessionDegraded,
		m.requestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WebhookRequest(route string, code int) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *Metrics) ToolInvocation(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) SessionDegraded() {
	if m == nil {
		return
	}
	m.sessionDegraded.Inc()
}

// ObserveRequest records the time elapsed since start for mode.
func (m *Metrics) ObserveRequest(mode string, start time.Time) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
