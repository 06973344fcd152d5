package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActivePanels     prometheus.Gauge
	PanelEvents      *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	TaskFetches      *prometheus.CounterVec
	TaskFetchLatency prometheus.Histogram
	RelayRequests    *prometheus.CounterVec
	IdentityEvents   *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg instead of the default
// registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActivePanels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_panels",
			Help:      "Number of mounted side panels.",
		}),
		PanelEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panel_events_total",
			Help:      "Panel lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Frame channel messages by direction and type.",
		}, []string{"direction", "type"}),
		TaskFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_fetches_total",
			Help:      "Task fetches by outcome.",
		}, []string{"outcome"}),
		TaskFetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_fetch_latency_ms",
			Help:      "Task fetch latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
		RelayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Relay requests by outcome.",
		}, []string{"outcome"}),
		IdentityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_events_total",
			Help:      "Identity service session events by type.",
		}, []string{"event"}),
		window: newLatencyWindow(256),
	}
}

// ObserveTaskFetch records one finished task request.
func (m *Metrics) ObserveTaskFetch(outcome string, d time.Duration) {
	m.TaskFetches.WithLabelValues(outcome).Inc()
	if outcome == "stale" {
		m.window.ObserveIndicator("stale_task_result")
		return
	}
	m.TaskFetchLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe("task_fetch", float64(d.Milliseconds()))
}

// ObserveRelay records one relay request and its upstream latency.
func (m *Metrics) ObserveRelay(outcome string, upstream time.Duration) {
	m.RelayRequests.WithLabelValues(outcome).Inc()
	if upstream > 0 {
		m.window.Observe("relay_upstream", float64(upstream.Milliseconds()))
	}
}

// ObserveSessionResolve records how long a panel waited for its session.
func (m *Metrics) ObserveSessionResolve(d time.Duration) {
	m.window.Observe("session_resolve", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIdentityEvent(event string) {
	m.IdentityEvents.WithLabelValues(event).Inc()
}

// LatencySnapshot summarizes the recent latency window.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	return m.window.Snapshot()
}

func (m *Metrics) ResetLatency() {
	m.window.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
