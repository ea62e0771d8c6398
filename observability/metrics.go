package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
	"github.com/gangwars/joinframe/notify"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "joinframe"

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	alerts          *prometheus.CounterVec
}

// NewMetrics registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Frame turns handled, by route, outcome (screen step or response kind) and error code.",
		}, []string{"route", "outcome", "reason"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Duration of frame turns in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Tournament backend calls, by operation and status.",
		}, []string{"operation", "status"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Duration of tournament backend calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_notifications_total",
			Help:      "Join notifications, by outcome.",
		}, []string{"outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Operational alerts, by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(m.turns, m.turnDuration, m.backendCalls, m.backendDuration, m.notifications, m.alerts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one handled turn. It fits the frame's turn observer.
func (m *Metrics) ObserveTurn(route, outcome string, reason joinframe.ErrorCode, elapsed time.Duration) {
	m.turns.WithLabelValues(route, outcome, string(reason)).Inc()
	m.turnDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveBackendCall records one backend round trip. It fits backend.WithCallObserver.
func (m *Metrics) ObserveBackendCall(event backend.CallEvent) {
	status := "error"
	if event.Err == nil {
		status = strconv.Itoa(event.StatusCode)
	}
	m.backendCalls.WithLabelValues(event.Operation, status).Inc()
	m.backendDuration.WithLabelValues(event.Operation).Observe(event.Duration.Seconds())
}

// ObserveNotification records one notification outcome. It fits notify.WithOutcomeObserver.
func (m *Metrics) ObserveNotification(outcome notify.Outcome) {
	switch {
	case outcome.Err != nil:
		m.notifications.WithLabelValues("failed").Inc()
	case outcome.Status >= 500:
		m.notifications.WithLabelValues("server_error").Inc()
	default:
		m.notifications.WithLabelValues("sent").Inc()
	}

	if outcome.AlertErr != nil {
		m.alerts.WithLabelValues("failed").Inc()
	} else {
		m.alerts.WithLabelValues("sent").Inc()
	}
}
