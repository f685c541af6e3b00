package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/bridgera/internal/operation"
)

const metricsNamespace = "bridgera"

// Metrics exposes engine counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	busyRejections  prometheus.Counter
	persistFailures prometheus.Counter
}

// NewMetrics builds and registers the engine collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Executed operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
	m.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of executed operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)
	m.busyRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "busy_rejections_total",
		Help:      "Execute calls rejected because another operation was running",
	})
	m.persistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "persist_failures_total",
		Help:      "Session writes that failed and were dropped from disk",
	})
	m.registry.MustRegister(m.operations, m.duration, m.busyRejections, m.persistFailures)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// PersistFailed counts one swallowed session write failure. It matches the
// session store's failure hook.
func (m *Metrics) PersistFailed(error) {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *Metrics) observe(name string, outcome operation.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, string(outcome)).Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func (m *Metrics) busy() {
	if m == nil {
		return
	}
	m.busyRejections.Inc()
}
