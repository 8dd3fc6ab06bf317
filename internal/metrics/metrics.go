// ABOUTME: Prometheus metrics for authentication decisions and duplex sessions
// ABOUTME: Registered on an injectable registerer so tests can use a private registry

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "lynx_gateway").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: a fresh prometheus.Registry
	Registry *prometheus.Registry
}

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	sessionsActive *prometheus.GaugeVec
	sessionsTotal  *prometheus.CounterVec
	authAttempts   *prometheus.CounterVec
	authDuration   *prometheus.HistogramVec
	envelopes      *prometheus.CounterVec
	transportErrs  *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(cfg Config) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "lynx_gateway"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		registry: cfg.Registry,
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_active",
			Help:      "Number of open duplex sessions",
		}, []string{"role"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_total",
			Help:      "Total number of duplex sessions accepted",
		}, []string{"role"}),

		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication decisions by transport and result",
		}, []string{"transport", "result"}),

		authDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "auth_duration_seconds",
			Help:      "Time spent validating bearer credentials",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}, []string{"transport"}),

		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "envelopes_total",
			Help:      "Inbound envelopes by session role and direction",
		}, []string{"role", "direction"}),

		transportErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "transport_errors_total",
			Help:      "Read and write failures that ended a session",
		}, []string{"role", "op"}),
	}
}

// ObserveAuth records one authentication decision.
func (m *Metrics) ObserveAuth(transport, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(transport, result).Inc()
	m.authDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// SessionOpened records a newly accepted session.
func (m *Metrics) SessionOpened(role string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(role).Inc()
	m.sessionsActive.WithLabelValues(role).Inc()
}

// SessionClosed records a session teardown.
func (m *Metrics) SessionClosed(role string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(role).Dec()
}

// EnvelopeReceived counts an inbound frame.
func (m *Metrics) EnvelopeReceived(role string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(role, "in").Inc()
}

// EnvelopeSent counts an outbound frame.
func (m *Metrics) EnvelopeSent(role string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(role, "out").Inc()
}

// TransportError counts a read or write failure.
func (m *Metrics) TransportError(role, op string) {
	if m == nil {
		return
	}
	m.transportErrs.WithLabelValues(role, op).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
