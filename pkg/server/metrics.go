package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "molbridge").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "molbridge",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	activeSessions  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	messagesSent    *prometheus.CounterVec
	bytesSent       prometheus.Counter
	messagesRecv    prometheus.Counter
	protocolErrors  prometheus.Counter
	encodingErrors  *prometheus.CounterVec
	updatesRejected prometheus.Counter
	sessionDuration prometheus.Histogram
}

// NewMetrics registers the collectors with the configured registry.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of connected streaming sessions.",
			ConstLabels: config.ConstLabels,
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total number of streaming sessions started.",
			ConstLabels: config.ConstLabels,
		}),
		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_ended_total",
			Help:        "Streaming sessions ended, by cause.",
			ConstLabels: config.ConstLabels,
		}, []string{"cause"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Messages sent to clients, by kind.",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Payload bytes sent to clients.",
			ConstLabels: config.ConstLabels,
		}),
		messagesRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Messages received from clients.",
			ConstLabels: config.ConstLabels,
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "protocol_errors_total",
			Help:        "Inbound messages that failed validation.",
			ConstLabels: config.ConstLabels,
		}),
		encodingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "encoding_errors_total",
			Help:        "Outbound messages with at least one field that failed to encode.",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),
		updatesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "updates_rejected_total",
			Help:        "Multiplayer state changes refused by the simulation.",
			ConstLabels: config.ConstLabels,
		}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_duration_seconds",
			Help:        "Lifetime of streaming sessions.",
			ConstLabels: config.ConstLabels,
			Buckets:     []float64{1, 10, 60, 300, 900, 3600, 4 * 3600},
		}),
	}
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded(cause string, seconds float64) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsEnded.WithLabelValues(cause).Inc()
	m.sessionDuration.Observe(seconds)
}

func (m *Metrics) sessionRejected(cause string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(cause).Inc()
}

func (m *Metrics) messageSent(kind string, n int) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) messageReceived() {
	if m == nil {
		return
	}
	m.messagesRecv.Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *Metrics) encodingError(kind string) {
	if m == nil {
		return
	}
	m.encodingErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) updateRejected() {
	if m == nil {
		return
	}
	m.updatesRejected.Inc()
}
