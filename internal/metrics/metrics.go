// Package metrics exposes Prometheus collectors for the streaming session and the
// reconnecting feed. Every method is safe to call on a nil *Collector, which records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connect results.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "alpaca").
	Namespace string

	// Subsystem is the metrics subsystem (default: "stream").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Collector holds the stream metrics.
type Collector struct {
	connectsTotal     *prometheus.CounterVec
	handshakeDuration prometheus.Histogram
	messagesTotal     *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	reconnectsTotal   prometheus.Counter
	activeSessions    prometheus.Gauge
}

// New registers the stream metrics with cfg.Registry.
// It panics if they are already registered there, like promauto does.
func New(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "alpaca"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "stream"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		connectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connects_total",
			Help:        "Total number of connection attempts by result",
			ConstLabels: cfg.ConstLabels,
		}, []string{"result"}),

		handshakeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "handshake_duration_seconds",
			Help:        "Time from dial to the listening reply",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of decoded messages by stream",
			ConstLabels: cfg.ConstLabels,
		}, []string{"stream"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Total number of frames that failed to decode by kind",
			ConstLabels: cfg.ConstLabels,
		}, []string{"kind"}),

		reconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "reconnects_total",
			Help:        "Total number of reconnections after a session ended",
			ConstLabels: cfg.ConstLabels,
		}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of sessions in the streaming phase",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

// RecordConnect counts a connection attempt and, on success, its handshake duration.
func (c *Collector) RecordConnect(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.connectsTotal.WithLabelValues(result).Inc()
	if result == ResultSuccess {
		c.handshakeDuration.Observe(elapsed.Seconds())
	}
}

func (c *Collector) RecordMessage(stream string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(stream).Inc()
}

// RecordDecodeError counts a frame that failed to decode. kind is "malformed" or
// "unrecognized".
func (c *Collector) RecordDecodeError(kind string) {
	if c == nil {
		return
	}
	c.decodeErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordReconnect() {
	if c == nil {
		return
	}
	c.reconnectsTotal.Inc()
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
