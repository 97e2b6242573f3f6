package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines the interface for collecting sync metrics
type MetricsCollector interface {
	RecordOpPublished(kind string, success bool, duration time.Duration)
	RecordOpApplied(kind string)
	RecordCorrection(drift float64)
	RecordSpuriousEnd()
	RecordCommandFailure(command string)
	RecordPlayerError(code int)
	RecordConnections(n int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordOpPublished(kind string, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordOpApplied(kind string)                                         {}
func (n *NoOpMetricsCollector) RecordCorrection(drift float64)                                      {}
func (n *NoOpMetricsCollector) RecordSpuriousEnd()                                                  {}
func (n *NoOpMetricsCollector) RecordCommandFailure(command string)                                 {}
func (n *NoOpMetricsCollector) RecordPlayerError(code int)                                          {}
func (n *NoOpMetricsCollector) RecordConnections(count int)                                         {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	opsPublished    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	opsApplied      *prometheus.CounterVec
	corrections     prometheus.Counter
	drift           prometheus.Histogram
	spuriousEnds    prometheus.Counter
	commandFailures *prometheus.CounterVec
	playerErrors    *prometheus.CounterVec
	connections     prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		opsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchsync_ops_published_total",
				Help: "Operations proposed to the broadcast bus",
			},
			[]string{"kind", "status"},
		),
		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchsync_publish_duration_seconds",
				Help:    "Time taken to publish an operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		opsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchsync_ops_applied_total",
				Help: "Operations applied to a replica",
			},
			[]string{"kind"},
		),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchsync_drift_corrections_total",
			Help: "Seeks issued to pull a local player back to the shared position",
		}),
		drift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchsync_drift_seconds",
			Help:    "Absolute drift observed when a correction was issued",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		spuriousEnds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchsync_spurious_ends_total",
			Help: "End-of-media reports discarded as spurious",
		}),
		commandFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchsync_player_command_failures_total",
				Help: "Player commands that failed or timed out",
			},
			[]string{"command"},
		),
		playerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchsync_player_errors_total",
				Help: "Errors reported by local players",
			},
			[]string{"code"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchsync_websocket_connections",
			Help: "Open websocket connections",
		}),
	}

	reg.MustRegister(
		m.opsPublished,
		m.publishDuration,
		m.opsApplied,
		m.corrections,
		m.drift,
		m.spuriousEnds,
		m.commandFailures,
		m.playerErrors,
		m.connections,
	)
	return m
}

func (m *PrometheusMetrics) RecordOpPublished(kind string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.opsPublished.WithLabelValues(kind, status).Inc()
	m.publishDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordOpApplied(kind string) {
	m.opsApplied.WithLabelValues(kind).Inc()
}

func (m *PrometheusMetrics) RecordCorrection(drift float64) {
	if drift < 0 {
		drift = -drift
	}
	m.corrections.Inc()
	m.drift.Observe(drift)
}

func (m *PrometheusMetrics) RecordSpuriousEnd() {
	m.spuriousEnds.Inc()
}

func (m *PrometheusMetrics) RecordCommandFailure(command string) {
	m.commandFailures.WithLabelValues(command).Inc()
}

func (m *PrometheusMetrics) RecordPlayerError(code int) {
	m.playerErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *PrometheusMetrics) RecordConnections(n int) {
	m.connections.Set(float64(n))
}
