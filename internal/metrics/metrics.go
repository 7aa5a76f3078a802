// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "wg_relay"
)

// Direction labels for forwarded traffic.
const (
	DirectionToTarget = "to_target"
	DirectionToPeer   = "to_peer"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Packet metrics
	PacketsReceived  *prometheus.CounterVec
	PacketsForwarded *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec

	// Data transfer metrics
	BytesReceived  prometheus.Counter
	BytesForwarded *prometheus.CounterVec

	// Session metrics
	SessionsActive   prometheus.Gauge
	SessionsUpserted prometheus.Counter
	SessionsEvicted  prometheus.Counter

	// Worker metrics
	WorkersRunning prometheus.Gauge
	WorkerErrors   *prometheus.CounterVec

	// registry backs the /metrics handler for this instance
	registry prometheus.Gatherer
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
// If reg is also a prometheus.Gatherer it is exposed through Gatherer.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total datagrams received by message type",
		}, []string{"msg_type"}),
		PacketsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_forwarded_total",
			Help:      "Total datagrams forwarded by direction",
		}, []string{"direction"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams dropped by reason",
		}, []string{"reason"}),

		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received",
		}),
		BytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_forwarded_total",
			Help:      "Total bytes forwarded by direction",
		}, []string{"direction"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in the session table",
		}),
		SessionsUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_upserted_total",
			Help:      "Total handshake initiations that bound a session",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total expired sessions removed by sweeps",
		}),

		WorkersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Number of running relay workers",
		}),
		WorkerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_errors_total",
			Help:      "Total fatal worker errors by type",
		}, []string{"error_type"}),
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.registry = g
	} else {
		m.registry = prometheus.DefaultGatherer
	}

	return m
}

// Gatherer returns the gatherer the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// RecordReceived records a datagram read from the socket.
func (m *Metrics) RecordReceived(msgType string, bytes int) {
	m.PacketsReceived.WithLabelValues(msgType).Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordForwarded records a datagram sent on to its destination.
func (m *Metrics) RecordForwarded(direction string, bytes int) {
	m.PacketsForwarded.WithLabelValues(direction).Inc()
	m.BytesForwarded.WithLabelValues(direction).Add(float64(bytes))
}

// RecordDropped records a dropped datagram.
func (m *Metrics) RecordDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordUpsert records a session bind and the sweep that preceded it.
func (m *Metrics) RecordUpsert(evicted, active int) {
	m.SessionsUpserted.Inc()
	m.SessionsEvicted.Add(float64(evicted))
	m.SessionsActive.Set(float64(active))
}

// RecordWorkerStart records a worker starting.
func (m *Metrics) RecordWorkerStart() {
	m.WorkersRunning.Inc()
}

// RecordWorkerStop records a worker exiting, with errorType empty on a clean stop.
func (m *Metrics) RecordWorkerStop(errorType string) {
	m.WorkersRunning.Dec()
	if errorType != "" {
		m.WorkerErrors.WithLabelValues(errorType).Inc()
	}
}
