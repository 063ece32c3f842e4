package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "confsync"

// Metrics is the core metric set every confsync process exports:
// regeneration activity, the snapshot version, and the state of the
// NATS connection. Subsystems with their own metrics register them
// through the MetricsRegistrar interface instead of adding fields
// here.
type Metrics struct {
	RegenOperations *prometheus.CounterVec
	RegenDuration   *prometheus.HistogramVec
	RegenOpsApplied *prometheus.CounterVec
	SnapshotVersion prometheus.Gauge

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	})
}

func newHistogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

// NewMetrics builds the core metric set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		RegenOperations: newCounterVec("regen", "operations_total",
			"Regeneration passes by operation and outcome", "operation", "status"),
		RegenDuration: newHistogramVec("regen", "duration_seconds",
			"Regeneration pass duration in seconds", "operation"),
		RegenOpsApplied: newCounterVec("regen", "ops_applied_total",
			"Change operations applied during regeneration", "operation"),
		SnapshotVersion: newGauge("snapshot", "version",
			"Logical version of the current snapshot"),

		NATSConnected: newGauge("nats", "connected",
			"NATS connection status (0=disconnected, 1=connected)"),
		NATSRTT: newGauge("nats", "rtt_milliseconds",
			"Round-trip time to the NATS server in milliseconds"),
		NATSReconnects: newCounter("nats", "reconnects_total",
			"NATS reconnections"),
		NATSCircuitBreaker: newGauge("nats", "circuit_breaker",
			"Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	}
}

// collectors returns every core metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RegenOperations, m.RegenDuration, m.RegenOpsApplied, m.SnapshotVersion,
		m.NATSConnected, m.NATSRTT, m.NATSReconnects, m.NATSCircuitBreaker,
	}
}

// RecordRegenOperation counts one pass for the operation and outcome.
func (m *Metrics) RecordRegenOperation(operation, status string) {
	m.RegenOperations.WithLabelValues(operation, status).Inc()
}

// RecordRegenDuration records how long a pass took.
func (m *Metrics) RecordRegenDuration(operation string, d time.Duration) {
	m.RegenDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordOpsApplied adds the number of change ops a pass applied.
func (m *Metrics) RecordOpsApplied(operation string, count int) {
	m.RegenOpsApplied.WithLabelValues(operation).Add(float64(count))
}

// RecordSnapshotVersion updates the current snapshot version gauge.
func (m *Metrics) RecordSnapshotVersion(version int64) {
	m.SnapshotVersion.Set(float64(version))
}

// RecordNATSStatus updates the connection gauge.
func (m *Metrics) RecordNATSStatus(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.NATSConnected.Set(v)
}

// RecordNATSRTT updates the round-trip time gauge.
func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	m.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect counts one reconnection.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates the circuit breaker gauge.
func (m *Metrics) RecordCircuitBreakerState(state int) {
	m.NATSCircuitBreaker.Set(float64(state))
}
