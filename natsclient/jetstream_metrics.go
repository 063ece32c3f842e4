package natsclient

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/confsync/metric"
)

// jetstreamMetrics exports stream statistics for the streams this
// client created or looked up. All methods tolerate a nil receiver so
// call sites need no metrics-enabled check.
type jetstreamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec
	errors         *prometheus.CounterVec

	mu      sync.RWMutex
	streams map[string]jetstream.Stream
}

func jsGaugeVec(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "confsync",
		Subsystem: "jetstream",
		Name:      name,
		Help:      help,
	}, []string{"stream"})
}

// newJetStreamMetrics builds the stream collectors and registers them
// under the jetstream component.
func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &jetstreamMetrics{
		streamMessages: jsGaugeVec("stream_messages", "Current number of messages in stream"),
		streamBytes:    jsGaugeVec("stream_bytes", "Storage bytes used by stream"),
		streamState:    jsGaugeVec("stream_state", "Stream state (1=active, 0=inactive)"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "confsync",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),
		streams: make(map[string]jetstream.Stream),
	}

	for name, coll := range map[string]*prometheus.GaugeVec{
		"stream_messages": m.streamMessages,
		"stream_bytes":    m.streamBytes,
		"stream_state":    m.streamState,
	} {
		if err := registry.RegisterGaugeVec("jetstream", name, coll); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

// trackStream adds a stream to the polled set.
func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

// recordError counts a failed JetStream operation.
func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// collectStats refreshes the gauges for every tracked stream. A stream
// whose info cannot be fetched is marked inactive and left tracked; it
// may come back.
func (m *jetstreamMetrics) collectStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := maps.Clone(m.streams)
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}
}

// startPoller refreshes stream statistics on the given interval until
// the returned cancel function is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.collectStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
