package cache

import (
	"time"

	"github.com/c360/confsync/metric"
)

// Option adjusts cache construction.
type Option[V any] func(*cacheOptions[V])

type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	statsInterval time.Duration
}

// WithMetrics exports the cache counters through the registry under the
// given component prefix. Ignored when registry is nil or prefix empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(o *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			o.metricsReg = registry
			o.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback observes entries as they leave the cache.
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(o *cacheOptions[V]) {
		o.evictCallback = fn
	}
}

// WithStatsInterval sets how often the idle size reading refreshes.
// Non-positive intervals are ignored.
func WithStatsInterval[V any](interval time.Duration) Option[V] {
	return func(o *cacheOptions[V]) {
		if interval > 0 {
			o.statsInterval = interval
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	o := &cacheOptions[V]{statsInterval: 30 * time.Second}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
