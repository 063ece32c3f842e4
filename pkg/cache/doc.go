// Package cache provides a generic, thread-safe TTL cache.
//
// # Overview
//
// The cache is parameterized by value type and evicts entries once their
// time-to-live elapses. A background goroutine sweeps expired entries on
// a fixed interval; reads also evict lazily, so an expired entry is
// never returned even between sweeps. The natsclient temporal resolver
// uses it to keep recently fetched KV revision histories hot while
// timestamp queries bisect them.
//
// Statistics are always collected and available through Stats(); the
// hit/miss/eviction counters can additionally be exported as Prometheus
// metrics by passing WithMetrics with a metric.MetricsRegistry.
//
// # Usage
//
//	c, err := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, 5*time.Second, time.Second)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	c.Set("current", history)
//	if hist, ok := c.Get("current"); ok {
//		// serve from cache
//	}
//
// NewFromConfig builds a cache from a Config (JSON-friendly, duration
// strings supported) and degrades to a no-op cache when disabled, so
// callers never branch on whether caching is on.
package cache
