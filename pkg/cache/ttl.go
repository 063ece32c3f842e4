package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/confsync/errors"
)

type entry[V any] struct {
	value    V
	deadline int64 // UnixNano
}

func (e entry[V]) expired(now int64) bool {
	return now > e.deadline
}

// ttlCache expires entries a fixed duration after their last Set. Expired
// entries are dropped lazily on Get and swept by a background goroutine on
// the cleanup interval.
type ttlCache[V any] struct {
	ttl        time.Duration
	sweepEvery time.Duration
	statsEvery time.Duration
	evictFn    EvictCallback[V]
	stats      *Statistics
	metrics    *cacheMetrics

	mu    sync.RWMutex
	items map[string]entry[V]

	stop      chan struct{}
	swept     chan struct{}
	closeOnce sync.Once
}

func newTTLCache[V any](
	ctx context.Context, ttl, sweepEvery time.Duration, opts *cacheOptions[V],
) (*ttlCache[V], error) {
	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newTTLCache", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		ttl:        ttl,
		sweepEvery: sweepEvery,
		statsEvery: opts.statsInterval,
		evictFn:    opts.evictCallback,
		stats:      NewStatistics(),
		metrics:    metrics,
		items:      make(map[string]entry[V]),
		stop:       make(chan struct{}),
		swept:      make(chan struct{}),
	}
	go c.maintain(ctx)
	return c, nil
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	now := time.Now().UnixNano()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok && !e.expired(now) {
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.recordHit()
		}
		return e.value, true
	}
	if ok {
		// Seen expired under the read lock; purge under the write lock
		// unless the sweeper or a concurrent Set got there first.
		var purged *entry[V]
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.expired(now) {
			delete(c.items, key)
			purged = &cur
			c.noteEviction(len(c.items))
		}
		c.mu.Unlock()
		if purged != nil && c.evictFn != nil {
			c.evictFn(key, purged.value)
		}
	}

	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
	var zero V
	return zero, false
}

func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	e := entry[V]{value: value, deadline: time.Now().Add(c.ttl).UnixNano()}

	c.mu.Lock()
	_, existed := c.items[key]
	c.items[key] = e
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
	return !existed, nil
}

func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	e, existed := c.items[key]
	if existed {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !existed {
		return false, nil
	}
	if c.evictFn != nil {
		c.evictFn(key, e.value)
	}
	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(size)
	}
	return true, nil
}

func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	dropped := c.items
	c.items = make(map[string]entry[V])
	c.mu.Unlock()

	if c.evictFn != nil {
		for key, e := range dropped {
			c.evictFn(key, e.value)
		}
	}
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	return nil
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *ttlCache[V]) Keys() []string {
	now := time.Now().UnixNano()
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for key, e := range c.items {
		if !e.expired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the maintenance goroutine. Safe to call twice.
func (c *ttlCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.stop) })
	select {
	case <-c.swept:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache maintenance to stop")
	}
}

// maintain sweeps expired entries and, when a stats interval is set,
// refreshes the size reading so it stays honest through idle stretches.
func (c *ttlCache[V]) maintain(ctx context.Context) {
	defer close(c.swept)

	sweep := time.NewTicker(c.sweepEvery)
	defer sweep.Stop()

	var statsC <-chan time.Time
	if c.statsEvery > 0 {
		st := time.NewTicker(c.statsEvery)
		defer st.Stop()
		statsC = st.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-sweep.C:
			c.sweepExpired()
		case <-statsC:
			size := c.Size()
			c.stats.UpdateSize(int64(size))
			if c.metrics != nil {
				c.metrics.updateSize(size)
			}
		}
	}
}

func (c *ttlCache[V]) sweepExpired() {
	now := time.Now().UnixNano()
	type evicted struct {
		key string
		val V
	}
	var out []evicted

	c.mu.Lock()
	for key, e := range c.items {
		if e.expired(now) {
			delete(c.items, key)
			out = append(out, evicted{key, e.value})
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(out) == 0 {
		return
	}
	for _, ev := range out {
		if c.evictFn != nil {
			c.evictFn(ev.key, ev.val)
		}
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.updateSize(size)
	}
}

// noteEviction records a single lazy eviction found during Get. The
// caller holds the write lock.
func (c *ttlCache[V]) noteEviction(size int) {
	c.stats.Eviction()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordEviction()
		c.metrics.updateSize(size)
	}
}
