package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics counts cache traffic. Counter methods are safe from any
// goroutine; the TTL cache updates them on every operation whether or not
// Prometheus export is enabled.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	mu      sync.RWMutex
	started time.Time
	size    int64
	peak    int64
}

// NewStatistics returns a zeroed tracker with the uptime clock started.
func NewStatistics() *Statistics {
	return &Statistics{started: time.Now()}
}

// Hit records a successful lookup.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a lookup that found nothing live.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a store.
func (s *Statistics) Set() { s.sets.Add(1) }

// Delete records an explicit removal.
func (s *Statistics) Delete() { s.deletes.Add(1) }

// Eviction records an expiry-driven removal.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current entry count and tracks the peak.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.size = size
	if size > s.peak {
		s.peak = size
	}
	s.mu.Unlock()
}

// Hits returns the hit count.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the miss count.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the store count.
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Deletes returns the explicit removal count.
func (s *Statistics) Deletes() int64 { return s.deletes.Load() }

// Evictions returns the expiry removal count.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the entry count as of the last update.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// MaxSize returns the largest entry count observed.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peak
}

// HitRatio returns hits/(hits+misses) in [0,1], or 0 before any traffic.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Uptime returns the time since the tracker was created.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.started)
}
