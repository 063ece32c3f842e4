package cache

import (
	"github.com/c360/confsync/errors"
)

// Cache is a concurrency-safe string-keyed cache over values of type V.
// The KV snapshot store keeps decoded history entries in one; lookups that
// miss fall through to the bucket.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present and live.
	Get(key string) (V, bool)

	// Set stores value under key, resetting its lifetime. It reports
	// whether the entry is new rather than an overwrite.
	Set(key string, value V) (bool, error)

	// Delete removes key, reporting whether it was present.
	Delete(key string) (bool, error)

	// Clear drops every entry.
	Clear() error

	// Size returns the number of stored entries, expired or not.
	Size() int

	// Keys lists the keys with unexpired entries.
	Keys() []string

	// Stats returns the running counters. The noop cache returns nil.
	Stats() *Statistics

	// Close stops background maintenance. The cache must not be used
	// afterwards.
	Close() error
}

// EvictCallback observes entries leaving the cache through expiry, Delete,
// or Clear.
type EvictCallback[V any] func(key string, value V)

// noop backs NewNoop: every read misses, every write is accepted and
// dropped. It stands in when caching is disabled by configuration so
// callers need no enabled checks.
type noop[V any] struct{}

func (noop[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (noop[V]) Set(string, V) (bool, error) { return false, nil }
func (noop[V]) Delete(string) (bool, error) { return false, nil }
func (noop[V]) Clear() error                { return nil }
func (noop[V]) Size() int                   { return 0 }
func (noop[V]) Keys() []string              { return nil }
func (noop[V]) Stats() *Statistics          { return nil }
func (noop[V]) Close() error                { return nil }

// NewNoop returns the disabled cache.
func NewNoop[V any]() Cache[V] {
	return noop[V]{}
}

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
