package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/errors"
)

func newTestCache(t *testing.T, ttl, cleanupInterval time.Duration, opts ...Option[string]) Cache[string] {
	t.Helper()
	c, err := NewTTL[string](context.Background(), ttl, cleanupInterval, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTTLCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, time.Minute, time.Second)

	created, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, created, "first set should create a new entry")

	created, err = c.Set("key1", "value2")
	require.NoError(t, err)
	assert.False(t, created, "overwrite should not report a new entry")

	val, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value2", val)

	_, found = c.Get("missing")
	assert.False(t, found)
}

func TestTTLCache_KeyValidation(t *testing.T) {
	c := newTestCache(t, time.Minute, time.Second)

	_, err := c.Set("", "value")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidKey))
	assert.True(t, errors.IsInvalid(err))

	_, err = c.Delete("")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidKey))
}

func TestTTLCache_ExpiryOnGet(t *testing.T) {
	c := newTestCache(t, 30*time.Millisecond, time.Hour)

	_, err := c.Set("key1", "value1")
	require.NoError(t, err)

	val, found := c.Get("key1")
	require.True(t, found)
	assert.Equal(t, "value1", val)

	time.Sleep(60 * time.Millisecond)

	// Cleanup interval is an hour, so expiry is detected lazily here.
	_, found = c.Get("key1")
	assert.False(t, found)
	assert.Equal(t, 0, c.Size(), "lazy eviction should remove the expired entry")
}

func TestTTLCache_KeysFilterExpired(t *testing.T) {
	c := newTestCache(t, 30*time.Millisecond, time.Hour)

	_, err := c.Set("old", "value")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = c.Set("fresh", "value")
	require.NoError(t, err)

	keys := c.Keys()
	assert.Equal(t, []string{"fresh"}, keys, "expired keys should not be listed")
	assert.Equal(t, 2, c.Size(), "expired entries linger until evicted")
}

func TestTTLCache_Delete(t *testing.T) {
	c := newTestCache(t, time.Minute, time.Second)

	_, err := c.Set("key1", "value1")
	require.NoError(t, err)

	deleted, err := c.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing key should report false")

	_, found := c.Get("key1")
	assert.False(t, found)
}

func TestTTLCache_Clear(t *testing.T) {
	var mu sync.Mutex
	evicted := make(map[string]string)

	c := newTestCache(t, time.Minute, time.Second,
		WithEvictionCallback[string](func(key string, value string) {
			mu.Lock()
			evicted[key] = value
			mu.Unlock()
		}))

	_, _ = c.Set("key1", "value1")
	_, _ = c.Set("key2", "value2")

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"key1": "value1", "key2": "value2"}, evicted)
}

func TestTTLCache_BackgroundCleanup(t *testing.T) {
	evicted := make(chan string, 4)

	c := newTestCache(t, 20*time.Millisecond, 10*time.Millisecond,
		WithEvictionCallback[string](func(key string, _ string) {
			evicted <- key
		}))

	_, err := c.Set("key1", "value1")
	require.NoError(t, err)

	select {
	case key := <-evicted:
		assert.Equal(t, "key1", key)
	case <-time.After(2 * time.Second):
		t.Fatal("background cleanup never evicted the expired entry")
	}

	assert.Equal(t, 0, c.Size())
}

func TestTTLCache_Stats(t *testing.T) {
	c := newTestCache(t, time.Minute, time.Second)

	_, _ = c.Set("key1", "value1")
	_, _ = c.Set("key2", "value2")

	_, _ = c.Get("key1")
	_, _ = c.Get("key1")
	_, _ = c.Get("missing")

	_, err := c.Delete("key2")
	require.NoError(t, err)

	stats := c.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(2), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(2), stats.Sets())
	assert.Equal(t, int64(1), stats.Deletes())
	assert.Equal(t, int64(1), stats.CurrentSize())
	assert.InDelta(t, 2.0/3.0, stats.HitRatio(), 0.001)
}

func TestTTLCache_CloseIsIdempotent(t *testing.T) {
	c, err := NewTTL[string](context.Background(), time.Minute, time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestNoopCache(t *testing.T) {
	c := NewNoop[string]()

	created, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.False(t, created)

	_, found := c.Get("key1")
	assert.False(t, found, "noop cache never stores anything")

	assert.Equal(t, 0, c.Size())
	assert.Nil(t, c.Keys())
	assert.Nil(t, c.Stats())
	assert.NoError(t, c.Clear())
	assert.NoError(t, c.Close())
}

func TestNewFromConfig(t *testing.T) {
	t.Run("disabled returns noop", func(t *testing.T) {
		c, err := NewFromConfig[string](context.Background(), Config{Enabled: false})
		require.NoError(t, err)
		defer func() { _ = c.Close() }()

		_, _ = c.Set("key1", "value1")
		_, found := c.Get("key1")
		assert.False(t, found)
		assert.Nil(t, c.Stats())
	})

	t.Run("enabled returns ttl cache", func(t *testing.T) {
		c, err := NewFromConfig[string](context.Background(), DefaultConfig())
		require.NoError(t, err)
		defer func() { _ = c.Close() }()

		_, _ = c.Set("key1", "value1")
		val, found := c.Get("key1")
		assert.True(t, found)
		assert.Equal(t, "value1", val)
		assert.NotNil(t, c.Stats())
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		_, err := NewFromConfig[string](context.Background(), Config{
			Enabled:         true,
			TTL:             0,
			CleanupInterval: time.Minute,
		})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Enabled: false}.Validate(), "disabled config needs no durations")

	err := Config{Enabled: true, TTL: time.Minute, CleanupInterval: -1}.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConfigUnmarshalDurationStrings(t *testing.T) {
	var cfg Config
	err := cfg.UnmarshalJSON([]byte(`{"enabled":true,"ttl":"5m","cleanup_interval":"1m","stats_interval":"30s"}`))
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 30*time.Second, cfg.StatsInterval)

	err = cfg.UnmarshalJSON([]byte(`{"enabled":true,"ttl":"not-a-duration"}`))
	require.Error(t, err)
}
