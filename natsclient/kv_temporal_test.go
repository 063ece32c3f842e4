package natsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/pkg/cache"
)

// temporalFixture writes five revisions of one key, recording a wall-clock
// stamp just after each write. stamp[i] therefore falls between revision
// i+1 and revision i+2.
type temporalFixture struct {
	bucket jetstream.KeyValue
	stamps []time.Time
}

func newTemporalFixture(t *testing.T) *temporalFixture {
	t.Helper()
	tc := NewTestClient(t, WithKV())
	ctx := context.Background()

	bucket, err := tc.Client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  "snapshot_history",
		History: 10,
	})
	require.NoError(t, err)

	fx := &temporalFixture{bucket: bucket}
	for version := 1; version <= 5; version++ {
		_, err := bucket.Put(ctx, "current", fmt.Appendf(nil, `{"version":%d}`, version))
		require.NoError(t, err)
		fx.stamps = append(fx.stamps, time.Now())
		time.Sleep(60 * time.Millisecond)
	}
	return fx
}

func versionAt(t *testing.T, entry jetstream.KeyValueEntry) int {
	t.Helper()
	require.NotNil(t, entry)
	var v struct {
		Version int `json:"version"`
	}
	require.NoError(t, json.Unmarshal(entry.Value(), &v))
	return v.Version
}

func TestTemporalResolverGetAtTimestamp(t *testing.T) {
	skipWithoutDocker(t)
	fx := newTemporalFixture(t)
	ctx := context.Background()

	resolver := NewTemporalResolver(ctx, fx.bucket)
	t.Cleanup(func() { _ = resolver.Close() })

	t.Run("before all history returns the oldest revision", func(t *testing.T) {
		entry, err := resolver.GetAtTimestamp(ctx, "current", fx.stamps[0].Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, versionAt(t, entry))
	})

	t.Run("after all history returns the newest revision", func(t *testing.T) {
		entry, err := resolver.GetAtTimestamp(ctx, "current", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 5, versionAt(t, entry))
	})

	t.Run("between revisions returns the floor", func(t *testing.T) {
		entry, err := resolver.GetAtTimestamp(ctx, "current", fx.stamps[2])
		require.NoError(t, err)
		assert.Equal(t, 3, versionAt(t, entry))
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := resolver.GetAtTimestamp(ctx, "never-written", time.Now())
		assert.ErrorIs(t, err, ErrKVKeyNotFound)
	})
}

func TestTemporalResolverGetInTimeRange(t *testing.T) {
	skipWithoutDocker(t)
	fx := newTemporalFixture(t)
	ctx := context.Background()

	resolver := NewTemporalResolver(ctx, fx.bucket)
	t.Cleanup(func() { _ = resolver.Close() })

	// (stamp[0], stamp[3]] covers revisions 2, 3 and 4: revision 1 was
	// created before stamp[0] and revision 5 after stamp[3].
	entries, err := resolver.GetInTimeRange(ctx, "current", fx.stamps[0], fx.stamps[3])
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, i+2, versionAt(t, entry))
	}

	empty, err := resolver.GetInTimeRange(ctx, "current",
		fx.stamps[4], fx.stamps[4].Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTemporalResolverCachesHistory(t *testing.T) {
	skipWithoutDocker(t)
	fx := newTemporalFixture(t)
	ctx := context.Background()

	resolver := NewTemporalResolverWithCache(ctx, fx.bucket, 30*time.Second)
	t.Cleanup(func() { _ = resolver.Close() })

	future := time.Now().Add(time.Hour)
	entry, err := resolver.GetAtTimestamp(ctx, "current", future)
	require.NoError(t, err)
	assert.Equal(t, 5, versionAt(t, entry))

	// A write after the first query stays invisible while the cached
	// history is fresh.
	_, err = fx.bucket.Put(ctx, "current", []byte(`{"version":6}`))
	require.NoError(t, err)

	entry, err = resolver.GetAtTimestamp(ctx, "current", future)
	require.NoError(t, err)
	assert.Equal(t, 5, versionAt(t, entry))

	stats := resolver.GetStats()
	assert.Equal(t, int64(1), stats.Misses())
	assert.GreaterOrEqual(t, stats.Hits(), int64(1))
}

func TestTemporalResolverDisabledCache(t *testing.T) {
	skipWithoutDocker(t)
	fx := newTemporalFixture(t)
	ctx := context.Background()

	resolver, err := NewTemporalResolverFromConfig(ctx, fx.bucket, cache.Config{Enabled: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resolver.Close() })

	future := time.Now().Add(time.Hour)
	entry, err := resolver.GetAtTimestamp(ctx, "current", future)
	require.NoError(t, err)
	assert.Equal(t, 5, versionAt(t, entry))

	// With caching off, new revisions show up on the very next query.
	_, err = fx.bucket.Put(ctx, "current", []byte(`{"version":6}`))
	require.NoError(t, err)

	entry, err = resolver.GetAtTimestamp(ctx, "current", future)
	require.NoError(t, err)
	assert.Equal(t, 6, versionAt(t, entry))
}
