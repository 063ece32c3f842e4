package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/confsync/pkg/cache"
)

const (
	defaultHistoryTTL = 5 * time.Second
	minCleanupPeriod  = 1 * time.Second
)

// TemporalResolver answers timestamp-based queries against a KV bucket's
// revision history. History fetches are cached for a short TTL so bursts of
// queries against the same key hit the bucket once.
type TemporalResolver struct {
	bucket       jetstream.KeyValue
	historyCache cache.Cache[[]jetstream.KeyValueEntry]
}

// NewTemporalResolver creates a resolver with the default history cache TTL.
// The context bounds the cache's background cleanup goroutine.
func NewTemporalResolver(ctx context.Context, bucket jetstream.KeyValue) *TemporalResolver {
	return NewTemporalResolverWithCache(ctx, bucket, defaultHistoryTTL)
}

// NewTemporalResolverWithCache creates a resolver with a custom history
// cache TTL. Longer TTLs trade staleness of the newest revisions for fewer
// bucket reads.
func NewTemporalResolverWithCache(
	ctx context.Context,
	bucket jetstream.KeyValue,
	cacheTTL time.Duration,
) *TemporalResolver {
	cleanupInterval := cacheTTL / 5
	if cleanupInterval < minCleanupPeriod {
		cleanupInterval = minCleanupPeriod
	}

	// Without metrics options the TTL cache constructor cannot fail.
	histCache, _ := cache.NewTTL[[]jetstream.KeyValueEntry](ctx, cacheTTL, cleanupInterval)

	return &TemporalResolver{
		bucket:       bucket,
		historyCache: histCache,
	}
}

// NewTemporalResolverFromConfig creates a resolver whose history cache is
// built from the given cache configuration. A disabled configuration
// yields a resolver that reads the bucket on every query.
func NewTemporalResolverFromConfig(
	ctx context.Context,
	bucket jetstream.KeyValue,
	cfg cache.Config,
) (*TemporalResolver, error) {
	histCache, err := cache.NewFromConfig[[]jetstream.KeyValueEntry](ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &TemporalResolver{
		bucket:       bucket,
		historyCache: histCache,
	}, nil
}

// getCachedHistory returns the key's revision history, fetching from the
// bucket on a cache miss.
func (tr *TemporalResolver) getCachedHistory(ctx context.Context, key string) ([]jetstream.KeyValueEntry, error) {
	if cached, found := tr.historyCache.Get(key); found {
		return cached, nil
	}

	history, err := tr.bucket.History(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("get history: %w", err)
	}

	_, _ = tr.historyCache.Set(key, history)
	return history, nil
}

// GetAtTimestamp finds the revision that was current at the given time.
// History entries are ordered oldest to newest, so a binary search picks
// the newest revision created at or before the target.
func (tr *TemporalResolver) GetAtTimestamp(
	ctx context.Context,
	key string,
	targetTime time.Time,
) (jetstream.KeyValueEntry, error) {
	history, err := tr.getCachedHistory(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrKVKeyNotFound
	}

	if targetTime.Before(history[0].Created()) {
		// Target predates all history, return the oldest revision.
		return history[0], nil
	}

	lastIdx := len(history) - 1
	if !targetTime.Before(history[lastIdx].Created()) {
		return history[lastIdx], nil
	}

	left, right := 0, lastIdx
	for left < right {
		// Bias toward the right so the loop converges on the floor entry.
		mid := left + (right-left+1)/2

		if history[mid].Created().After(targetTime) {
			right = mid - 1
		} else {
			left = mid
		}
	}

	return history[left], nil
}

// GetInTimeRange returns every revision created in (start, end], ordered
// oldest to newest.
func (tr *TemporalResolver) GetInTimeRange(
	ctx context.Context,
	key string,
	startTime, endTime time.Time,
) ([]jetstream.KeyValueEntry, error) {
	history, err := tr.getCachedHistory(ctx, key)
	if err != nil {
		return nil, err
	}

	var results []jetstream.KeyValueEntry
	for _, entry := range history {
		created := entry.Created()
		if created.After(startTime) && !created.After(endTime) {
			results = append(results, entry)
		}
	}

	return results, nil
}

// GetStats returns the history cache statistics for monitoring.
func (tr *TemporalResolver) GetStats() *cache.Statistics {
	return tr.historyCache.Stats()
}

// Close shuts down the resolver's history cache.
func (tr *TemporalResolver) Close() error {
	return tr.historyCache.Close()
}
