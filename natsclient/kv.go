package natsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/confsync/pkg/retry"
)

// Well-known KV errors. Operations translate the raw NATS error surface
// into these so callers can branch with errors.Is.
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
)

// KVEntry is a value read from a bucket together with the revision
// needed for compare-and-swap writes.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes KV operation behavior.
type KVOptions struct {
	MaxRetries            int           // additional CAS attempts after the first
	RetryDelay            time.Duration // initial delay between attempts
	Timeout               time.Duration // per-operation timeout
	MaxValueSize          int           // reject writes larger than this
	UseExponentialBackoff bool          // double the delay between attempts
	MaxRetryDelay         time.Duration // delay ceiling
}

// DefaultKVOptions returns defaults tuned for snapshot store
// contention: many retries with short, jittered delays.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:            10,
		RetryDelay:            10 * time.Millisecond,
		Timeout:               5 * time.Second,
		MaxValueSize:          1 << 20,
		UseExponentialBackoff: true,
		MaxRetryDelay:         time.Second,
	}
}

// KVStore layers revision-aware reads and CAS writes over one KV
// bucket.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore wraps a bucket obtained from CreateKeyValueBucket or
// GetKeyValueBucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) logf(format string, v ...any) {
	if kv.logger != nil {
		kv.logger.Debugf(format, v...)
	}
}

// opContext bounds one operation with the configured timeout.
func (kv *KVStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get reads a key and its revision.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put writes a key unconditionally; the last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}

	kv.logf("KV put %s at revision %d", key, rev)
	return rev, nil
}

// Create writes a key that must not exist yet.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}

	kv.logf("KV create %s at revision %d", key, rev)
	return rev, nil
}

// Update writes a key only when its revision still matches.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}

	kv.logf("KV update %s, revision %d to %d", key, revision, rev)
	return rev, nil
}

// Delete removes a key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	kv.logf("KV delete %s", key)
	return nil
}

// Watch streams changes to keys matching the pattern. The watcher lives
// until its context ends, so the configured operation timeout does not
// apply.
func (kv *KVStore) Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error) {
	watcher, err := kv.bucket.Watch(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("kv watch %s: %w", pattern, err)
	}
	return watcher, nil
}

// retryConfig maps the KV options onto the retry package.
func (kv *KVStore) retryConfig() retry.Config {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   1.0,
		AddJitter:    true,
	}
	if kv.options.UseExponentialBackoff {
		cfg.Multiplier = 2.0
	}
	return cfg
}

// UpdateWithRetry reads, transforms and writes a key atomically,
// retrying revision conflicts with backoff. A missing key is handed to
// updateFn as nil and created on write. updateFn may run several times,
// so it must be side effect free.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) error {

	ctx, cancel := kv.opContext(ctx)
	defer cancel()

	attempt := 0
	err := retry.Do(ctx, kv.retryConfig(), func() error {
		attempt++
		return kv.casAttempt(ctx, key, attempt, updateFn)
	})

	// A conflict surviving every attempt means the key is too contended.
	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// casAttempt runs one read-transform-write round. Conflicts come back
// untouched so the retry loop goes again; errors that cannot succeed on
// retry are marked non-retryable.
func (kv *KVStore) casAttempt(ctx context.Context, key string, attempt int,
	updateFn func([]byte) ([]byte, error)) error {

	var current []byte
	var revision uint64

	entry, err := kv.Get(ctx, key)
	switch {
	case err == nil:
		current, revision = entry.Value, entry.Revision
	case IsKVNotFoundError(err):
		// Revision zero routes the write through Create below.
	default:
		return fmt.Errorf("kv get during update: %w", err)
	}

	next, err := updateFn(current)
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("update function: %w", err))
	}
	if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
		return retry.NonRetryable(fmt.Errorf("value size %d exceeds maximum %d",
			len(next), kv.options.MaxValueSize))
	}

	if revision == 0 {
		_, err = kv.bucket.Create(ctx, key, next)
	} else {
		_, err = kv.bucket.Update(ctx, key, next, revision)
	}
	if err == nil {
		return nil
	}
	if IsKVConflictError(err) {
		kv.logf("KV conflict on %s, attempt %d", key, attempt)
		return err
	}
	return fmt.Errorf("kv write %s: %w", key, err)
}

// IsKVNotFoundError reports whether the error means the key is absent.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") ||
		strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether the error means another writer got
// there first, either by creating the key or by moving its revision.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVRevisionMismatch) ||
		errors.Is(err, ErrKVKeyExists) ||
		errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
