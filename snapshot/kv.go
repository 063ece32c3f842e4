package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/natsclient"
	"github.com/c360/confsync/pkg/cache"
	"github.com/c360/confsync/pkg/timestamp"
)

const (
	defaultBucket  = "confsync_snapshots"
	defaultHistory = 20
	currentKey     = "current"
)

// KVStore persists snapshots in a NATS KV bucket. The bucket keeps
// revision history, so besides the Store contract it can answer "what was
// the snapshot at time T" through a temporal resolver.
type KVStore struct {
	kv       *natsclient.KVStore
	resolver *natsclient.TemporalResolver
	logger   *slog.Logger
	bucket   string
}

// KVOption configures a KVStore.
type KVOption func(*kvConfig)

type kvConfig struct {
	bucket       string
	history      uint8
	historyCache *cache.Config
	logger       *slog.Logger
}

// WithBucket overrides the bucket name.
func WithBucket(name string) KVOption {
	return func(c *kvConfig) {
		if name != "" {
			c.bucket = name
		}
	}
}

// WithHistory overrides how many snapshot revisions the bucket retains.
func WithHistory(n uint8) KVOption {
	return func(c *kvConfig) {
		if n > 0 {
			c.history = n
		}
	}
}

// WithHistoryCache tunes the revision-history cache behind At and History
// queries. A disabled configuration turns the cache off entirely.
func WithHistoryCache(cfg cache.Config) KVOption {
	return func(c *kvConfig) {
		c.historyCache = &cfg
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) KVOption {
	return func(c *kvConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewKVStore creates or opens the snapshot bucket on an established NATS
// connection. The context also bounds the temporal resolver's cache
// lifecycle.
func NewKVStore(ctx context.Context, client *natsclient.Client, opts ...KVOption) (*KVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats client is nil: %w", errors.ErrInvalidConfig),
			"KVStore", "NewKVStore", "validate client")
	}

	cfg := &kvConfig{
		bucket:  defaultBucket,
		history: defaultHistory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.bucket,
		Description: "Configuration snapshots with version history",
		History:     cfg.history,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "NewKVStore", "create KV bucket")
	}

	var resolver *natsclient.TemporalResolver
	if cfg.historyCache != nil {
		resolver, err = natsclient.NewTemporalResolverFromConfig(ctx, bucket, *cfg.historyCache)
		if err != nil {
			return nil, errors.WrapInvalid(err, "KVStore", "NewKVStore", "build history cache")
		}
	} else {
		resolver = natsclient.NewTemporalResolver(ctx, bucket)
	}

	return &KVStore{
		kv:       client.NewKVStore(bucket),
		resolver: resolver,
		logger:   cfg.logger,
		bucket:   cfg.bucket,
	}, nil
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context) (*Snapshot, error) {
	entry, err := s.kv.Get(ctx, currentKey)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrSnapshotNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Load", "get current snapshot")
	}
	return decodeSnapshot(entry.Value)
}

// Save implements Store. The bucket revision backs the version check, so
// two racing writers cannot both win even across processes.
func (s *KVStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.WrapInvalid(fmt.Errorf("snapshot is nil: %w", errors.ErrInvalidValue),
			"KVStore", "Save", "validate snapshot")
	}

	entry, err := s.kv.Get(ctx, currentKey)
	if err != nil {
		if !natsclient.IsKVNotFoundError(err) {
			return errors.WrapTransient(err, "KVStore", "Save", "get current snapshot")
		}
		return s.create(ctx, snap)
	}

	current, err := decodeSnapshot(entry.Value)
	if err != nil {
		return err
	}
	if current.Version != snap.Version {
		return versionConflict("KVStore", current.Version, snap.Version)
	}

	snap.Version = current.Version + 1
	snap.UpdatedAt = timestamp.Now()

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := s.kv.Update(ctx, currentKey, data, entry.Revision); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(
				fmt.Errorf("%v: %w", err, errors.ErrVersionConflict),
				"KVStore", "Save", "snapshot was modified by another writer")
		}
		return errors.WrapTransient(err, "KVStore", "Save", "update in KV")
	}

	s.logger.Debug("saved snapshot", "bucket", s.bucket, "version", snap.Version)
	return nil
}

// create handles the first write, racing concurrent first writers through
// the bucket's create-only semantics.
func (s *KVStore) create(ctx context.Context, snap *Snapshot) error {
	if snap.Version != 0 {
		return versionConflict("KVStore", 0, snap.Version)
	}

	snap.Version = 1
	snap.UpdatedAt = timestamp.Now()

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if _, err := s.kv.Create(ctx, currentKey, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(
				fmt.Errorf("%v: %w", err, errors.ErrVersionConflict),
				"KVStore", "Save", "another writer created the first snapshot")
		}
		return errors.WrapTransient(err, "KVStore", "Save", "create in KV")
	}

	s.logger.Debug("created snapshot record", "bucket", s.bucket)
	return nil
}

// At returns the snapshot that was current at the given time, using the
// bucket's revision history.
func (s *KVStore) At(ctx context.Context, t time.Time) (*Snapshot, error) {
	entry, err := s.resolver.GetAtTimestamp(ctx, currentKey, t)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrSnapshotNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "At", "resolve historical snapshot")
	}
	return decodeSnapshot(entry.Value())
}

// History returns every snapshot revision recorded in (start, end],
// oldest first, bounded by the bucket's retained history.
func (s *KVStore) History(ctx context.Context, start, end time.Time) ([]*Snapshot, error) {
	entries, err := s.resolver.GetInTimeRange(ctx, currentKey, start, end)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrSnapshotNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "History", "resolve snapshot range")
	}

	out := make([]*Snapshot, 0, len(entries))
	for _, entry := range entries {
		snap, err := decodeSnapshot(entry.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Watch streams snapshot commits as they land in the bucket, starting
// with the current snapshot if one exists. The channel closes when the
// context ends or the underlying watcher stops. Entries that fail to
// decode are logged and skipped so one bad write cannot wedge the
// stream.
func (s *KVStore) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	watcher, err := s.kv.Watch(ctx, currentKey)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Watch", "watch snapshot key")
	}

	out := make(chan *Snapshot)
	go func() {
		defer close(out)
		defer func() {
			if err := watcher.Stop(); err != nil {
				s.logger.Debug("stopping snapshot watcher", "error", err)
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// The watcher sends a nil entry once the initial replay
				// is done; deletes and purges carry no snapshot.
				if entry == nil || entry.Operation() != jetstream.KeyValuePut {
					continue
				}
				snap, err := decodeSnapshot(entry.Value())
				if err != nil {
					s.logger.Warn("skipping undecodable snapshot update",
						"bucket", s.bucket, "revision", entry.Revision(), "error", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the temporal resolver's cache.
func (s *KVStore) Close() error {
	return s.resolver.Close()
}
