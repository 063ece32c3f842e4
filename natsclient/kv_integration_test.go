//go:build integration

package natsclient

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One NATS container serves every test in this file.
var sharedNATS *TestClient

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	tc, err := NewSharedTestClient(WithKV())
	if err != nil {
		log.Fatalf("start shared NATS server: %v", err)
	}
	sharedNATS = tc

	code := m.Run()
	if err := tc.Terminate(); err != nil {
		log.Printf("terminate shared NATS server: %v", err)
	}
	os.Exit(code)
}

// sharedStore builds a KVStore on a fresh, uniquely named bucket that is
// dropped when the test ends.
func sharedStore(t *testing.T, opts ...func(*KVOptions)) *KVStore {
	t.Helper()
	if sharedNATS == nil {
		t.Skip("shared NATS server not started in short mode")
	}

	name := "kv" + strings.ReplaceAll(uuid.NewString(), "-", "")
	bucket, err := sharedNATS.Client.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{
		Bucket:  name,
		History: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sharedNATS.Client.DeleteKeyValueBucket(context.Background(), name)
	})

	return sharedNATS.Client.NewKVStore(bucket, opts...)
}

func TestKVRoundTrip(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	payload := []byte(`{"version":3,"platform":"edge-7"}`)
	rev, err := store.Put(ctx, "current", payload)
	require.NoError(t, err)
	assert.Greater(t, rev, uint64(0))

	entry, err := store.Get(ctx, "current")
	require.NoError(t, err)
	assert.Equal(t, "current", entry.Key)
	assert.Equal(t, payload, entry.Value)
	assert.Equal(t, rev, entry.Revision)

	rev2, err := store.Update(ctx, "current", []byte(`{"version":4}`), rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)

	require.NoError(t, store.Delete(ctx, "current"))
	_, err = store.Get(ctx, "current")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestKVCreateRefusesExistingKey(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "current", []byte("first"))
	require.NoError(t, err)

	_, err = store.Create(ctx, "current", []byte("second"))
	assert.ErrorIs(t, err, ErrKVKeyExists)
	assert.True(t, IsKVConflictError(err))
}

func TestKVUpdateRefusesStaleRevision(t *testing.T) {
	store := sharedStore(t)
	ctx := context.Background()

	rev, err := store.Put(ctx, "current", []byte("v1"))
	require.NoError(t, err)

	_, err = store.Update(ctx, "current", []byte("v2"), rev+5)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)
	assert.True(t, IsKVConflictError(err))
}

func TestKVGetMapsServerNotFound(t *testing.T) {
	store := sharedStore(t)

	_, err := store.Get(context.Background(), "never-written")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
	assert.True(t, IsKVNotFoundError(err))
}

func TestKVUpdateWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("applies the transform", func(t *testing.T) {
		store := sharedStore(t)
		_, err := store.Put(ctx, "current", []byte("v1"))
		require.NoError(t, err)

		err = store.UpdateWithRetry(ctx, "current", func(current []byte) ([]byte, error) {
			assert.Equal(t, "v1", string(current))
			return []byte("v2"), nil
		})
		require.NoError(t, err)

		entry, err := store.Get(ctx, "current")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(entry.Value))
	})

	t.Run("retries past a concurrent writer", func(t *testing.T) {
		store := sharedStore(t)
		_, err := store.Put(ctx, "current", []byte("v1"))
		require.NoError(t, err)

		calls := 0
		err = store.UpdateWithRetry(ctx, "current", func([]byte) ([]byte, error) {
			calls++
			if calls == 1 {
				// Move the revision between the read and the write.
				_, err := store.Put(ctx, "current", []byte("interloper"))
				require.NoError(t, err)
			}
			return []byte("final"), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)

		entry, err := store.Get(ctx, "current")
		require.NoError(t, err)
		assert.Equal(t, "final", string(entry.Value))
	})

	t.Run("creates a missing key", func(t *testing.T) {
		store := sharedStore(t)

		err := store.UpdateWithRetry(ctx, "fresh", func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("born"), nil
		})
		require.NoError(t, err)

		entry, err := store.Get(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, "born", string(entry.Value))
	})

	t.Run("gives up on a contended key", func(t *testing.T) {
		writer := sharedStore(t)
		store := sharedNATS.Client.NewKVStore(writer.bucket, func(opts *KVOptions) {
			opts.MaxRetries = 2
			opts.RetryDelay = time.Millisecond
		})
		_, err := store.Put(ctx, "current", []byte("v1"))
		require.NoError(t, err)

		calls := 0
		err = store.UpdateWithRetry(ctx, "current", func([]byte) ([]byte, error) {
			calls++
			_, err := writer.Put(ctx, "current", fmt.Appendf(nil, "interloper-%d", calls))
			require.NoError(t, err)
			return []byte("loser"), nil
		})
		assert.ErrorIs(t, err, ErrKVMaxRetriesExceeded)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry transform errors", func(t *testing.T) {
		store := sharedStore(t)
		_, err := store.Put(ctx, "current", []byte("v1"))
		require.NoError(t, err)

		broken := errors.New("malformed snapshot")
		calls := 0
		err = store.UpdateWithRetry(ctx, "current", func([]byte) ([]byte, error) {
			calls++
			return nil, broken
		})
		assert.ErrorIs(t, err, broken)
		assert.Equal(t, 1, calls)
	})

	t.Run("rejects oversized values", func(t *testing.T) {
		store := sharedStore(t, func(opts *KVOptions) {
			opts.MaxValueSize = 8
		})

		calls := 0
		err := store.UpdateWithRetry(ctx, "current", func([]byte) ([]byte, error) {
			calls++
			return []byte("twenty-six bytes of config"), nil
		})
		assert.ErrorContains(t, err, "exceeds maximum")
		assert.Equal(t, 1, calls)
	})
}

func TestKVWatch(t *testing.T) {
	store := sharedStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	watcher, err := store.Watch(ctx, "snapshots.>")
	require.NoError(t, err)
	defer func() { _ = watcher.Stop() }()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_, _ = store.Put(ctx, "snapshots.edge-7", []byte("a"))
		_, _ = store.Put(ctx, "snapshots.edge-9", []byte("b"))
	}()

	var keys []string
	for len(keys) < 2 {
		select {
		case entry := <-watcher.Updates():
			// The first nil marks the end of the initial replay.
			if entry != nil {
				keys = append(keys, entry.Key())
			}
		case <-ctx.Done():
			t.Fatalf("saw %d of 2 updates before timeout", len(keys))
		}
	}

	assert.ElementsMatch(t, []string{"snapshots.edge-7", "snapshots.edge-9"}, keys)
}
