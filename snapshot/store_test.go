package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/errors"
)

func TestMemoryStore_LoadNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}

func TestMemoryStore_FirstSave(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := Empty()
	require.NoError(t, s.Tree.Set("system.name", "prod"))
	require.NoError(t, store.Save(ctx, s))
	assert.Equal(t, int64(1), s.Version)
	assert.Positive(t, s.UpdatedAt)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	name, err := got.Tree.GetString("system.name")
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
}

func TestMemoryStore_SequentialSaves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := Empty()
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Save(ctx, s))
	assert.Equal(t, int64(3), s.Version)
}

func TestMemoryStore_StaleVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := Empty()
	require.NoError(t, store.Save(ctx, first))

	stale := Empty() // still at version 0
	err := store.Save(ctx, stale)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrVersionConflict)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, int64(0), stale.Version, "failed save must not bump the version")
}

func TestMemoryStore_LoadIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := Empty()
	require.NoError(t, s.Tree.Set("system.debug", false))
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, loaded.Tree.Set("system.debug", true))
	loaded.Modified["system"] = 42

	fresh, err := store.Load(ctx)
	require.NoError(t, err)
	debug, err := fresh.Tree.GetBool("system.debug")
	require.NoError(t, err)
	assert.False(t, debug, "mutating a loaded snapshot must not touch the store")
	assert.NotContains(t, fresh.Modified, "system")
}

func TestMemoryStore_NilSnapshot(t *testing.T) {
	store := NewMemoryStore()
	err := store.Save(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
