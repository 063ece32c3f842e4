package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pkg/timestamp"
)

// Store persists the current snapshot with optimistic concurrency: Save
// succeeds only when the caller's snapshot carries the version the store
// currently holds, then bumps it. First boot is Load reporting
// errors.ErrSnapshotNotFound; the first Save must carry version 0.
type Store interface {
	// Load returns a deep copy of the current snapshot, or
	// errors.ErrSnapshotNotFound when none has been saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save persists snap, bumping snap.Version and stamping
	// snap.UpdatedAt in place. A version mismatch reports
	// errors.ErrVersionConflict.
	Save(ctx context.Context, snap *Snapshot) error
}

// MemoryStore is the in-process Store. It holds the encoded record rather
// than live pointers, so Load/Save exercise the same wire round trip as
// the KV store and callers can never alias store state.
type MemoryStore struct {
	mu      sync.RWMutex
	record  []byte
	version int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	record := m.record
	m.mu.RUnlock()

	if record == nil {
		return nil, errors.ErrSnapshotNotFound
	}
	return decodeSnapshot(record)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.WrapInvalid(fmt.Errorf("snapshot is nil: %w", errors.ErrInvalidValue),
			"MemoryStore", "Save", "validate snapshot")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.version
	if m.record == nil {
		current = 0
	}
	if snap.Version != current {
		return versionConflict("MemoryStore", current, snap.Version)
	}

	snap.Version = current + 1
	snap.UpdatedAt = timestamp.Now()

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.record = data
	m.version = snap.Version
	return nil
}

// versionConflict builds the shared stale-writer error.
func versionConflict(component string, have, got int64) error {
	return errors.WrapInvalid(
		fmt.Errorf("version mismatch: store has %d, caller has %d: %w",
			have, got, errors.ErrVersionConflict),
		component, "Save", "snapshot was modified by another writer")
}
