// Package snapshot persists the last configuration tree known to have
// been fully applied, with optimistic version control.
//
// # Overview
//
// A Snapshot pairs a configtree.Tree with a monotonically increasing
// logical version, an update timestamp, and a ModifiedDateCache that maps
// each top-level section to the newest modification time among its files.
// The coordinator loads the snapshot to diff against, applies, and saves
// the successor; the cache answers "changed since T" without a diff.
//
// # Stores
//
// Store is the persistence contract. Two implementations ship:
//
//   - MemoryStore, an in-process store that keeps the encoded record so
//     every Load/Save exercises the same wire round trip as persistence.
//   - KVStore, backed by a NATS KV bucket with revision history. Beyond
//     the Store contract it answers temporal queries: At(t) resolves the
//     snapshot current at an instant, History(start, end) lists the
//     revisions in a window.
//
// # Versioning
//
// Save is compare-and-swap on the logical version: the caller passes the
// snapshot at the version it loaded, the store verifies and bumps it. A
// stale writer gets errors.ErrVersionConflict and must reload. First boot
// is Load reporting errors.ErrSnapshotNotFound; the caller starts from
// Empty() (version 0) and the first Save commits version 1. In the KV
// store the bucket revision backs the check, so the guarantee holds
// across processes, not just goroutines.
package snapshot
