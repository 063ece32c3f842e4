// Package regen coordinates the synchronization cycles between config
// files, the persisted snapshot, and live runtime state.
//
// # Overview
//
// A Coordinator composes a filestore.Store, a snapshot.Store, and a
// LiveState (normally livestate.State) and exposes the three directed
// operations of the engine:
//
//   - RegenerateSnapshot: files win. Merge fragments through the path
//     map, apply the diff against the stored snapshot to the live
//     state, save the merged tree as the next snapshot version.
//   - RegenerateConfig: live state wins. Fold the diff into the
//     snapshot tree, rewrite the owning fragments on disk, then save
//     the snapshot.
//   - RegenerateConfigMappings: rebuild the path map wholesale from the
//     file listing and mount rules, pruning stale bindings.
//
// Each run carries a generated run_id through its log lines so the
// phases of one pass can be correlated.
//
// # Discipline
//
// The coordinator takes no locks and performs no retries. Operations
// are single-writer: callers serialize them, and a failed run is rerun
// by whoever triggered it once the cause is resolved. An apply failure
// halts before any store write, so persistence never records a tree the
// live state refused.
//
// # Authorization
//
// Every operation first consults a Gate and fails closed on any error.
// The default AllowAll gate suits coordinators driven by the daemon's
// own watcher; request-facing deployments supply their own.
package regen
