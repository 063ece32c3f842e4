// Package confsync keeps three views of a configuration in step: JSON
// fragment files on disk, a versioned snapshot store, and the live
// state of a running process.
//
// # Model
//
// A configuration is one tree of dot-delimited paths. Operators do not
// edit the tree directly; they edit fragments, small JSON files that
// each own a subtree. Mount rules declare where each fragment's subtree
// lives, and the derived path map answers both directions: which file
// owns this path, which prefix does this file fill.
//
//	┌─────────────────────────────────────┐
//	│        Fragment files (disk)        │  system.json, network/…
//	└─────────────────────────────────────┘
//	           ↕ pathmap + filestore
//	┌─────────────────────────────────────┐
//	│      Merged configuration tree      │  one tree, dot paths
//	└─────────────────────────────────────┘
//	           ↕ diff + regen
//	┌─────────────────────────────────────┐
//	│   Snapshot store    │  Live state   │  versions ←→ running process
//	└─────────────────────────────────────┘
//
// Three regeneration operations move state between the views, each
// declaring which side is authoritative:
//
//   - RegenerateSnapshot: files win. Merge the fragments, diff against
//     the stored snapshot, apply the difference to live state, persist
//     a new snapshot version.
//   - RegenerateConfig: snapshot and live state win. Fold live drift
//     into the snapshot tree, rewrite the fragment files from it,
//     persist a new version.
//   - RegenerateConfigMappings: rebuild the path map from the current
//     file listing and mount rules, pruning bindings for files that no
//     longer exist.
//
// Every pass is incremental: the diff package reduces two trees to the
// minimal set of set/remove operations, and only those paths are
// touched. Applied passes bump the snapshot version; a pass that finds
// nothing to do leaves the version alone.
//
// # Packages
//
// Core model:
//   - configtree: the tree, dot-delimited paths, typed getters, merge
//   - diff: tree difference and incremental apply
//   - pathmap: mount rules and the path↔file map
//
// Synchronization surfaces:
//   - filestore: fragment files on disk, atomic writes
//   - snapshot: versioned snapshot stores (memory, NATS JetStream KV)
//   - livestate: the in-process tree, section handlers, observers
//   - regen: the coordinator driving the three operations
//   - watcher: debounced fragment-directory watching
//
// Infrastructure:
//   - config: daemon bootstrap configuration (layers, env, validation)
//   - natsclient: NATS connection management
//   - metric: Prometheus metrics and the operational HTTP endpoint
//   - health: per-subsystem health statuses
//   - errors: structured error handling
//   - pkg/cache, pkg/retry, pkg/security, pkg/timestamp, pkg/tlsutil
//
// # Usage
//
// Wire the stack and run a files-authoritative pass:
//
//	files, _ := filestore.New("./config")
//	rules, _ := pathmap.LoadRulesFile("mounts.yaml")
//	live := livestate.New()
//
//	coord, _ := regen.New(files, snapshot.NewMemoryStore(), live, rules)
//	if err := coord.RegenerateSnapshot(ctx); err != nil {
//		// files stay untouched; live state holds the ops applied so far
//	}
//
// For durable versions, back the coordinator with the JetStream KV
// store instead:
//
//	client, _ := natsclient.NewClient("nats://localhost:4222")
//	client.Connect(ctx)
//	store, _ := snapshot.NewKVStore(ctx, client)
//
// The KV store adds temporal queries: At returns the snapshot current
// at a past time, History the versions in a window, Watch a channel of
// versions as they land.
//
// # Binary
//
// The confsync binary wraps the same stack:
//
//	# scaffold a working directory
//	confsync init demo
//
//	# run the watching daemon
//	cd demo && confsync --config confsync.json serve
//
//	# one-shot passes for scripts and recovery
//	confsync --config confsync.json regen snapshot
//	confsync --config confsync.json regen config
//	confsync --config confsync.json regen mappings
//
// # Design Principles
//
// Incremental application:
//   - Only changed paths are applied, in deterministic order
//   - Removes precede adds at every node, so a path that moves between
//     files never collides with itself
//
// Versioned persistence:
//   - Optimistic concurrency: Save carries the version it read
//   - A conflicting writer gets errors.ErrVersionConflict, never a
//     silent overwrite
//
// Testability:
//   - Explicit dependencies (no globals)
//   - Integration tests with testcontainers against real NATS
package confsync
