// Package watcher delivers debounced change batches for a fragment
// directory.
//
// # Overview
//
// A Watcher registers the directory tree with the kernel notifier and
// coalesces the raw event stream: every change restarts a quiet window,
// and when the window elapses the accumulated per-file operations are
// emitted as one sorted Batch. A burst of writes from an editor, a git
// checkout, or the engine's own WriteAll therefore triggers a single
// downstream regeneration pass instead of one per file.
//
// # Filtering
//
// The watcher sees the directory the way filestore.Store lists it:
// dot-prefixed files and directories are invisible, and only .json
// files batch. Staged temp files never surface, and directory churn
// only adjusts the watch set. Batches produced by the engine's own
// writes are expected; the regeneration they trigger diffs to nothing.
//
// # Lifecycle
//
// A Watcher is single use. Start launches the run loop under a context;
// Stop, or the context ending, shuts it down and closes the batch
// channel so range loops over Batches terminate on their own.
package watcher
