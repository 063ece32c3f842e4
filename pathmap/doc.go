// Package pathmap binds tree-path prefixes to the configuration files that
// own them, so the engine can answer "which file does this path live in"
// and "where does this file mount" in both directions.
//
// # Overview
//
// A mount rule declares that a prefix is owned by a single file or spread
// across a directory:
//
//	rules:
//	  - prefix: system
//	    file: system.json
//	  - prefix: content.types
//	    dir: content/types
//
// Files not claimed by any rule auto-bind to the prefix derived from their
// relative path: "content/types.json" mounts at "content.types". A new file
// dropped into the store therefore needs no rule edit to participate.
//
// # Resolution
//
// FileFor resolves a tree path to its owning file by longest-prefix match
// over the bindings. Directory rules additionally synthesize targets for
// brand-new sections: with the dir rule above, a path under
// "content.types.article" resolves to "content/types/article.json" even
// before that file exists, which is how regeneration decides where freshly
// added sections are written.
//
// # Conflicts
//
// Every prefix has at most one owner and every file mounts at most one
// prefix. Two rules, two files, or a rule and a file claiming the same
// prefix fail the build with a *ConflictError naming both claimants. This
// class of error is an operator-level configuration defect; nothing in the
// engine retries it.
//
// # Refresh
//
// Build computes a map from scratch and prunes everything stale. Refresh is
// the incremental variant used between regenerations: bindings whose file
// vanished survive while the live tree still holds paths under their
// prefix, so in-memory state never becomes unmappable mid-flight.
package pathmap
