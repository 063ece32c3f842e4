// Package configtree provides the canonical nested key/value representation
// of a project's configuration and its path addressing scheme.
//
// # Overview
//
// A configuration is a Tree: a rooted, ordered mapping where every internal
// node is a Node and every leaf is a scalar (string, float64, bool, nil) or
// an opaque list. Leaves are addressed by dot-delimited paths such as
// "system.site.name". The tree is the single in-memory shape shared by the
// file store, the snapshot store, the diff engine, and live state. All of
// them exchange *Tree values and never re-parse each other's output.
//
// # Ordering
//
// Each node preserves key insertion order. Order is NOT semantically
// significant: Equal ignores it, and two trees that differ only in sibling
// order are equal. Order IS the serialization contract: MarshalJSON emits
// keys in insertion order so that writing an unchanged tree is a
// byte-identical no-op, which version-control tooling depends on.
//
// # Value Normalization
//
// Set normalizes values on the way in:
//   - all numeric types become float64 (matching JSON decoding)
//   - map[string]any becomes a nested *Node with sorted keys
//   - *Node values are deep-copied, never aliased
//   - list elements are normalized recursively; the list itself stays an
//     opaque leaf compared by deep equality
//
// Keys must not contain the path delimiter "."; violations are invalid-class
// errors.
//
// # Merging
//
// Merge folds one tree into another under a policy:
//   - OverwriteScalars: last writer wins at any colliding path. Used when
//     merging file fragments into a single tree.
//   - FailOnConflict: the first colliding path (deterministic pre-order)
//     is reported as *ConflictError. Used to prove two fragments have no
//     overlapping ownership.
//
// # JSON Round-Trips
//
// ParseNode decodes a JSON object with a token decoder so document key
// order survives; numbers decode to float64; duplicate keys are rejected.
// Parse failures carry a byte offset (*DecodeError) that the file store
// translates to a line number.
//
// # Error Classification
//
// Following the errors package patterns:
//   - errors.ErrNotFound: Get/Remove on a missing path
//   - WrapInvalid: bad keys, bad paths, type mismatches, unsupported values
//   - *ConflictError: merge policy violation, never silently resolved
package configtree
