// Package diff computes and applies minimal ordered change sets between
// configuration trees.
//
// # Overview
//
// Diff(a, b) produces the Op sequence that transforms a into b; Apply runs
// that sequence against a Target (live state or a snapshot tree), firing a
// synchronous per-op callback. Together they satisfy the engine's central
// algebra: Apply(Diff(A, B), clone(A)) yields a tree equal to B.
//
// # Ordering
//
// Ops are emitted in pre-order of the path namespace. Per node: Removes in
// old sibling order, then common keys (recursing into node/node pairs,
// emitting one Update per changed leaf), then Adds in new sibling order.
// Removes always precede Adds at overlapping paths, and a leaf↔node type
// change is one Update carrying the whole replacement, never a Remove
// followed by an Add.
//
// # Failure Semantics
//
// Apply halts at the first failed mutation or callback and reports an
// *ApplyError naming the failing op, the ops applied before it, and the
// cause. No rollback is attempted; the regeneration coordinator reacts by
// skipping its subsequent persistence step so stores are never half
// updated.
package diff
