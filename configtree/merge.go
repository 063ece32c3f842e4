package configtree

import "fmt"

// MergePolicy controls how Merge resolves two values at the same path.
type MergePolicy int

const (
	// OverwriteScalars replaces the destination value whenever the source
	// defines the same path and at least one side is a leaf (last writer
	// wins). Used during normal file-load merging.
	OverwriteScalars MergePolicy = iota

	// FailOnConflict reports a *ConflictError for the first path where both
	// trees define a value and at least one side is a leaf. Used to validate
	// that independently edited fragments have no overlapping ownership.
	FailOnConflict
)

// String returns the policy name.
func (p MergePolicy) String() string {
	switch p {
	case OverwriteScalars:
		return "overwrite-scalars"
	case FailOnConflict:
		return "fail-on-conflict"
	default:
		return "unknown"
	}
}

// ConflictError reports the first colliding path found while merging two
// trees under FailOnConflict. Collisions are never silently resolved.
type ConflictError struct {
	// Path is the colliding tree path, in deterministic pre-order of the
	// source tree.
	Path string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict at path %q", e.Path)
}

// Merge merges other into t according to policy. Source siblings keep their
// insertion order when added; keys already present in t keep their existing
// position. Both nodes at the same path merge recursively; a collision is
// any shared path where at least one side is a leaf. Merging a nil tree is
// a no-op.
func (t *Tree) Merge(other *Tree, policy MergePolicy) error {
	if other == nil {
		return nil
	}
	return mergeNode(t.root, other.root, "", policy)
}

func mergeNode(dst, src *Node, prefix string, policy MergePolicy) error {
	for _, key := range src.keys {
		sv := src.values[key]
		path := key
		if prefix != "" {
			path = prefix + PathDelimiter + key
		}

		dv, exists := dst.Value(key)
		if !exists {
			dst.setValue(key, cloneValue(sv))
			continue
		}

		dn, dstIsNode := dv.(*Node)
		sn, srcIsNode := sv.(*Node)
		if dstIsNode && srcIsNode {
			if err := mergeNode(dn, sn, path, policy); err != nil {
				return err
			}
			continue
		}

		if policy == FailOnConflict {
			return &ConflictError{Path: path}
		}
		dst.setValue(key, cloneValue(sv))
	}
	return nil
}
