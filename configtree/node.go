package configtree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/confsync/errors"
)

// PathDelimiter separates keys in a tree path (e.g. "system.site.name").
const PathDelimiter = "."

// Node is an ordered mapping from key to value. A value is a scalar
// (string, float64, bool, nil), an opaque list ([]any), or a nested *Node.
// Keys are unique within a node; insertion order is preserved and drives
// serialization determinism, but is ignored by structural equality.
type Node struct {
	keys   []string
	values map[string]any
}

// NewNode creates an empty node.
func NewNode() *Node {
	return &Node{
		values: make(map[string]any),
	}
}

// Len returns the number of keys in the node.
func (n *Node) Len() int {
	return len(n.keys)
}

// Keys returns the node's keys in insertion order.
func (n *Node) Keys() []string {
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Has reports whether the node has a value for key.
func (n *Node) Has(key string) bool {
	_, ok := n.values[key]
	return ok
}

// Value returns the value stored under key and whether it exists.
func (n *Node) Value(key string) (any, bool) {
	v, ok := n.values[key]
	return v, ok
}

// Set stores value under key, normalizing it first (see Tree.Set for the
// normalization rules). Setting an existing key replaces its value in place
// without changing the key's position in the insertion order.
func (n *Node) Set(key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	n.setValue(key, norm)
	return nil
}

// setValue inserts an already-normalized value without validation.
func (n *Node) setValue(key string, value any) {
	if _, exists := n.values[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.values[key] = value
}

// Delete removes key from the node. Returns true if the key existed.
func (n *Node) Delete(key string) bool {
	if _, exists := n.values[key]; !exists {
		return false
	}
	delete(n.values, key)
	for i, k := range n.keys {
		if k == key {
			n.keys = append(n.keys[:i], n.keys[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := &Node{
		keys:   make([]string, len(n.keys)),
		values: make(map[string]any, len(n.values)),
	}
	copy(out.keys, n.keys)
	for k, v := range n.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

// Equal reports structural equality with other. Sibling order is ignored;
// two nodes are equal when they hold the same key set and every key maps to
// a structurally equal value.
func (n *Node) Equal(other *Node) bool {
	if other == nil {
		return false
	}
	if len(n.keys) != len(other.keys) {
		return false
	}
	for k, v := range n.values {
		ov, ok := other.values[k]
		if !ok || !valueEqual(v, ov) {
			return false
		}
	}
	return true
}

// validateKey rejects keys that would be unaddressable as path segments.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Node", "Set",
			"key cannot be empty")
	}
	if strings.Contains(key, PathDelimiter) {
		return errors.WrapInvalid(errors.ErrInvalidKey, "Node", "Set",
			fmt.Sprintf("key %q cannot contain path delimiter %q", key, PathDelimiter))
	}
	return nil
}

// normalizeValue converts a caller-supplied value into canonical tree form:
// numbers become float64, map[string]any becomes a *Node with sorted keys,
// *Node values are deep-copied so the tree never aliases caller state, and
// list elements are normalized recursively. Unsupported types are invalid.
func normalizeValue(v any) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64:
		return tv, nil
	case int:
		return float64(tv), nil
	case int8:
		return float64(tv), nil
	case int16:
		return float64(tv), nil
	case int32:
		return float64(tv), nil
	case int64:
		return float64(tv), nil
	case uint:
		return float64(tv), nil
	case uint8:
		return float64(tv), nil
	case uint16:
		return float64(tv), nil
	case uint32:
		return float64(tv), nil
	case uint64:
		return float64(tv), nil
	case float32:
		return float64(tv), nil
	case []any:
		out := make([]any, len(tv))
		for i, el := range tv {
			norm, err := normalizeValue(el)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	case []string:
		out := make([]any, len(tv))
		for i, el := range tv {
			out[i] = el
		}
		return out, nil
	case map[string]any:
		// Map iteration order is random, so sort keys to keep the
		// resulting node deterministic.
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		node := NewNode()
		for _, k := range keys {
			if err := node.Set(k, tv[k]); err != nil {
				return nil, err
			}
		}
		return node, nil
	case *Node:
		if tv == nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidValue, "Node", "normalizeValue",
				"nil *Node value")
		}
		return tv.Clone(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidValue, "Node", "normalizeValue",
			fmt.Sprintf("unsupported value type %T", v))
	}
}

// CloneValue deep-copies a normalized tree value: nodes and list elements
// are copied recursively, scalars are returned as-is.
func CloneValue(v any) any {
	return cloneValue(v)
}

// ValueEqual compares two normalized tree values structurally: nodes
// recurse, lists compare elementwise, scalars compare directly.
func ValueEqual(a, b any) bool {
	return valueEqual(a, b)
}

// cloneValue deep-copies an already-normalized value.
func cloneValue(v any) any {
	switch tv := v.(type) {
	case *Node:
		return tv.Clone()
	case []any:
		out := make([]any, len(tv))
		for i, el := range tv {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return tv
	}
}

// valueEqual compares two normalized values structurally. Lists compare
// elementwise, nodes recurse, scalars compare directly.
func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case *Node:
		bv, ok := b.(*Node)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	switch b.(type) {
	case *Node, []any:
		return false
	}
	return a == b
}
