package configtree

import (
	"fmt"
	"math"
	"strings"

	"github.com/c360/confsync/errors"
)

// Tree is a rooted Node representing an entire configuration at one point
// in time. Trees are compared by path-by-path structural equality, never by
// reference identity.
//
// A Tree is not safe for concurrent mutation; callers enforce a
// single-writer discipline. Concurrent reads are safe once writers are
// quiesced.
type Tree struct {
	root *Node
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{root: NewNode()}
}

// FromNode wraps an existing node as a tree root. The node is used directly,
// not copied; callers that need isolation should Clone first. A nil node
// yields an empty tree.
func FromNode(root *Node) *Tree {
	if root == nil {
		root = NewNode()
	}
	return &Tree{root: root}
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Get returns the value at path. Missing paths, and paths that descend
// through a leaf, report errors.ErrNotFound.
func (t *Tree) Get(path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	cur := t.root
	for i, part := range parts {
		v, ok := cur.Value(part)
		if !ok {
			return nil, fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
		}
		if i == len(parts)-1 {
			return v, nil
		}
		child, isNode := v.(*Node)
		if !isNode {
			return nil, fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
		}
		cur = child
	}
	return nil, fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
}

// GetString returns the string at path.
func (t *Tree) GetString(path string) (string, error) {
	v, err := t.Get(path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.WrapInvalid(errors.ErrTypeMismatch, "Tree", "GetString",
			fmt.Sprintf("path %q holds %T, want string", path, v))
	}
	return s, nil
}

// GetBool returns the bool at path.
func (t *Tree) GetBool(path string) (bool, error) {
	v, err := t.Get(path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.WrapInvalid(errors.ErrTypeMismatch, "Tree", "GetBool",
			fmt.Sprintf("path %q holds %T, want bool", path, v))
	}
	return b, nil
}

// GetFloat returns the number at path. All numbers are stored as float64.
func (t *Tree) GetFloat(path string) (float64, error) {
	v, err := t.Get(path)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.WrapInvalid(errors.ErrTypeMismatch, "Tree", "GetFloat",
			fmt.Sprintf("path %q holds %T, want number", path, v))
	}
	return f, nil
}

// GetInt returns the number at path as an int. Numbers with a fractional
// component are a type mismatch.
func (t *Tree) GetInt(path string) (int, error) {
	f, err := t.GetFloat(path)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, errors.WrapInvalid(errors.ErrTypeMismatch, "Tree", "GetInt",
			fmt.Sprintf("path %q holds non-integral number %v", path, f))
	}
	return int(f), nil
}

// GetNode returns the nested node at path.
func (t *Tree) GetNode(path string) (*Node, error) {
	v, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*Node)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrTypeMismatch, "Tree", "GetNode",
			fmt.Sprintf("path %q holds %T, want nested node", path, v))
	}
	return n, nil
}

// Set stores value at path, creating intermediate nodes as needed. An
// intermediate that currently holds a scalar or list is replaced by a node
// (last writer wins). Values are normalized: numeric types become float64,
// map[string]any becomes a nested node with sorted keys, *Node values are
// deep-copied.
func (t *Tree) Set(path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	cur := t.root
	for _, part := range parts[:len(parts)-1] {
		v, ok := cur.Value(part)
		child, isNode := v.(*Node)
		if !ok || !isNode {
			child = NewNode()
			cur.setValue(part, child)
		}
		cur = child
	}
	cur.setValue(parts[len(parts)-1], norm)
	return nil
}

// Remove deletes the value (or whole subtree) at path. Removing a missing
// path reports errors.ErrNotFound. Emptied parent nodes are kept; an empty
// section is still a section.
func (t *Tree) Remove(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	cur := t.root
	for _, part := range parts[:len(parts)-1] {
		v, ok := cur.Value(part)
		if !ok {
			return fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
		}
		child, isNode := v.(*Node)
		if !isNode {
			return fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
		}
		cur = child
	}
	if !cur.Delete(parts[len(parts)-1]) {
		return fmt.Errorf("path %q: %w", path, errors.ErrNotFound)
	}
	return nil
}

// Walk visits every leaf in deterministic pre-order (sibling insertion
// order, parents before children). Nested nodes are traversed, not visited;
// lists are leaves. Walk stops early when fn returns false.
func (t *Tree) Walk(fn func(path string, value any) bool) {
	t.root.walk("", fn)
}

func (n *Node) walk(prefix string, fn func(path string, value any) bool) bool {
	for _, k := range n.keys {
		v := n.values[k]
		path := k
		if prefix != "" {
			path = prefix + PathDelimiter + k
		}
		if child, ok := v.(*Node); ok {
			if !child.walk(path, fn) {
				return false
			}
			continue
		}
		if !fn(path, v) {
			return false
		}
	}
	return true
}

// Len returns the number of leaf paths in the tree.
func (t *Tree) Len() int {
	count := 0
	t.Walk(func(string, any) bool {
		count++
		return true
	})
	return count
}

// Equal reports structural equality with other, ignoring sibling order.
func (t *Tree) Equal(other *Tree) bool {
	if other == nil {
		return false
	}
	return t.root.Equal(other.root)
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{root: t.root.Clone()}
}

// JoinPath joins path segments with the path delimiter. Empty segments are
// skipped so JoinPath("", "system") == "system".
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, PathDelimiter)
}

// SplitPath splits a path into its key segments, validating that the path
// is non-empty and contains no empty segments.
func SplitPath(path string) ([]string, error) {
	return splitPath(path)
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidPath, "Tree", "SplitPath",
			"path cannot be empty")
	}
	parts := strings.Split(path, PathDelimiter)
	for _, p := range parts {
		if p == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidPath, "Tree", "SplitPath",
				fmt.Sprintf("path %q contains an empty segment", path))
		}
	}
	return parts, nil
}
