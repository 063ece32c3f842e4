package diff

import (
	"fmt"

	"github.com/c360/confsync/configtree"
)

// Kind identifies the type of a change operation.
type Kind string

const (
	// KindAdd introduces a value at a path absent from the old tree.
	KindAdd Kind = "add"
	// KindUpdate replaces the value at an existing path. A leaf↔node type
	// change is a single Update carrying the whole replacement, never a
	// Remove+Add pair.
	KindUpdate Kind = "update"
	// KindRemove deletes the value (or whole subtree) at a path.
	KindRemove Kind = "remove"
)

// Op is one change produced by diffing two trees. Old is set for Update and
// Remove; New is set for Add and Update. Subtree changes carry the whole
// *configtree.Node in Old/New. Values are deep copies and never alias the
// diffed trees.
type Op struct {
	Kind Kind
	Path string
	Old  any
	New  any
}

// String renders the op for logs and error messages.
func (o Op) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Path)
}

// Diff computes the ordered change set that transforms tree a into tree b.
//
// Ordering contract: ops are emitted in pre-order of the path namespace.
// Within one node: Removes first (old sibling order), then common keys (a
// node/node pair recurses, a changed leaf yields one Update), then Adds
// (new sibling order). Removes for a subtree therefore always precede Adds
// that reintroduce values at overlapping paths, so an apply pass never
// passes through a transient duplicate-key state.
//
// Diffing equal trees yields nil.
func Diff(a, b *configtree.Tree) []Op {
	var ops []Op
	diffNodes(a.Root(), b.Root(), "", &ops)
	return ops
}

func diffNodes(oldNode, newNode *configtree.Node, prefix string, ops *[]Op) {
	// Removes first, in old sibling order.
	for _, key := range oldNode.Keys() {
		if newNode.Has(key) {
			continue
		}
		oldVal, _ := oldNode.Value(key)
		*ops = append(*ops, Op{
			Kind: KindRemove,
			Path: childPath(prefix, key),
			Old:  configtree.CloneValue(oldVal),
		})
	}

	// Common keys, in old sibling order.
	for _, key := range oldNode.Keys() {
		newVal, ok := newNode.Value(key)
		if !ok {
			continue
		}
		oldVal, _ := oldNode.Value(key)
		path := childPath(prefix, key)

		oldChild, oldIsNode := oldVal.(*configtree.Node)
		newChild, newIsNode := newVal.(*configtree.Node)
		switch {
		case oldIsNode && newIsNode:
			diffNodes(oldChild, newChild, path, ops)
		case !oldIsNode && !newIsNode:
			if !configtree.ValueEqual(oldVal, newVal) {
				*ops = append(*ops, Op{
					Kind: KindUpdate,
					Path: path,
					Old:  configtree.CloneValue(oldVal),
					New:  configtree.CloneValue(newVal),
				})
			}
		default:
			// Type changed (leaf↔node): one Update carrying the whole
			// replacement, so per-child removal notifications never fire
			// for a path that logically still exists.
			*ops = append(*ops, Op{
				Kind: KindUpdate,
				Path: path,
				Old:  configtree.CloneValue(oldVal),
				New:  configtree.CloneValue(newVal),
			})
		}
	}

	// Adds last, in new sibling order.
	for _, key := range newNode.Keys() {
		if oldNode.Has(key) {
			continue
		}
		newVal, _ := newNode.Value(key)
		*ops = append(*ops, Op{
			Kind: KindAdd,
			Path: childPath(prefix, key),
			New:  configtree.CloneValue(newVal),
		})
	}
}

func childPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + configtree.PathDelimiter + key
}
