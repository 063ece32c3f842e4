package configtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/errors"
)

// Test node key operations preserve insertion order
func TestNode_InsertionOrder(t *testing.T) {
	n := NewNode()
	require.NoError(t, n.Set("zebra", 1))
	require.NoError(t, n.Set("apple", 2))
	require.NoError(t, n.Set("mango", 3))

	assert.Equal(t, []string{"zebra", "apple", "mango"}, n.Keys())
	assert.Equal(t, 3, n.Len())

	// Replacing a value keeps the key's position
	require.NoError(t, n.Set("apple", 42))
	assert.Equal(t, []string{"zebra", "apple", "mango"}, n.Keys())

	v, ok := n.Value("apple")
	require.True(t, ok)
	assert.Equal(t, float64(42), v)
}

func TestNode_Delete(t *testing.T) {
	n := NewNode()
	require.NoError(t, n.Set("a", 1))
	require.NoError(t, n.Set("b", 2))
	require.NoError(t, n.Set("c", 3))

	assert.True(t, n.Delete("b"))
	assert.False(t, n.Delete("b")) // already gone
	assert.Equal(t, []string{"a", "c"}, n.Keys())
	assert.False(t, n.Has("b"))
}

// Test key validation rejects empty keys and delimiter-bearing keys
func TestNode_KeyValidation(t *testing.T) {
	n := NewNode()

	err := n.Set("", "value")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = n.Set("a.b", "value")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidKey)
}

// Test value normalization to canonical tree form
func TestNode_Normalization(t *testing.T) {
	n := NewNode()

	require.NoError(t, n.Set("int", 7))
	require.NoError(t, n.Set("int64", int64(8)))
	require.NoError(t, n.Set("float32", float32(1.5)))
	require.NoError(t, n.Set("uint", uint(9)))

	for key, want := range map[string]float64{
		"int": 7, "int64": 8, "float32": 1.5, "uint": 9,
	} {
		v, ok := n.Value(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}

	// map[string]any becomes a nested node with sorted keys
	require.NoError(t, n.Set("section", map[string]any{"b": 2, "a": 1}))
	v, _ := n.Value("section")
	child, ok := v.(*Node)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, child.Keys())

	// unsupported types are invalid
	err := n.Set("bad", struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

// Test that Set deep-copies *Node values instead of aliasing them
func TestNode_SetClonesNodes(t *testing.T) {
	inner := NewNode()
	require.NoError(t, inner.Set("x", 1))

	n := NewNode()
	require.NoError(t, n.Set("section", inner))

	// Mutating the original must not leak into the stored copy
	require.NoError(t, inner.Set("x", 2))

	v, _ := n.Value("section")
	stored := v.(*Node)
	x, _ := stored.Value("x")
	assert.Equal(t, float64(1), x)
}

func TestNode_Clone(t *testing.T) {
	n := NewNode()
	require.NoError(t, n.Set("name", "orig"))
	require.NoError(t, n.Set("nested", map[string]any{"deep": true}))
	require.NoError(t, n.Set("list", []any{1, "two"}))

	c := n.Clone()
	assert.True(t, n.Equal(c))

	// Mutations on the clone do not affect the original
	require.NoError(t, c.Set("name", "changed"))
	v, _ := n.Value("name")
	assert.Equal(t, "orig", v)

	cv, _ := c.Value("nested")
	require.NoError(t, cv.(*Node).Set("deep", false))
	nv, _ := n.Value("nested")
	deep, _ := nv.(*Node).Value("deep")
	assert.Equal(t, true, deep)
}

// Test structural equality ignores sibling order
func TestNode_EqualIgnoresOrder(t *testing.T) {
	a := NewNode()
	require.NoError(t, a.Set("first", 1))
	require.NoError(t, a.Set("second", 2))

	b := NewNode()
	require.NoError(t, b.Set("second", 2))
	require.NoError(t, b.Set("first", 1))

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	require.NoError(t, b.Set("second", 3))
	assert.False(t, a.Equal(b))
}

func TestNode_EqualLists(t *testing.T) {
	a := NewNode()
	require.NoError(t, a.Set("tags", []any{"x", 1, true}))

	b := NewNode()
	require.NoError(t, b.Set("tags", []any{"x", 1, true}))
	assert.True(t, a.Equal(b))

	// Element order inside a list is significant: lists are opaque leaves
	c := NewNode()
	require.NoError(t, c.Set("tags", []any{1, "x", true}))
	assert.False(t, a.Equal(c))

	// A list never equals a scalar or node
	d := NewNode()
	require.NoError(t, d.Set("tags", "x"))
	assert.False(t, a.Equal(d))
}

func TestNode_EqualNilValues(t *testing.T) {
	a := NewNode()
	require.NoError(t, a.Set("maybe", nil))

	b := NewNode()
	require.NoError(t, b.Set("maybe", nil))
	assert.True(t, a.Equal(b))

	c := NewNode()
	require.NoError(t, c.Set("maybe", false))
	assert.False(t, a.Equal(c))
}
