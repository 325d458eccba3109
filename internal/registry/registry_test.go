package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryKeepsKeyOrder(t *testing.T) {
	t.Parallel()
	r := New[int, string]()
	assert.True(t, r.Add(30, "c"))
	assert.True(t, r.Add(10, "a"))
	assert.True(t, r.Add(20, "b"))
	assert.False(t, r.Add(20, "B"), "replacing is not an insert")

	assert.Equal(t, []int{10, 20, 30}, r.Keys())
	assert.Equal(t, []string{"a", "B", "c"}, r.Values())

	v, ok := r.Find(func(s string) bool { return s > "a" })
	assert.True(t, ok)
	assert.Equal(t, "B", v)
}

func TestRegistryRemoveAndClone(t *testing.T) {
	t.Parallel()
	r := New[int, string]()
	r.Add(1, "x")
	r.Add(2, "y")

	snapshot := r.Clone()
	assert.True(t, r.Remove(1))
	assert.False(t, r.Remove(1))

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 2, snapshot.Len(), "clone is independent")
	assert.True(t, snapshot.Has(1))

	r.Clear()
	assert.Zero(t, r.Len())
	_, ok := r.Get(2)
	assert.False(t, ok)
}
