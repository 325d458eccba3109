// Package registry provides the handle keyed arenas the policy keeps its
// endpoints, patches, mixes and sources in. Iteration follows ascending key
// order so every routing decision is reproducible.
//
// A Registry is not safe for concurrent use. The policy manager serializes
// all access.
package registry

import (
	"cmp"
	"slices"
)

// Registry maps handles to descriptors.
type Registry[K cmp.Ordered, V any] struct {
	items map[K]V
	keys  []K // sorted
}

// New returns an empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Add stores v under k and reports whether k was new. An existing entry is
// replaced.
func (r *Registry[K, V]) Add(k K, v V) bool {
	if _, exists := r.items[k]; exists {
		r.items[k] = v
		return false
	}
	r.items[k] = v
	i, _ := slices.BinarySearch(r.keys, k)
	r.keys = slices.Insert(r.keys, i, k)
	return true
}

// Get returns the descriptor stored under k.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	v, ok := r.items[k]
	return v, ok
}

// Has reports whether k is registered.
func (r *Registry[K, V]) Has(k K) bool {
	_, ok := r.items[k]
	return ok
}

// Remove deletes k and reports whether it was present.
func (r *Registry[K, V]) Remove(k K) bool {
	if _, ok := r.items[k]; !ok {
		return false
	}
	delete(r.items, k)
	if i, found := slices.BinarySearch(r.keys, k); found {
		r.keys = slices.Delete(r.keys, i, i+1)
	}
	return true
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	return len(r.keys)
}

// Keys returns a copy of the keys in ascending order.
func (r *Registry[K, V]) Keys() []K {
	return slices.Clone(r.keys)
}

// Values returns the descriptors in key order. The returned slice is a
// snapshot, the registry may be modified while iterating it.
func (r *Registry[K, V]) Values() []V {
	out := make([]V, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.items[k])
	}
	return out
}

// Find returns the first descriptor in key order accepted by match.
func (r *Registry[K, V]) Find(match func(V) bool) (V, bool) {
	for _, k := range r.keys {
		if v := r.items[k]; match(v) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Clone returns a shallow copy sharing the descriptors.
func (r *Registry[K, V]) Clone() *Registry[K, V] {
	c := &Registry[K, V]{
		items: make(map[K]V, len(r.items)),
		keys:  slices.Clone(r.keys),
	}
	for k, v := range r.items {
		c.items[k] = v
	}
	return c
}

// Clear removes every entry.
func (r *Registry[K, V]) Clear() {
	clear(r.items)
	r.keys = r.keys[:0]
}
