package generics

import (
	"cmp"
	"slices"

	"golang.org/x/exp/maps"
)

// Set is a map[T]struct{}-backed unique set of items.
type Set[T cmp.Ordered] map[T]struct{}

// NewSet returns a new Set with elements `es`.
func NewSet[T cmp.Ordered](es ...T) Set[T] {
	s := make(Set[T], len(es))
	s.Add(es...)
	return s
}

// Add adds elements `es` to the Set.
func (s Set[T]) Add(es ...T) {
	for _, e := range es {
		s[e] = struct{}{}
	}
}

// Contains returns true if the Set contains `e`.
func (s Set[T]) Contains(e T) bool {
	_, ok := s[e]
	return ok
}

// Sorted returns the unique elements of the Set in ascending order.
func (s Set[T]) Sorted() []T {
	keys := maps.Keys(s)
	slices.Sort(keys)
	return keys
}

// Equal reports whether both sets hold exactly the same members.
func (s Set[T]) Equal(b Set[T]) bool {
	if len(s) != len(b) {
		return false
	}
	for v := range s {
		if !b.Contains(v) {
			return false
		}
	}
	return true
}
