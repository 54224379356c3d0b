// Package set provides a generic set type.
package set

import (
	"cmp"
	"slices"
)

type Set[K comparable] map[K]struct{}

func From[K comparable](sl []K) Set[K] {
	result := make(Set[K], len(sl))

	for _, elem := range sl {
		result[elem] = struct{}{}
	}

	return result
}

func (s Set[K]) Add(k K) {
	s[k] = struct{}{}
}

func (s Set[K]) Remove(k K) {
	delete(s, k)
}

func (s Set[K]) Contains(k K) bool {
	_, exists := s[k]
	return exists
}

func (s Set[K]) Slice() []K {
	res := make([]K, 0, len(s))

	for k := range s {
		res = append(res, k)
	}

	return res
}

// Sorted returns the elements of s in ascending order.
func Sorted[K cmp.Ordered](s Set[K]) []K {
	res := s.Slice()
	slices.Sort(res)
	return res
}
