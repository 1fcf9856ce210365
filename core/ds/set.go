// Package ds provides the ordered set used where iteration order must be
// deterministic, such as aggregate state and batched loads.
package ds

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Set keeps insertion order next to O(1) membership. Add, Remove and
// UnmarshalJSON mutate the receiver; everything else returns new values.
type Set[T comparable] struct {
	items map[T]struct{}
	order []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items)), order: make([]T, 0, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

func (s *Set[T]) String() string { return fmt.Sprintf("%v", s.order) }
func (s *Set[T]) Len() int       { return len(s.order) }
func (s *Set[T]) IsEmpty() bool  { return len(s.order) == 0 }

func (s *Set[T]) Contains(v T) bool {
	_, ok := s.items[v]
	return ok
}

// Add appends v unless it is present already.
func (s *Set[T]) Add(v T) {
	if s.items == nil {
		s.items = map[T]struct{}{}
	}
	if _, ok := s.items[v]; ok {
		return
	}
	s.items[v] = struct{}{}
	s.order = append(s.order, v)
}

func (s *Set[T]) Remove(vs ...T) {
	for _, v := range vs {
		if _, ok := s.items[v]; !ok {
			continue
		}
		delete(s.items, v)
		s.order = slices.DeleteFunc(s.order, func(o T) bool { return o == v })
	}
}

// Values returns a copy of the elements in insertion order.
func (s *Set[T]) Values() []T { return slices.Clone(s.order) }

func (s *Set[T]) MarshalJSON() ([]byte, error) {
	if s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *Set[T]) UnmarshalJSON(data []byte) error {
	var vs []T
	if err := json.Unmarshal(data, &vs); err != nil {
		return err
	}
	s.items, s.order = make(map[T]struct{}, len(vs)), make([]T, 0, len(vs))
	for _, v := range vs {
		s.Add(v)
	}
	return nil
}
