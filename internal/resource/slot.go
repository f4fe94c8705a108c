package resource

import "sync"

// Slot holds a value that can be taken exactly once.
type Slot[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
}

// NewSlot returns a slot holding v.
func NewSlot[T any](v T) *Slot[T] {
	return &Slot[T]{value: v, full: true}
}

// Take empties the slot. The second return is false if the value was
// already taken.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if !s.full {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.full = false
	return v, true
}

// Full reports whether the value is still present.
func (s *Slot[T]) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full
}
