// Package slab implements a growable index->value container with O(1)
// insert/remove and stable ids until remove, mirroring the slab discipline
// the host uses for every guest-visible handle (file, stream, buffer,
// callback registration): a small integer index, never a pointer, safe to
// reuse only after an explicit close.
package slab

// Slab holds values addressable by a uint32 id. A removed id is added to
// a free list and will be handed out again by a later Insert, which is
// exactly the reuse-after-close behavior the guest ABI relies on.
type Slab[T any] struct {
	entries []entry[T]
	free    []uint32
}

type entry[T any] struct {
	value    T
	occupied bool
}

// New returns an empty Slab.
func New[T any]() *Slab[T] {
	return &Slab[T]{}
}

// Insert stores v and returns its id.
func (s *Slab[T]) Insert(v T) uint32 {
	if n := len(s.free); n > 0 {
		id := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[id] = entry[T]{value: v, occupied: true}
		return id
	}
	id := uint32(len(s.entries))
	s.entries = append(s.entries, entry[T]{value: v, occupied: true})
	return id
}

// Get returns the value stored at id, if any.
func (s *Slab[T]) Get(id uint32) (T, bool) {
	var zero T
	if int(id) >= len(s.entries) || !s.entries[id].occupied {
		return zero, false
	}
	return s.entries[id].value, true
}

// Take returns and removes the value at id in one step, used when a
// handle is closed, destroyed or consumed (file.close, tcp.destroy,
// tcp.take_buffer).
func (s *Slab[T]) Take(id uint32) (T, bool) {
	v, ok := s.Get(id)
	if !ok {
		return v, false
	}
	s.Remove(id)
	return v, true
}

// Set overwrites the value at an already-occupied id; it reports false,
// and stores nothing, if id is not occupied.
func (s *Slab[T]) Set(id uint32, v T) bool {
	if int(id) >= len(s.entries) || !s.entries[id].occupied {
		return false
	}
	s.entries[id].value = v
	return true
}

// Remove frees id, making it eligible for reuse by a later Insert.
func (s *Slab[T]) Remove(id uint32) bool {
	if int(id) >= len(s.entries) || !s.entries[id].occupied {
		return false
	}
	var zero T
	s.entries[id] = entry[T]{value: zero, occupied: false}
	s.free = append(s.free, id)
	return true
}

// Contains reports whether id currently holds a live value.
func (s *Slab[T]) Contains(id uint32) bool {
	return int(id) < len(s.entries) && s.entries[id].occupied
}

// Each calls fn for every occupied entry, in id order. fn must not mutate
// the slab.
func (s *Slab[T]) Each(fn func(id uint32, v T)) {
	for id, e := range s.entries {
		if e.occupied {
			fn(uint32(id), e.value)
		}
	}
}

// Len returns the number of occupied entries.
func (s *Slab[T]) Len() int {
	return len(s.entries) - len(s.free)
}
