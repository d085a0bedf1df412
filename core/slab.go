package core

import "fmt"

// handle is a generational reference into a slab: the low 32 bits hold
// slot+1, the high 32 bits the slot generation at allocation time.
// A zero handle never resolves.
type handle uint64

func makeHandle(slot int32, gen uint32) handle {
	return handle(uint64(gen)<<32 | uint64(uint32(slot)+1))
}

func (h handle) slot() int32 { return int32(uint32(h)) - 1 }
func (h handle) gen() uint32 { return uint32(h >> 32) }

func (h handle) String() string {
	if h == 0 {
		return "none"
	}
	return fmt.Sprintf("%d.%d", h.slot(), h.gen())
}

type slabEntry[T any] struct {
	gen   uint32
	used  bool
	value T
}

// slab is a fixed-capacity arena of records addressed by generational
// handles. Every allocation increments the slot generation, so a handle to
// a released record never resolves again, even after the slot is reused.
// slab is not safe for concurrent use; the kernel lock guards it.
type slab[T any] struct {
	entries []slabEntry[T]
	free    []int32
	used    int
}

func newSlab[T any](capacity int) *slab[T] {
	if capacity < 0 {
		capacity = 0
	}
	s := &slab[T]{
		entries: make([]slabEntry[T], capacity),
		free:    make([]int32, 0, capacity),
	}
	// Pop from the tail, so push in reverse to hand out low slots first.
	for i := capacity - 1; i >= 0; i-- {
		s.free = append(s.free, int32(i))
	}
	return s
}

// allocate reserves a zeroed record and returns its slot and handle.
func (s *slab[T]) allocate() (int32, handle, *T, error) {
	n := len(s.free)
	if n == 0 {
		return -1, 0, nil, ErrOutOfResources
	}
	idx := s.free[n-1]
	s.free = s.free[:n-1]

	e := &s.entries[idx]
	e.gen++
	e.used = true
	s.used++
	return idx, makeHandle(idx, e.gen), &e.value, nil
}

// lookup resolves a handle to its live record.
func (s *slab[T]) lookup(h handle) (*T, bool) {
	idx := h.slot()
	if h == 0 || idx < 0 || int(idx) >= len(s.entries) {
		return nil, false
	}
	e := &s.entries[idx]
	if !e.used || e.gen != h.gen() {
		return nil, false
	}
	return &e.value, true
}

// at returns the record in slot idx without generation checks. Used for
// ring traversal where links are slot indices of live records.
func (s *slab[T]) at(idx int32) *T {
	return &s.entries[idx].value
}

// release frees the slot behind h and zeroes its record.
func (s *slab[T]) release(h handle) bool {
	if _, ok := s.lookup(h); !ok {
		return false
	}
	idx := h.slot()
	e := &s.entries[idx]
	var zero T
	e.value = zero
	e.used = false
	s.free = append(s.free, idx)
	s.used--
	return true
}

func (s *slab[T]) len() int { return s.used }
func (s *slab[T]) cap() int { return len(s.entries) }
