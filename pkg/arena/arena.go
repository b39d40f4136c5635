// Package arena provides a bump allocator with a fixed byte budget for
// short-lived object graphs such as a parse tree.
//
// Objects are stored in typed slabs and addressed by index handles (Ref)
// rather than pointers. Every allocation is charged against the owning
// Arena: the offset is rounded up to the alignment of the element type,
// advanced by its size, and checked against the capacity. There is no
// per-object free; Release drops everything at once.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

// DefaultCapacity is the budget used for one compilation unless overridden.
const DefaultCapacity = 4 * 1024 * 1024

var (
	// ErrExhausted is returned when an allocation would exceed the capacity.
	ErrExhausted = errors.New("arena exhausted")
	// ErrReleased is returned when allocating from a released arena.
	ErrReleased = errors.New("arena released")
)

// noCopy may be embedded into structs which must not be copied after first
// use. go vet's copylocks check reports copies.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Arena tracks the byte budget shared by all slabs created from it.
// Always pass it around as *Arena.
type Arena struct {
	noCopy noCopy

	capacity uintptr
	offset   uintptr
	released bool
	slabs    []releaser
}

type releaser interface {
	release()
}

// New returns an arena with the given capacity in bytes. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Arena {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Arena{capacity: uintptr(capacity)}
}

// Cap returns the capacity in bytes.
func (a *Arena) Cap() int { return int(a.capacity) }

// Used returns the number of bytes consumed so far, alignment padding included.
func (a *Arena) Used() int { return int(a.offset) }

// Released reports whether Release has been called.
func (a *Arena) Released() bool { return a.released }

// Release frees every object allocated from the arena. Further allocations
// fail with ErrReleased and reads through existing handles panic.
// Calling Release more than once is a no-op.
func (a *Arena) Release() {
	if a.released {
		return
	}
	for _, s := range a.slabs {
		s.release()
	}
	a.slabs = nil
	a.released = true
}

// reserve charges size bytes aligned to align against the budget.
func (a *Arena) reserve(size, align uintptr) error {
	if a.released {
		return ErrReleased
	}
	start := alignUp(a.offset, align)
	if start < a.offset || start+size < start || start+size > a.capacity {
		return fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrExhausted, size, start, a.capacity)
	}
	a.offset = start + size
	return nil
}

func alignUp(off, align uintptr) uintptr {
	if align <= 1 {
		return off
	}
	return (off + align - 1) &^ (align - 1)
}

// Ref is a handle to an object stored in a Slab. The zero Ref is nil.
type Ref[T any] struct {
	i uint32
}

// IsNil reports whether r refers to nothing.
func (r Ref[T]) IsNil() bool { return r.i == 0 }

// Index returns the zero-based position of the object in its slab, or -1
// for the nil handle.
func (r Ref[T]) Index() int { return int(r.i) - 1 }

// Slab is a dense typed store whose memory is charged to an Arena.
type Slab[T any] struct {
	arena *Arena
	items []T
}

// NewSlab registers a new slab for element type T with a.
func NewSlab[T any](a *Arena) *Slab[T] {
	s := &Slab[T]{arena: a}
	a.slabs = append(a.slabs, s)
	return s
}

// New stores v and returns a handle to it.
func (s *Slab[T]) New(v T) (Ref[T], error) {
	var zero T
	if err := s.arena.reserve(unsafe.Sizeof(zero), unsafe.Alignof(zero)); err != nil {
		return Ref[T]{}, err
	}
	s.items = append(s.items, v)
	return Ref[T]{i: uint32(len(s.items))}, nil
}

// Get returns the object r refers to. It panics on a nil or foreign handle
// and after the owning arena has been released.
func (s *Slab[T]) Get(r Ref[T]) T {
	if s.arena.released {
		panic("arena: read after release")
	}
	if r.i == 0 || int(r.i) > len(s.items) {
		panic(fmt.Sprintf("arena: invalid handle %d (slab holds %d)", r.i, len(s.items)))
	}
	return s.items[r.i-1]
}

// Len returns the number of objects stored.
func (s *Slab[T]) Len() int { return len(s.items) }

func (s *Slab[T]) release() {
	clear(s.items)
	s.items = nil
}
