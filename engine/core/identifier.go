package core

import (
	"fmt"
	"sync"
)

// HandleTable hands out opaque, non-zero uint64 handles for backend objects.
// Released slots are reused by later acquisitions.
type HandleTable[T any] struct {
	mu     sync.Mutex
	owners []*T
}

func NewHandleTable[T any]() *HandleTable[T] {
	return &HandleTable[T]{
		owners: make([]*T, 0, 16),
	}
}

func (ht *HandleTable[T]) Acquire(owner T) uint64 {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	for i := range ht.owners {
		// Existing free spot. Take it.
		if ht.owners[i] == nil {
			ht.owners[i] = &owner
			return uint64(i) + 1
		}
	}
	ht.owners = append(ht.owners, &owner)
	return uint64(len(ht.owners))
}

func (ht *HandleTable[T]) Get(handle uint64) (T, bool) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	var zero T
	if handle == 0 || handle > uint64(len(ht.owners)) {
		return zero, false
	}
	o := ht.owners[handle-1]
	if o == nil {
		return zero, false
	}
	return *o, true
}

// MustGet is for handles that were produced by this table and not released yet.
func (ht *HandleTable[T]) MustGet(handle uint64) T {
	o, ok := ht.Get(handle)
	if !ok {
		panic(fmt.Sprintf("handle %d is not live", handle))
	}
	return o
}

func (ht *HandleTable[T]) Release(handle uint64) (T, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	var zero T
	if handle == 0 || handle > uint64(len(ht.owners)) {
		return zero, fmt.Errorf("handle '%d' out of range (max=%d)", handle, len(ht.owners))
	}
	o := ht.owners[handle-1]
	if o == nil {
		return zero, fmt.Errorf("handle '%d' already released", handle)
	}
	ht.owners[handle-1] = nil
	return *o, nil
}

func (ht *HandleTable[T]) Len() int {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	n := 0
	for _, o := range ht.owners {
		if o != nil {
			n++
		}
	}
	return n
}
