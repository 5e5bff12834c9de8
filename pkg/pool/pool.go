// Pre-sized free-list allocation for objects used on the step path
//
// A FreeList hands out pointers to objects of one type and takes them back
// for reuse. Objects are created up front so that steady-state operation
// never reaches the garbage collector; when the list runs dry it grows by
// allocating, and the growth is counted so that diagnostics can report an
// undersized pool.
//
// Usage:
//
//	segs := pool.NewFreeList(200, func(s *Segment) { *s = Segment{} })
//	s := segs.Get()
//	defer segs.Put(s)
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"sync"
)

// FreeList is a mutex-guarded stack of reusable objects
type FreeList[T any] struct {
	mu        sync.Mutex
	free      []*T
	reset     func(*T)
	allocated int
	inUse     int
	highWater int
	grown     int
}

// NewFreeList creates a free list holding prealloc ready objects.
// reset, when non-nil, is applied to each object as it is returned.
func NewFreeList[T any](prealloc int, reset func(*T)) *FreeList[T] {
	fl := &FreeList[T]{
		free:  make([]*T, 0, prealloc),
		reset: reset,
	}
	block := make([]T, prealloc)
	for i := range block {
		fl.free = append(fl.free, &block[i])
	}
	fl.allocated = prealloc
	return fl
}

// Get takes an object from the list, allocating if it is empty
func (fl *FreeList[T]) Get() *T {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	var obj *T
	if n := len(fl.free); n > 0 {
		obj = fl.free[n-1]
		fl.free[n-1] = nil
		fl.free = fl.free[:n-1]
	} else {
		obj = new(T)
		fl.allocated++
		fl.grown++
	}
	fl.inUse++
	if fl.inUse > fl.highWater {
		fl.highWater = fl.inUse
	}
	return obj
}

// Put returns an object to the list
func (fl *FreeList[T]) Put(obj *T) {
	if obj == nil {
		return
	}
	if fl.reset != nil {
		fl.reset(obj)
	}
	fl.mu.Lock()
	fl.free = append(fl.free, obj)
	fl.inUse--
	fl.mu.Unlock()
}

// Stats is a snapshot of free list usage
type Stats struct {
	Allocated int // objects ever created
	InUse     int // objects handed out and not yet returned
	HighWater int // maximum simultaneous InUse
	Grown     int // allocations made because the list was empty
}

// Stats returns current usage figures
func (fl *FreeList[T]) Stats() Stats {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return Stats{
		Allocated: fl.allocated,
		InUse:     fl.inUse,
		HighWater: fl.highWater,
		Grown:     fl.grown,
	}
}

// ResetHighWater sets the high-water mark back to the current usage
func (fl *FreeList[T]) ResetHighWater() {
	fl.mu.Lock()
	fl.highWater = fl.inUse
	fl.mu.Unlock()
}
