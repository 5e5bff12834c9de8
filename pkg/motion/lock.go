// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"runtime"
	"sync/atomic"
)

// stepLock excludes the step interrupt. It is held for the whole of an
// interrupt and by task code only for list splices, so waiters spin rather
// than park.
type stepLock struct {
	held atomic.Bool
}

func (l *stepLock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *stepLock) Unlock() {
	l.held.Store(false)
}

// TryLock takes the lock if it is free
func (l *stepLock) TryLock() bool {
	return l.held.CompareAndSwap(false, true)
}
