//go:build linux

package steptimer

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicSource derives step ticks from CLOCK_MONOTONIC.
type MonotonicSource struct {
	baseNanos int64
}

// NewMonotonicSource creates a source whose tick 0 is now.
func NewMonotonicSource() *MonotonicSource {
	return &MonotonicSource{baseNanos: monotonicNanos()}
}

func (m *MonotonicSource) Now() uint32 {
	elapsed := monotonicNanos() - m.baseNanos
	return DurationToTicks(time.Duration(elapsed))
}

func monotonicNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(err)
	}
	return ts.Nano()
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpu. Used for the goroutine running the step callback.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
