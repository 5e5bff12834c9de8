//go:build !linux

package steptimer

import (
	"errors"
	"time"
)

// MonotonicSource derives step ticks from the runtime monotonic clock.
type MonotonicSource struct {
	base time.Time
}

// NewMonotonicSource creates a source whose tick 0 is now.
func NewMonotonicSource() *MonotonicSource {
	return &MonotonicSource{base: time.Now()}
}

func (m *MonotonicSource) Now() uint32 {
	return DurationToTicks(time.Since(m.base))
}

// PinCurrentThread is only supported on linux.
func PinCurrentThread(cpu int) error {
	return errors.New("steptimer: CPU pinning is not supported on this platform")
}
