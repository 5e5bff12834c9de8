// Package steptimer provides the step clock used to time motor steps.
// Movement time is the raw clock minus an accumulated movement delay, so
// that pausing the queue (for example while a hiccup is absorbed) shifts
// every scheduled step later without rewriting any of them.
package steptimer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// StepClockRate is the step clock frequency in Hz
	StepClockRate = 750000

	// MinInterruptInterval is the closest a callback may be scheduled
	// before it is treated as already due
	MinInterruptInterval = (6 * StepClockRate) / 1000000

	// spinThreshold is how close to the deadline Run stops sleeping
	spinThreshold = StepClockRate / 5000
)

// Source supplies raw step clock ticks
type Source interface {
	Now() uint32
}

// Timer combines a tick source with the movement delay and a single
// scheduled step callback.
type Timer struct {
	src           Source
	movementDelay atomic.Uint32

	mu       sync.Mutex
	callback func()
	when     uint32
	armed    bool
	kick     chan struct{}
}

// New creates a Timer reading ticks from src.
func New(src Source) *Timer {
	return &Timer{
		src:  src,
		kick: make(chan struct{}, 1),
	}
}

// Ticks returns the raw step clock.
func (t *Timer) Ticks() uint32 {
	return t.src.Now()
}

// MovementTicks returns the step clock with the movement delay removed.
func (t *Timer) MovementTicks() uint32 {
	return t.src.Now() - t.movementDelay.Load()
}

// MovementDelay returns the accumulated movement delay in ticks.
func (t *Timer) MovementDelay() uint32 {
	return t.movementDelay.Load()
}

// IncreaseMovementDelay moves the movement clock back by ticks.
func (t *Timer) IncreaseMovementDelay(ticks uint32) {
	t.movementDelay.Add(ticks)
}

// SetCallback sets the function called when a scheduled time is reached.
func (t *Timer) SetCallback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = fn
}

// ScheduleMovementCallback arms the callback for movement time when.
// It returns true without arming anything if when is already due.
func (t *Timer) ScheduleMovementCallback(when uint32) bool {
	if int32(when-t.MovementTicks()) < MinInterruptInterval {
		return true
	}
	t.mu.Lock()
	t.when = when
	t.armed = true
	t.mu.Unlock()
	select {
	case t.kick <- struct{}{}:
	default:
	}
	return false
}

// CancelCallback disarms any scheduled callback.
func (t *Timer) CancelCallback() {
	t.mu.Lock()
	t.armed = false
	t.mu.Unlock()
}

// Scheduled reports the armed callback time, if any.
func (t *Timer) Scheduled() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.when, t.armed
}

// Fire runs the callback if it is armed and due, reporting whether it ran.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	if !t.armed || int32(t.when-t.MovementTicks()) > 0 {
		t.mu.Unlock()
		return false
	}
	t.armed = false
	fn := t.callback
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

// Run services the scheduled callback against a real-time source until ctx
// is cancelled. It sleeps while the deadline is far away and spins for the
// final stretch.
func (t *Timer) Run(ctx context.Context) {
	for {
		t.mu.Lock()
		when, armed := t.when, t.armed
		t.mu.Unlock()

		if !armed {
			select {
			case <-ctx.Done():
				return
			case <-t.kick:
			}
			continue
		}

		remaining := int32(when - t.MovementTicks())
		if remaining > spinThreshold {
			sleep := TicksToDuration(uint32(remaining - spinThreshold))
			tm := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				tm.Stop()
				return
			case <-t.kick:
				tm.Stop()
			case <-tm.C:
			}
			continue
		}
		if !t.Fire() {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// TicksToDuration converts step clock ticks to a time.Duration.
func TicksToDuration(ticks uint32) time.Duration {
	return time.Duration(uint64(ticks) * uint64(time.Second) / StepClockRate)
}

// DurationToTicks converts a duration to step clock ticks.
func DurationToTicks(d time.Duration) uint32 {
	// StepClockRate/1e9 == 3/4000
	return uint32(uint64(d) * 3 / 4000)
}

// SimSource is a manually driven tick source for simulation and tests.
type SimSource struct {
	ticks   atomic.Uint32
	perRead atomic.Uint32
}

// NewSimSource creates a simulated clock starting at start.
func NewSimSource(start uint32) *SimSource {
	s := &SimSource{}
	s.ticks.Store(start)
	return s
}

// Now returns the current tick and then advances it by the per-read cost.
func (s *SimSource) Now() uint32 {
	if d := s.perRead.Load(); d != 0 {
		return s.ticks.Add(d) - d
	}
	return s.ticks.Load()
}

// Set jumps the clock to t.
func (s *SimSource) Set(t uint32) { s.ticks.Store(t) }

// Advance moves the clock forward by d ticks.
func (s *SimSource) Advance(d uint32) { s.ticks.Add(d) }

// SetCostPerRead makes every read advance the clock, emulating time spent
// in the code that reads it.
func (s *SimSource) SetCostPerRead(d uint32) { s.perRead.Store(d) }
