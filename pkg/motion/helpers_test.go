package motion

import (
	"testing"

	"github.com/stretchr/testify/require"

	"reprap-motion/pkg/steptimer"
)

type testRig struct {
	m       *Move
	src     *steptimer.SimSource
	drivers *SimulatedDrivers
}

func newTestRig(t *testing.T, opts Options) *testRig {
	t.Helper()
	src := steptimer.NewSimSource(1000)
	opts.Timer = steptimer.New(src)
	drivers := NewSimulatedDrivers(MaxPhysicalDrives)
	opts.Drivers = drivers
	m, err := NewMove(opts)
	require.NoError(t, err)
	return &testRig{m: m, src: src, drivers: drivers}
}

// runInterrupts jumps the clock to each scheduled step interrupt and runs
// it until nothing more is scheduled. It returns the times it fired at.
func (r *testRig) runInterrupts(t *testing.T, limit int) []uint32 {
	t.Helper()
	var fired []uint32
	for i := 0; i < limit; i++ {
		when, armed := r.m.timer.Scheduled()
		if !armed {
			return fired
		}
		r.src.Set(when + r.m.timer.MovementDelay())
		require.True(t, r.m.timer.Fire())
		fired = append(fired, when)
	}
	t.Fatalf("step interrupts still scheduled after %d runs", limit)
	return fired
}

// runRing spins a ring in real time, jumping the clock to each step
// interrupt or on by a millisecond when none is due, until the ring is
// empty and every drive has stopped. visit, if not nil, is called after
// each spin.
func (r *testRig) runRing(t *testing.T, ring *DDARing, limit int, visit func()) {
	t.Helper()
	for i := 0; i < limit; i++ {
		ring.Spin(SimOff, false, true)
		if visit != nil {
			visit()
		}
		if ring.IsIdle() && !r.m.HasActiveDMs() {
			return
		}
		if e := r.m.LastStepError(); e != nil {
			t.Fatalf("step error: %v", e)
		}
		if when, armed := r.m.timer.Scheduled(); armed {
			r.src.Set(when + r.m.timer.MovementDelay())
			require.True(t, r.m.timer.Fire())
		} else {
			r.src.Advance(StepClockRate / 1000)
		}
	}
	t.Fatalf("ring still busy after %d passes", limit)
}

// startDrive attaches a segment list to an idle drive the way
// AddLinearSegments does
func (r *testRig) startDrive(drive int, segs *MoveSegment) {
	m := r.m
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	dm := &m.dms[drive]
	dm.segments = segs
	dm.positionAtMoveStart = dm.currentMotorPosition
	if dm.ScheduleFirstSegment() {
		m.insertDM(dm)
		if m.activeDMs == dm && m.scheduleNextStepInterrupt() {
			m.interruptLocked()
		}
	}
}

func xMove(x, feedRate float64, filePos FilePosition) RawMove {
	var rm RawMove
	rm.SetDefaults(0)
	rm.Coords[0] = x
	rm.FeedRate = feedRate
	rm.FilePos = filePos
	return rm
}

func xyMove(x, y, feedRate float64) RawMove {
	rm := xMove(x, feedRate, NoFilePosition)
	rm.Coords[1] = y
	return rm
}
