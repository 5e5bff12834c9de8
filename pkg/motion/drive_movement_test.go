package motion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprap-motion/pkg/safety"
	"reprap-motion/pkg/steptimer"
)

func TestLinearSegmentStepTimes(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	start := m.timer.MovementTicks() + 1000

	seg := m.AddSegment(nil, start, 1000, 10, 0, FlagNoShaping, 0)
	rig.startDrive(0, seg)
	assert.Equal(t, DMStarting, m.dms[0].State())

	fired := rig.runInterrupts(t, 100)

	// The first interrupt starts the segment, then one step every 100 clocks
	require.Len(t, fired, 11)
	assert.Equal(t, start, fired[0])
	for k := 1; k <= 10; k++ {
		assert.Equal(t, start+uint32(100*k), fired[k], "step %d", k)
	}
	assert.Equal(t, int32(10), m.dms[0].CurrentMotorPosition())
	assert.Equal(t, int64(10), rig.drivers.Position(0))
	assert.Equal(t, DMIdle, m.dms[0].State())
	assert.False(t, m.HasActiveDMs())
	assert.Nil(t, m.LastStepError())
	assert.Equal(t, 0, m.segments.Stats().InUse)
}

func TestBackwardsLinearSegment(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	start := m.timer.MovementTicks() + 1000

	rig.startDrive(1, m.AddSegment(nil, start, 2000, -8, 0, FlagNoShaping, 0))
	rig.runInterrupts(t, 100)

	assert.Equal(t, int32(-8), m.dms[1].CurrentMotorPosition())
	assert.Equal(t, int64(-8), rig.drivers.Position(1))
	assert.False(t, rig.drivers.Forwards(1))
	assert.Nil(t, m.LastStepError())
}

// stepRecorder notes the direction and time of every pulse of driver 0
type stepRecorder struct {
	*SimulatedDrivers
	now   func() uint32
	dirs  []bool
	times []uint32
}

func (r *stepRecorder) StepHigh(mask uint32) {
	if mask&driverBit(0) != 0 {
		r.dirs = append(r.dirs, r.Forwards(0))
		r.times = append(r.times, r.now())
	}
	r.SimulatedDrivers.StepHigh(mask)
}

func TestDecelerationThroughReversal(t *testing.T) {
	rec := &stepRecorder{SimulatedDrivers: NewSimulatedDrivers(MaxPhysicalDrives)}
	src := steptimer.NewSimSource(1000)
	m, err := NewMove(Options{Timer: steptimer.New(src), Drivers: rec})
	require.NoError(t, err)
	rec.now = m.timer.MovementTicks
	rig := &testRig{m: m, src: src, drivers: rec.SimulatedDrivers}
	start := m.timer.MovementTicks() + 1000

	// u = 0.02 steps/clock, a = -4e-5: peaks at 5 steps after 500 clocks
	// and returns to the start
	const u, a = 0.02, -4e-5
	rig.startDrive(0, m.AddSegment(nil, start, 1000, 0, a, FlagNoShaping, 0))
	fired := rig.runInterrupts(t, 100)

	pulses, glitches := rig.drivers.Pulses()
	assert.Equal(t, uint64(8), pulses)
	assert.Zero(t, glitches)
	assert.Equal(t, int32(0), m.dms[0].CurrentMotorPosition())
	assert.Equal(t, int64(0), rig.drivers.Position(0))
	assert.Nil(t, m.LastStepError())
	for i := 1; i < len(fired); i++ {
		assert.GreaterOrEqual(t, fired[i], fired[i-1])
	}
	assert.LessOrEqual(t, fired[len(fired)-1], start+1000)

	// The reversal follows the last whole step before the peak
	tPeak := -u / a
	peak := -u * u / (2 * a)
	require.InDelta(t, 5, peak, 1e-9)
	rss := m.dms[0].reverseStartStep
	assert.Equal(t, int32(peak-0.2)+1, rss)

	// Forwards up to the reversal, then backwards, flipping once
	require.Len(t, rec.dirs, 8)
	flips := 0
	for i := range rec.dirs {
		forwards := i < int(rss)-1
		assert.Equal(t, forwards, rec.dirs[i], "pulse %d direction", i+1)
		if i > 0 && rec.dirs[i] != rec.dirs[i-1] {
			flips++
		}
		if forwards {
			assert.Less(t, float64(rec.times[i]-start), tPeak, "pulse %d before the peak", i+1)
		} else {
			assert.Greater(t, float64(rec.times[i]-start), tPeak, "pulse %d after the peak", i+1)
		}
	}
	assert.Equal(t, 1, flips)
}

func TestConsecutiveSegmentsConservePosition(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	start := m.timer.MovementTicks() + 1000

	// Accelerate, cruise and decelerate with fractional distances
	a := 2 * 12.4 / (1000.0 * 1000.0)
	list := m.AddSegment(nil, start, 1000, 12.4, a, FlagNoShaping, 0)
	list = m.AddSegment(list, start+1000, 2000, 49.6, 0, FlagNoShaping, 0)
	list = m.AddSegment(list, start+3000, 1000, 12.4, -a, FlagNoShaping, 0)
	rig.startDrive(0, list)
	rig.runInterrupts(t, 1000)

	require.Nil(t, m.LastStepError())
	assert.Equal(t, int32(74), m.dms[0].CurrentMotorPosition())
	assert.Equal(t, int64(74), rig.drivers.Position(0))
}

func TestCarriedForwardDistanceOutOfRangeHalts(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	start := m.timer.MovementTicks() + 1000

	m.dms[0].distanceCarriedForwards = 1.5
	rig.startDrive(0, m.AddSegment(nil, start, 1000, 10, 0, FlagNoShaping, 0))

	assert.Equal(t, StepErrorHalted, m.StepErrorState())
	e := m.LastStepError()
	require.NotNil(t, e)
	assert.Equal(t, uint8(5), e.Code)
	assert.Equal(t, 0, e.Drive)
	assert.InDelta(t, 1.5, e.Info, 1e-12)
	assert.True(t, m.dms[0].HasError())
	assert.True(t, m.safety.IsHalted())
	assert.Contains(t, m.GenerateMovementErrorDebug(), "DM0")

	_, armed := m.timer.Scheduled()
	assert.False(t, armed)
}

func TestPositionMismatchAtSegmentEndHalts(t *testing.T) {
	s := safety.New()
	rig := newTestRig(t, Options{Safety: s})
	m := rig.m

	// Starts straight away, first step 100 clocks later
	rig.startDrive(0, m.AddSegment(nil, m.timer.MovementTicks()+100, 1000, 10, 0, FlagNoShaping, 0))
	require.Equal(t, DMCartLinear, m.dms[0].State())

	// Two steps the segment never planned
	m.dms[0].currentMotorPosition += 2
	rig.runInterrupts(t, 100)

	e := m.LastStepError()
	require.NotNil(t, e)
	assert.Equal(t, uint8(6), e.Code)
	assert.Equal(t, 0, e.Drive)
	assert.InDelta(t, 2, e.Info, 1e-12)
	assert.Equal(t, StepErrorHalted, m.StepErrorState())
	assert.True(t, m.dms[0].HasError())

	reason, _, _ := s.GetShutdownInfo()
	assert.Equal(t, safety.ReasonStepError, reason)
	assert.True(t, s.IsHalted())

	// Nothing more is stepped and the move task stops
	_, armed := m.timer.Scheduled()
	assert.False(t, armed)
	pulses, _ := rig.drivers.Pulses()
	assert.Equal(t, uint64(10), pulses)

	var se *StepError
	require.ErrorAs(t, m.MoveLoop(context.Background()), &se)
	assert.Equal(t, uint8(6), se.Code)
}

func TestSafetyHaltCancelsStepping(t *testing.T) {
	halts := map[string]func(s *safety.Manager){
		"emergency stop": func(s *safety.Manager) { s.EmergencyStop("test") },
		"watchdog": func(s *safety.Manager) {
			s.SetWatchdogTimeout(10 * time.Millisecond)
			s.StartWatchdog(context.Background())
		},
	}
	for name, halt := range halts {
		t.Run(name, func(t *testing.T) {
			s := safety.New()
			rig := newTestRig(t, Options{Safety: s})
			m := rig.m
			halted := make(chan struct{})
			s.OnShutdown(func(safety.Reason, string) { close(halted) })

			start := m.timer.MovementTicks() + 1000
			list := m.AddSegment(nil, start, 1000, 10, 0, FlagNoShaping, 0)
			list = m.AddSegment(list, start+1000, 1000, 10, 0, FlagNoShaping, 0)
			rig.startDrive(0, list)
			require.True(t, m.HasActiveDMs())

			halt(s)
			select {
			case <-halted:
			case <-time.After(2 * time.Second):
				t.Fatal("machine did not halt")
			}
			s.StopWatchdog()

			assert.False(t, m.HasActiveDMs())
			assert.Equal(t, DMIdle, m.dms[0].State())
			_, armed := m.timer.Scheduled()
			assert.False(t, armed)
			assert.Equal(t, 0, m.segments.Stats().InUse)
			assert.Nil(t, m.LastStepError())
		})
	}
}

func TestResetStepError(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m

	m.dms[2].distanceCarriedForwards = -2
	rig.startDrive(2, m.AddSegment(nil, m.timer.MovementTicks()+1000, 1000, 10, 0, 0, 0))
	require.Equal(t, StepErrorHalted, m.StepErrorState())

	require.NoError(t, m.ResetStepError())
	assert.Equal(t, StepErrorNone, m.StepErrorState())
	assert.Nil(t, m.LastStepError())
	assert.False(t, m.safety.IsHalted())
}

func TestStopLogicalDriveReleasesSegments(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	start := m.timer.MovementTicks() + 1000

	list := m.AddSegment(nil, start, 1000, 10, 0, 0, 0)
	list = m.AddSegment(list, start+1000, 1000, 10, 0, 0, 0)
	rig.startDrive(0, list)
	require.True(t, m.HasActiveDMs())

	m.StopAxisOrExtruder(0)

	assert.False(t, m.HasActiveDMs())
	assert.True(t, m.AreDrivesStopped(1))
	assert.Equal(t, 0, m.segments.Stats().InUse)
}

func TestRemoteDriveTracksPosition(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m
	require.NoError(t, m.SetDriveDrivers(0, []int{0}, true))
	start := m.timer.MovementTicks() + 1000

	rig.startDrive(0, m.AddSegment(nil, start, 3*RemotePositionUpdateInterval, 300, 0, 0, 0))
	rig.runInterrupts(t, 100)

	assert.Equal(t, int32(300), m.dms[0].CurrentMotorPosition())
	// No local step pins
	assert.Equal(t, int64(0), rig.drivers.Position(0))
}

func TestDMStateString(t *testing.T) {
	assert.Equal(t, "cartLinear", DMCartLinear.String())
	assert.Equal(t, "DMState(42)", DMState(42).String())
}
