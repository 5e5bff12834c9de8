package motion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprap-motion/pkg/metrics"
	"reprap-motion/pkg/safety"
)

func TestSpinOnceRunsQueuedMoves(t *testing.T) {
	qs := NewQueueSource()
	mm := metrics.NewMotionMetrics()
	rig := newTestRig(t, Options{Source: qs, Metrics: mm, SimulationMode: SimNormal})
	m := rig.m
	m.SetIdleTimeout(0.05)

	for i := 1; i <= 3; i++ {
		qs.Push(0, xMove(float64(10*i), 50, FilePosition(i)))
	}

	// Step 10ms per pass so the grace period expires once the queue drains
	for i := 0; i < 100; i++ {
		m.SpinOnce()
		rig.src.Advance(StepClockRate / 100)
		if m.State() == MoveStateIdle {
			break
		}
	}

	assert.Zero(t, qs.Len(0))
	assert.True(t, m.Ring(0).IsIdle())
	assert.Equal(t, MoveStateIdle, m.State())

	diag := m.Snapshot()
	require.Len(t, diag.Rings, 1)
	assert.Equal(t, uint32(3), diag.Rings[0].CompletedMoves)
	assert.Equal(t, "normal", diag.SimulationMode)

	ring0 := metrics.Labels{"ring": "0"}
	assert.Equal(t, uint64(3), mm.MovesScheduled.Get(ring0))
	assert.Equal(t, uint64(3), mm.MovesCompleted.Get(ring0))

	assert.True(t, rig.drivers.Enabled(0))
	run, standstill := rig.drivers.Current(0)
	assert.InDelta(t, 800, run, 1e-9)
	assert.InDelta(t, 240, standstill, 1e-9)
}

func TestSpinOnceWaitsForGracePeriod(t *testing.T) {
	qs := NewQueueSource()
	rig := newTestRig(t, Options{Source: qs, SimulationMode: SimNormal})
	m := rig.m

	qs.Push(0, xMove(10, 50, 0))
	m.SpinOnce()
	m.SpinOnce()
	assert.Equal(t, DDAProvisional, m.Ring(0).getPointer.State())
	assert.Equal(t, MoveStateExecuting, m.State())

	rig.src.Advance(uint32(DefaultGracePeriod+1) * StepClockRate / 1000)
	m.SpinOnce()
	assert.Equal(t, DDACommitted, m.Ring(0).getPointer.State())
}

func TestSpinOnceFeedsAsyncRing(t *testing.T) {
	qs := NewQueueSource()
	rig := newTestRig(t, Options{Source: qs, AuxRingSize: 4, SimulationMode: SimNormal})
	m := rig.m

	var am AsyncMove
	am.Movements[1] = 2
	am.RequestedSpeed = 10
	am.Acceleration = 100
	qs.PushAsync(am)

	_, moveRead := m.SpinOnce()
	assert.True(t, moveRead)
	assert.False(t, m.Ring(1).IsIdle())
	assert.True(t, m.Ring(0).IsIdle())
}

func TestPartialSimulationDiscardsMoves(t *testing.T) {
	qs := NewQueueSource()
	rig := newTestRig(t, Options{Source: qs, SimulationMode: SimPartial})

	qs.Push(0, xMove(10, 50, 0))
	_, moveRead := rig.m.SpinOnce()
	assert.True(t, moveRead)
	assert.Zero(t, qs.Len(0))
	assert.True(t, rig.m.Ring(0).IsIdle())
}

func TestQueueSpecialMoveTakesPriority(t *testing.T) {
	qs := NewQueueSource()
	rig := newTestRig(t, Options{Source: qs, SimulationMode: SimNormal})
	m := rig.m

	qs.Push(0, xMove(10, 50, 0))
	var amounts [MaxLogicalDrives]float64
	amounts[2] = 1
	m.QueueSpecialMove(5, amounts)

	m.SpinOnce()
	d := m.Ring(0).getPointer
	assert.True(t, d.IsIsolated())
	assert.Equal(t, int32(80), d.EndPoint(2))
	assert.Equal(t, 1, qs.Len(0))
}

func TestMoveLoopStops(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		rig := newTestRig(t, Options{SimulationMode: SimNormal})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, rig.m.MoveLoop(ctx), context.Canceled)
	})
	t.Run("halted", func(t *testing.T) {
		s := safety.New()
		rig := newTestRig(t, Options{Safety: s, SimulationMode: SimNormal})
		s.EmergencyStop("test")
		assert.ErrorIs(t, rig.m.MoveLoop(context.Background()), safety.ErrHalted)
	})
}

func TestLowPowerOrStallPauseRecordsReason(t *testing.T) {
	s := safety.New()
	rig := newTestRig(t, Options{Safety: s, SimulationMode: SimNormal})
	m := rig.m
	r := m.Ring(0)
	for i := 1; i <= 3; i++ {
		rm := xMove(float64(10*i), 50, FilePosition(100*i))
		require.True(t, r.AddStandardMove(&rm, true))
	}
	r.Spin(SimNormal, false, true)

	var rp RestorePoint
	require.True(t, m.LowPowerOrStallPause(safety.ReasonStallPause, &rp))
	assert.Equal(t, FilePosition(200), rp.FilePos)

	last, n := s.LastPause()
	assert.Equal(t, 1, n)
	assert.Equal(t, safety.ReasonStallPause, last.Reason)
	assert.False(t, s.IsHalted())

	// Only the committed move is left
	assert.False(t, m.LowPowerOrStallPause(safety.ReasonLowPowerPause, &rp))
	_, n = s.LastPause()
	assert.Equal(t, 1, n)
}
