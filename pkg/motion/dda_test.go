package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDDAFreeIsIdempotent(t *testing.T) {
	d := &DDA{state: DDAProvisional, hadLookaheadUnderrun: true}
	assert.True(t, d.Free())
	assert.Equal(t, DDAEmpty, d.State())
	assert.False(t, d.Free())
}

func TestCollinearMovesKeepSpeed(t *testing.T) {
	rig := newTestRig(t, Options{SimulationMode: SimNormal})
	r := rig.m.Ring(0)

	rm := xMove(10, 50, 0)
	require.True(t, r.AddStandardMove(&rm, true))
	first := r.addPointer.prev
	assert.Zero(t, first.EndSpeed(), "the last move always ends at rest")

	rm = xMove(20, 50, 0)
	require.True(t, r.AddStandardMove(&rm, true))
	second := r.addPointer.prev

	assert.InDelta(t, 50, first.EndSpeed(), 1e-6)
	assert.InDelta(t, 50, first.TopSpeed(), 1e-6)
	assert.True(t, first.IsGoodToPrepare())
	assert.InDelta(t, 50, second.StartSpeed(), 1e-6)
	assert.Zero(t, second.EndSpeed())
	assert.InDelta(t, 10, second.TotalDistance(), 1e-9)
	assert.Equal(t, int32(1600), second.EndPoint(0))
}

func TestCornerLimitedByInstantDv(t *testing.T) {
	rig := newTestRig(t, Options{SimulationMode: SimNormal})
	r := rig.m.Ring(0)

	rm := xyMove(10, 0, 50)
	require.True(t, r.AddStandardMove(&rm, true))
	first := r.addPointer.prev
	rm = xyMove(10, 10, 50)
	require.True(t, r.AddStandardMove(&rm, true))

	// Both X and Y change by the full 15mm/s instant dv
	assert.InDelta(t, 15, first.EndSpeed(), 1e-6)
}

func TestIsolatedMoveStartsAndEndsAtRest(t *testing.T) {
	rig := newTestRig(t, Options{SimulationMode: SimNormal})
	r := rig.m.Ring(0)

	rm := xMove(10, 50, 0)
	require.True(t, r.AddStandardMove(&rm, true))
	first := r.addPointer.prev
	rm = xMove(20, 50, 0)
	rm.MoveType = MoveTypeRawMotor
	require.True(t, r.AddStandardMove(&rm, false))
	second := r.addPointer.prev

	assert.True(t, second.IsIsolated())
	assert.Zero(t, first.EndSpeed())
	assert.Zero(t, second.StartSpeed())
}

func TestRecalculateMoveShortMove(t *testing.T) {
	tests := []struct {
		name                          string
		start, end, requested         float64
		distance                      float64
		wantTopAtLeast, wantTopAtMost float64
	}{
		{"trapezoid", 0, 0, 1, 1000, 1, 1},
		{"triangle", 0, 0, 1, 1, 0.5, 1},
		{"decelerate only", 1, 0, 1, 0.25, 1, 1},
		{"accelerate only", 0, 1, 1, 0.25, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &DDA{
				startSpeed:      tt.start,
				endSpeed:        tt.end,
				requestedSpeed:  tt.requested,
				totalDistance:   tt.distance,
				maxAcceleration: 1,
				maxDeceleration: 1,
			}
			d.RecalculateMove()
			assert.GreaterOrEqual(t, d.topSpeed, tt.wantTopAtLeast-1e-9)
			assert.LessOrEqual(t, d.topSpeed, tt.wantTopAtMost+1e-9)
			assert.GreaterOrEqual(t, d.acceleration, d.maxAcceleration)
			assert.GreaterOrEqual(t, d.deceleration, d.maxDeceleration)
			assert.NotZero(t, d.clocksNeeded)
		})
	}
}

func TestPrepParamsCoverWholeMove(t *testing.T) {
	d := &DDA{
		startSpeed:    0,
		endSpeed:      0,
		topSpeed:      mmPerSecToClocks(50),
		totalDistance: 10,
		acceleration:  mmPerSec2ToClocks(1000),
		deceleration:  mmPerSec2ToClocks(1000),
	}
	var p PrepParams
	p.SetFromDDA(d)

	assert.Equal(t, uint32(37500), p.AccelClocks())
	assert.Equal(t, uint32(112500), p.SteadyClocks())
	assert.Equal(t, uint32(37500), p.DecelClocks())
	assert.InDelta(t, 1.25, p.accelDistance, 1e-9)
	assert.InDelta(t, 8.75, p.decelStartDistance, 1e-9)
}

func TestCanAddMoveLimitsUnpreparedTime(t *testing.T) {
	tests := []struct {
		name                   string
		oldest, middle, newest uint32
		want                   bool
	}{
		{"short queue", 100000, 100000, 100000, true},
		{"long but under two seconds", 100000, 300000, 300000, true},
		{"oldest pushes over two seconds", 1000000, 300000, 300000, false},
		{"newer moves over two seconds", 1, 800000, 800000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, Options{RingSize: 10, SimulationMode: SimNormal})
			r := rig.m.Ring(0)
			for i := 1; i <= 3; i++ {
				rm := xMove(float64(10*i), 50, 0)
				require.True(t, r.AddStandardMove(&rm, true))
			}
			newest := r.addPointer.prev
			newest.clocksNeeded = tt.newest
			newest.prev.clocksNeeded = tt.middle
			newest.prev.prev.clocksNeeded = tt.oldest
			assert.Equal(t, tt.want, r.CanAddMove())
		})
	}
}

func TestCanAddMoveNeedsFreeSlot(t *testing.T) {
	rig := newTestRig(t, Options{RingSize: 4, SimulationMode: SimNormal})
	r := rig.m.Ring(0)
	for i := 1; i <= 3; i++ {
		require.True(t, r.CanAddMove())
		rm := xMove(float64(i), 50, 0)
		require.True(t, r.AddStandardMove(&rm, true))
	}
	// The slot after the free one still holds the oldest move
	assert.False(t, r.CanAddMove())
}

func TestZeroLengthMoveIsDropped(t *testing.T) {
	rig := newTestRig(t, Options{SimulationMode: SimNormal})
	r := rig.m.Ring(0)
	rm := xMove(0, 50, 0)
	assert.False(t, r.AddStandardMove(&rm, true))
	assert.True(t, r.IsIdle())
}
