package steptimer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovementDelay(t *testing.T) {
	src := NewSimSource(1000)
	tm := New(src)

	assert.Equal(t, uint32(1000), tm.MovementTicks())
	tm.IncreaseMovementDelay(250)
	assert.Equal(t, uint32(750), tm.MovementTicks())
	assert.Equal(t, uint32(1000), tm.Ticks())
	assert.Equal(t, uint32(250), tm.MovementDelay())
}

func TestScheduleDueImmediately(t *testing.T) {
	src := NewSimSource(5000)
	tm := New(src)

	assert.True(t, tm.ScheduleMovementCallback(5000+MinInterruptInterval-1))
	_, armed := tm.Scheduled()
	assert.False(t, armed)

	assert.False(t, tm.ScheduleMovementCallback(6000))
	when, armed := tm.Scheduled()
	assert.True(t, armed)
	assert.Equal(t, uint32(6000), when)
}

func TestFire(t *testing.T) {
	src := NewSimSource(0)
	tm := New(src)
	var calls int
	tm.SetCallback(func() { calls++ })

	require.False(t, tm.ScheduleMovementCallback(100))
	assert.False(t, tm.Fire())
	src.Set(100)
	assert.True(t, tm.Fire())
	assert.False(t, tm.Fire(), "callback is one-shot")
	assert.Equal(t, 1, calls)

	require.False(t, tm.ScheduleMovementCallback(200))
	tm.CancelCallback()
	src.Set(300)
	assert.False(t, tm.Fire())
}

func TestScheduleAcrossWrap(t *testing.T) {
	src := NewSimSource(0xFFFFFF00)
	tm := New(src)

	assert.False(t, tm.ScheduleMovementCallback(0x00000100))
	src.Set(0x00000100)
	assert.True(t, tm.Fire())
}

func TestSimSourceCostPerRead(t *testing.T) {
	src := NewSimSource(10)
	src.SetCostPerRead(3)
	assert.Equal(t, uint32(10), src.Now())
	assert.Equal(t, uint32(13), src.Now())
}

func TestRunFiresRealTime(t *testing.T) {
	tm := New(NewMonotonicSource())
	var fired atomic.Bool
	done := make(chan struct{})
	tm.SetCallback(func() {
		fired.Store(true)
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tm.Run(ctx)

	tm.ScheduleMovementCallback(tm.MovementTicks() + DurationToTicks(5*time.Millisecond))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
	assert.True(t, fired.Load())
}

func TestConversions(t *testing.T) {
	assert.Equal(t, uint32(StepClockRate), DurationToTicks(time.Second))
	assert.Equal(t, time.Millisecond, TicksToDuration(StepClockRate/1000))
}
