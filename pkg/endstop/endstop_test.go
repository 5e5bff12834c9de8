package endstop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripAndRelease(t *testing.T) {
	e := New(DefaultConfig())
	assert.False(t, e.Triggered())

	e.Trip(12345)
	assert.True(t, e.Triggered())
	clock, n := e.LastTrip()
	assert.Equal(t, uint32(12345), clock)
	assert.Equal(t, uint32(1), n)
	assert.True(t, e.GetStatus().Latched)

	e.Release()
	assert.False(t, e.Triggered())
	assert.False(t, e.GetStatus().Latched)
}

func TestSense(t *testing.T) {
	e := New(DefaultConfig())
	input := false
	e.SetSense(func() bool { return input })
	assert.False(t, e.Triggered())

	input = true
	assert.True(t, e.Triggered())

	// A sense function overrides the latch
	input = false
	e.Trip(1)
	assert.False(t, e.Triggered())
}

func TestSenseInverted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inverted = true
	e := New(cfg)
	e.SetSense(func() bool { return false })
	assert.True(t, e.Triggered())
}

func TestDebounce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce = 3
	e := New(cfg)
	input := true
	e.SetSense(func() bool { return input })

	assert.False(t, e.Triggered())
	assert.False(t, e.Triggered())
	assert.True(t, e.Triggered())

	// A bounce restarts the count
	input = false
	assert.False(t, e.Triggered())
	input = true
	assert.False(t, e.Triggered())
}

func TestZeroDebounceMeansOnePoll(t *testing.T) {
	e := New(Config{Driver: -1})
	e.Trip(0)
	assert.True(t, e.Triggered())
}

func newAxisEndstop(axis, driver int) *Endstop {
	cfg := DefaultConfig()
	cfg.Name = "axis"
	cfg.Axis = axis
	cfg.Driver = driver
	return New(cfg)
}

func TestManagerStopAxisThenStopAll(t *testing.T) {
	m := NewManager()
	x := newAxisEndstop(0, -1)
	y := newAxisEndstop(1, -1)
	m.Add(x)
	m.Add(y)
	require.NoError(t, m.EnableAxisEndstops([]int{0, 1}, false))
	assert.True(t, m.AnyEndstopsActive())
	assert.Equal(t, ActionNone, m.CheckEndstops().Action)

	x.Trip(1)
	hd := m.CheckEndstops()
	assert.Equal(t, ActionStopAxis, hd.Action)
	assert.Equal(t, 0, hd.Axis)
	// reported once only
	assert.Equal(t, ActionNone, m.CheckEndstops().Action)

	y.Trip(2)
	hd = m.CheckEndstops()
	assert.Equal(t, ActionStopAll, hd.Action, "last monitored endstop ends the move")
	assert.Equal(t, 1, hd.Axis)
	assert.False(t, m.AnyEndstopsActive())
}

func TestManagerStopAllOnAnyTrigger(t *testing.T) {
	m := NewManager()
	x := newAxisEndstop(0, -1)
	m.Add(x)
	m.Add(newAxisEndstop(1, -1))
	require.NoError(t, m.EnableAxisEndstops([]int{0, 1}, true))

	x.Trip(3)
	assert.Equal(t, ActionStopAll, m.CheckEndstops().Action)
	assert.True(t, m.AnyEndstopsActive())
}

func TestManagerStopDriver(t *testing.T) {
	m := NewManager()
	z1 := newAxisEndstop(2, 2)
	z2 := newAxisEndstop(2, 3)
	m.Add(z1)
	m.Add(z2)
	require.NoError(t, m.EnableAxisEndstops([]int{2}, false))
	assert.Len(t, m.Endstops(2), 2)

	z2.Trip(5)
	hd := m.CheckEndstops()
	assert.Equal(t, HitDetails{Action: ActionStopDriver, Axis: 2, Driver: 3}, hd)
	assert.True(t, m.AnyEndstopsActive())
}

func TestManagerZProbe(t *testing.T) {
	m := NewManager()
	assert.ErrorIs(t, m.EnableZProbe(), ErrNoProbe)
	assert.ErrorIs(t, m.EnableAxisEndstops([]int{0}, false), ErrUnknownAxis)

	cfg := DefaultConfig()
	cfg.IsZProbe = true
	cfg.Axis = 2
	p := New(cfg)
	m.Add(p)
	assert.Same(t, p, m.Probe())
	assert.Empty(t, m.Endstops(2))
	require.NoError(t, m.EnableZProbe())

	p.Trip(9)
	hd := m.CheckEndstops()
	assert.Equal(t, ActionStopAll, hd.Action)
	assert.True(t, hd.IsZProbe)

	m.DisableAll()
	assert.False(t, m.AnyEndstopsActive())
}
