package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprap-motion/pkg/config"
	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/steptimer"
)

const machineINI = `
[move]
kinematics: corexy
axes: XYZ
extruders: 1
ring_size: 12
aux_ring_size: 5
grace_period: 20
idle_timeout: 10

[axis x]
steps_per_mm: 100
max_speed: 300
acceleration: 3000
instant_dv: 10
current: 1200

[axis z]
steps_per_mm: 400
microstepping: 32
min: -2
max: 180

[extruder 0]
steps_per_mm: 690
pressure_advance: 0.05

[endstop x]
position: max

[endstop z]
probe: true

[input_shaper]
shaper_type: ZV
shaper_freq: 40
`

func loadMachine(t *testing.T, ini string) (*Move, error) {
	t.Helper()
	cfg, err := config.LoadString(ini)
	require.NoError(t, err)
	return LoadMachineConfig(cfg, Options{Timer: steptimer.New(steptimer.NewSimSource(0))})
}

func TestLoadMachineConfig(t *testing.T) {
	m, err := loadMachine(t, machineINI)
	require.NoError(t, err)

	assert.Equal(t, 3, m.NumAxes())
	assert.Equal(t, 1, m.NumExtruders())
	assert.Equal(t, 2, m.NumRings())
	assert.Equal(t, 12, m.Ring(0).NumDdas())
	assert.Equal(t, uint32(20), m.Ring(0).GracePeriod())
	assert.Equal(t, "corexy", m.Kinematics().Name())

	assert.InDelta(t, 100, m.StepsPerMm(0), 1e-9)
	assert.InDelta(t, 300, m.MaxSpeed(0), 1e-9)
	assert.InDelta(t, 3000, m.MaxAcceleration(0), 1e-6)
	assert.InDelta(t, 10, m.InstantDv(0), 1e-9)
	// Unconfigured axes keep their defaults
	assert.InDelta(t, 80, m.StepsPerMm(1), 1e-9)

	micro, _ := m.Microstepping(2)
	assert.Equal(t, 32, micro)
	lo, hi := m.Kinematics().AxisLimits(2)
	assert.InDelta(t, -2, lo, 1e-9)
	assert.InDelta(t, 180, hi, 1e-9)

	e0 := ExtruderDrive(0)
	assert.InDelta(t, 690, m.StepsPerMm(e0), 1e-9)
	assert.InDelta(t, 0.05, m.PressureAdvance(0), 1e-12)

	es := m.endstops.Endstops(0)
	require.Len(t, es, 1)
	assert.True(t, es[0].HighEnd())
	require.NotNil(t, m.endstops.Probe())
	assert.Equal(t, 2, m.endstops.Probe().Axis())

	assert.True(t, m.AxisShaper().IsEnabled())
	assert.Equal(t, 2, m.AxisShaper().NumImpulses())
}

func TestLoadMachineConfigDefaults(t *testing.T) {
	m, err := loadMachine(t, "[move]\n")
	require.NoError(t, err)
	assert.Equal(t, 3, m.NumAxes())
	assert.Equal(t, 1, m.NumExtruders())
	assert.Equal(t, 1, m.NumRings())
	assert.Equal(t, DefaultRingSize, m.Ring(0).NumDdas())
	assert.Equal(t, "cartesian", m.Kinematics().Name())
	assert.False(t, m.AxisShaper().IsEnabled())
}

func TestLoadMachineConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		ini  string
	}{
		{"missing move section", "[axis x]\nsteps_per_mm: 80\n"},
		{"unknown option", "[move]\nfrobnicate: 1\n"},
		{"unknown section", "[move]\n[axis u]\nsteps_per_mm: 80\n"},
		{"bad kinematics", "[move]\nkinematics: delta\n"},
		{"axes out of order", "[move]\naxes: XZ\n"},
		{"ring too small", "[move]\nring_size: 2\n"},
		{"aux ring too small", "[move]\naux_ring_size: 2\n"},
		{"limits reversed", "[move]\n[axis y]\nmin: 100\nmax: 50\n"},
		{"bad microstepping", "[move]\n[axis x]\nmicrostepping: 300\n"},
		{"negative pressure advance", "[move]\n[extruder 0]\npressure_advance: -1\n"},
		{"damping out of range", "[move]\n[input_shaper]\nshaper_type: zv\ndamping_ratio: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMachine(t, tt.ini)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err), "got %v", err)
		})
	}
}
