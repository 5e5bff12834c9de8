package main

import (
	"reprap-motion/pkg/motion"
)

// senseEndstops connects the configured endstops and probe to the simulated
// motor positions, so that homing and probing moves stop when the machine
// reaches the end of an axis. It only makes sense when steps reach the
// drivers, and returns the number of inputs connected.
func senseEndstops(m *motion.Move, drivers *motion.SimulatedDrivers) int {
	n := m.NumAxes()
	kin := m.Kinematics()
	motor := make([]int, n)
	spm := make([]float64, n)
	for axis := 0; axis < n; axis++ {
		motor[axis] = -1
		if d := m.DriveDrivers(axis); len(d) > 0 {
			motor[axis] = d[0]
		}
		spm[axis] = m.StepsPerMm(axis)
	}

	position := func(axis int) float64 {
		var steps [motion.MaxAxes]int32
		for a := 0; a < n; a++ {
			if motor[a] >= 0 {
				steps[a] = int32(drivers.Position(motor[a]))
			}
		}
		var coords [motion.MaxAxes]float64
		kin.MotorStepsToCartesian(steps[:n], spm, n, n, coords[:n])
		return coords[axis]
	}

	count := 0
	for axis := 0; axis < n; axis++ {
		lo, hi := kin.AxisLimits(axis)
		for _, es := range m.Endstops().Endstops(axis) {
			if es.HighEnd() {
				es.SetSense(func() bool { return position(axis) >= hi })
			} else {
				es.SetSense(func() bool { return position(axis) <= lo })
			}
			count++
		}
	}
	if p := m.Endstops().Probe(); p != nil {
		axis := p.Axis()
		lo, _ := kin.AxisLimits(axis)
		p.SetSense(func() bool { return position(axis) <= lo })
		count++
	}
	return count
}
