// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"sync"
)

// DriverLayer is the stepper driver hardware seen by the step generator.
// Driver numbers are physical drivers; masks have bit n set for driver n.
type DriverLayer interface {
	StepHigh(mask uint32)
	StepLow(mask uint32)
	SetDirection(driver int, forwards bool)
	EnableDriver(driver int, current float64)
	DisableDriver(driver int)
	SetMotorCurrent(driver int, current float64)
	SetStandstillCurrent(driver int, current float64)
	SetMicrostepping(driver int, microsteps int, interpolate bool) bool
}

// driverBit returns the step mask bit of a physical driver
func driverBit(driver int) uint32 {
	return uint32(1) << uint(driver)
}

// SimulatedDrivers is a DriverLayer that counts steps instead of driving
// pins. It is used by the simulator and the tests.
type SimulatedDrivers struct {
	mu          sync.Mutex
	numDrivers  int
	positions   []int64
	forwards    []bool
	enabled     []bool
	current     []float64
	standstill  []float64
	microsteps  []int
	interpolate []bool
	highMask    uint32
	pulses      uint64
	dirChanges  uint64
	glitches    uint64
}

// NewSimulatedDrivers creates n simulated drivers, all disabled and facing
// forwards.
func NewSimulatedDrivers(n int) *SimulatedDrivers {
	if n > MaxPhysicalDrives {
		n = MaxPhysicalDrives
	}
	d := &SimulatedDrivers{
		numDrivers:  n,
		positions:   make([]int64, n),
		forwards:    make([]bool, n),
		enabled:     make([]bool, n),
		current:     make([]float64, n),
		standstill:  make([]float64, n),
		microsteps:  make([]int, n),
		interpolate: make([]bool, n),
	}
	for i := range d.forwards {
		d.forwards[i] = true
		d.microsteps[i] = 16
	}
	return d
}

func (d *SimulatedDrivers) valid(driver int) bool {
	return driver >= 0 && driver < d.numDrivers
}

// StepHigh raises the step lines in mask, moving each driver one microstep
// in its current direction
func (d *SimulatedDrivers) StepHigh(mask uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.highMask&mask != 0 {
		d.glitches++
	}
	d.highMask |= mask
	for i := 0; i < d.numDrivers; i++ {
		if mask&driverBit(i) == 0 {
			continue
		}
		if d.forwards[i] {
			d.positions[i]++
		} else {
			d.positions[i]--
		}
		d.pulses++
	}
}

func (d *SimulatedDrivers) StepLow(mask uint32) {
	d.mu.Lock()
	d.highMask &^= mask
	d.mu.Unlock()
}

func (d *SimulatedDrivers) SetDirection(driver int, forwards bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid(driver) {
		return
	}
	if d.forwards[driver] != forwards {
		d.dirChanges++
	}
	d.forwards[driver] = forwards
}

func (d *SimulatedDrivers) EnableDriver(driver int, current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid(driver) {
		d.enabled[driver] = true
		d.current[driver] = current
	}
}

func (d *SimulatedDrivers) DisableDriver(driver int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid(driver) {
		d.enabled[driver] = false
	}
}

func (d *SimulatedDrivers) SetMotorCurrent(driver int, current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid(driver) {
		d.current[driver] = current
		d.standstill[driver] = 0
	}
}

// SetStandstillCurrent reduces the current of an enabled driver that is not moving
func (d *SimulatedDrivers) SetStandstillCurrent(driver int, current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.valid(driver) {
		d.standstill[driver] = current
	}
}

func (d *SimulatedDrivers) SetMicrostepping(driver int, microsteps int, interpolate bool) bool {
	switch microsteps {
	case 1, 2, 4, 8, 16, 32, 64, 128, 256:
	default:
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid(driver) {
		return false
	}
	d.microsteps[driver] = microsteps
	d.interpolate[driver] = interpolate
	return true
}

// Position returns the signed microsteps a driver has taken
func (d *SimulatedDrivers) Position(driver int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid(driver) {
		return 0
	}
	return d.positions[driver]
}

// Forwards reports the direction line of a driver
func (d *SimulatedDrivers) Forwards(driver int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valid(driver) && d.forwards[driver]
}

// Current returns the run current of a driver and its standstill current,
// which is zero unless the driver is idle
func (d *SimulatedDrivers) Current(driver int) (run, standstill float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid(driver) {
		return 0, 0
	}
	return d.current[driver], d.standstill[driver]
}

func (d *SimulatedDrivers) Enabled(driver int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.valid(driver) && d.enabled[driver]
}

func (d *SimulatedDrivers) Microstepping(driver int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.valid(driver) {
		return 0
	}
	return d.microsteps[driver]
}

// Pulses returns the total step pulses generated and the number of times a
// step line was raised while already high
func (d *SimulatedDrivers) Pulses() (pulses, glitches uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses, d.glitches
}

func (d *SimulatedDrivers) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("simulated drivers: %d pulses, %d direction changes, positions %v",
		d.pulses, d.dirChanges, d.positions)
}
