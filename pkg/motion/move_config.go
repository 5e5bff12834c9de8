// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/inputshaper"
	"reprap-motion/pkg/kinematics"
)

const (
	MinimumStepsPerMm = 1.0
	MinimumJerk       = 0.1 // mm/s
)

func (m *Move) checkDrive(drive int) error {
	if drive < 0 || drive >= MaxLogicalDrives || (drive >= m.numTotalAxes && !m.isExtruderDrive(drive)) {
		return errors.Newf(errors.ErrConfigValidation, "drive %d is not configured", drive)
	}
	return nil
}

// waitForStandstill returns NOT_FINISHED unless all rings are idle and no
// drive is moving
func (m *Move) waitForStandstill(op string) error {
	for _, r := range m.rings {
		if !r.IsIdle() {
			return errors.NotFinishedError(op)
		}
	}
	if m.HasActiveDMs() {
		return errors.NotFinishedError(op)
	}
	return nil
}

// SetDriveStepsPerMm sets the steps per mm of a drive. A non-zero
// requestedMicrostepping says value is for that microstepping, and it is
// scaled to the drive's current microstepping.
func (m *Move) SetDriveStepsPerMm(drive int, value float64, requestedMicrostepping int) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	if err := m.waitForStandstill("set steps per mm"); err != nil {
		return err
	}
	cfg := &m.drives[drive]
	if requestedMicrostepping != 0 && cfg.microstepping != requestedMicrostepping {
		value = value * float64(cfg.microstepping) / float64(requestedMicrostepping)
	}
	cfg.stepsPerMm = max(value, MinimumStepsPerMm)
	return nil
}

// SetMicrostepping programs the microstepping of every driver of a drive
func (m *Move) SetMicrostepping(drive, microsteps int, interpolate bool) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	cfg := &m.drives[drive]
	for _, drv := range cfg.drivers {
		if !m.drivers.SetMicrostepping(drv, microsteps, interpolate) {
			return errors.Newf(errors.ErrDriver, "driver %d does not support %d microsteps", drv, microsteps)
		}
	}
	cfg.microstepping = microsteps
	cfg.interpolate = interpolate
	return nil
}

// Microstepping returns the microstepping of a drive
func (m *Move) Microstepping(drive int) (microsteps int, interpolate bool) {
	return m.drives[drive].microstepping, m.drives[drive].interpolate
}

// SetInstantDv sets the instantaneous speed change allowed at a junction in
// mm/s. With includingMax clear the value is capped at the configured maximum.
func (m *Move) SetInstantDv(drive int, value float64, includingMax bool) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	v := mmPerSecToClocks(max(value, MinimumJerk))
	cfg := &m.drives[drive]
	if includingMax {
		cfg.instantDv = v
		cfg.maxInstantDv = v
	} else {
		cfg.instantDv = min(v, cfg.maxInstantDv)
	}
	return nil
}

// InstantDv returns the junction speed change of a drive in mm/s
func (m *Move) InstantDv(drive int) float64 { return m.drives[drive].instantDv * StepClockRate }

// SetAxisMaximum sets the upper travel limit of an axis
func (m *Move) SetAxisMaximum(axis int, value float64, byProbing bool) error {
	if axis < 0 || axis >= m.numTotalAxes {
		return errors.Newf(errors.ErrConfigValidation, "axis %d is not configured", axis)
	}
	lo, _ := m.kin.AxisLimits(axis)
	m.kin.SetAxisLimits(axis, lo, value)
	if byProbing {
		m.axisMaximaProbed |= kinematics.AxisBit(axis)
	}
	return nil
}

// SetAxisMinimum sets the lower travel limit of an axis
func (m *Move) SetAxisMinimum(axis int, value float64, byProbing bool) error {
	if axis < 0 || axis >= m.numTotalAxes {
		return errors.Newf(errors.ErrConfigValidation, "axis %d is not configured", axis)
	}
	_, hi := m.kin.AxisLimits(axis)
	m.kin.SetAxisLimits(axis, value, hi)
	if byProbing {
		m.axisMinimaProbed |= kinematics.AxisBit(axis)
	}
	return nil
}

// ProbedAxisLimits returns the axes whose limits were set by probing
func (m *Move) ProbedAxisLimits() (minima, maxima kinematics.AxesBitmap) {
	return m.axisMinimaProbed, m.axisMaximaProbed
}

// ConfigurePressureAdvance sets the pressure advance of the given
// extruders in seconds
func (m *Move) ConfigurePressureAdvance(extruders []int, seconds float64) error {
	for _, e := range extruders {
		if e < 0 || e >= m.numExtruders {
			return errors.Newf(errors.ErrConfigValidation, "extruder %d is not configured", e)
		}
	}
	for _, e := range extruders {
		m.extruders[e].SetKSeconds(seconds)
	}
	return nil
}

// PressureAdvance returns the pressure advance of an extruder in seconds
func (m *Move) PressureAdvance(extruder int) float64 {
	return m.extruders[extruder].KSeconds()
}

// SetMaxSpeed sets the top speed of a drive in mm/s
func (m *Move) SetMaxSpeed(drive int, mmPerSec float64) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	if mmPerSec <= 0 {
		return errors.Newf(errors.ErrConfigValidation, "max speed of %s must be positive", driveName(drive))
	}
	m.drives[drive].maxSpeed = mmPerSecToClocks(mmPerSec)
	return nil
}

// MaxSpeed returns the top speed of a drive in mm/s
func (m *Move) MaxSpeed(drive int) float64 { return m.drives[drive].maxSpeed * StepClockRate }

// SetMaxAcceleration sets the acceleration limit of a drive in mm/s^2
func (m *Move) SetMaxAcceleration(drive int, mmPerSec2 float64) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	if mmPerSec2 <= 0 {
		return errors.Newf(errors.ErrConfigValidation, "acceleration of %s must be positive", driveName(drive))
	}
	m.drives[drive].maxAcceleration = mmPerSec2ToClocks(mmPerSec2)
	return nil
}

// MaxAcceleration returns the acceleration limit of a drive in mm/s^2
func (m *Move) MaxAcceleration(drive int) float64 {
	return m.drives[drive].maxAcceleration * StepClockRate * StepClockRate
}

// SetIdleTimeout sets how long in seconds the machine must be idle before
// the motors drop to standby current
func (m *Move) SetIdleTimeout(seconds float64) {
	m.idleTimeout = uint32(max(seconds, 0) * 1000)
}

// SetIdleCurrentFactor sets the standby current as a fraction of run current
func (m *Move) SetIdleCurrentFactor(f float64) error {
	if f < 0 || f > 1 {
		return errors.Newf(errors.ErrConfigValidation, "idle current factor %.2f out of range", f)
	}
	m.idleCurrentFactor = f
	return nil
}

// ConfigureInputShaping configures the axis shaper. Only done at standstill.
func (m *Move) ConfigureInputShaping(p inputshaper.Params) error {
	if err := m.waitForStandstill("configure input shaping"); err != nil {
		return err
	}
	if err := m.axisShaper.Configure(p); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "input shaper")
	}
	m.log.Info("input shaping %s at %.1fHz", p.Type, p.Frequency)
	return nil
}

// SetMotorCurrent sets the run current of a drive in mA
func (m *Move) SetMotorCurrent(drive int, mA float64) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	if mA < 0 {
		return errors.Newf(errors.ErrConfigValidation, "current of %s must not be negative", driveName(drive))
	}
	cfg := &m.drives[drive]
	cfg.current = mA
	for _, drv := range cfg.drivers {
		m.drivers.SetMotorCurrent(drv, mA)
	}
	return nil
}

// SetSegmentMinDuration sets the shortest segment AddSegment will create
func (m *Move) SetSegmentMinDuration(clocks uint32) {
	m.segmentMinDuration = clocks
}

// SetDriveDrivers assigns the physical drivers of a logical drive. A
// remote drive has no local step pins.
func (m *Move) SetDriveDrivers(drive int, drivers []int, remote bool) error {
	if err := m.checkDrive(drive); err != nil {
		return err
	}
	for _, drv := range drivers {
		if drv < 0 || drv >= MaxPhysicalDrives {
			return errors.Newf(errors.ErrConfigValidation, "driver %d out of range", drv)
		}
	}
	if err := m.waitForStandstill("set drivers"); err != nil {
		return err
	}
	m.drives[drive].drivers = append([]int(nil), drivers...)
	m.drives[drive].remote = remote
	m.isrLock.Lock()
	m.updateDriversUsed()
	m.isrLock.Unlock()
	return nil
}

// DriveDrivers returns the physical drivers of a logical drive
func (m *Move) DriveDrivers(drive int) []int {
	return append([]int(nil), m.drives[drive].drivers...)
}

// SetDirectionSetupTime sets the minimum delay between a direction change
// and the next step, in step clocks
func (m *Move) SetDirectionSetupTime(clocks uint32) {
	m.isrLock.Lock()
	m.directionSetupClocks = clocks
	m.isrLock.Unlock()
}
