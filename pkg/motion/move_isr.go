// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"math"

	"reprap-motion/pkg/endstop"
	"reprap-motion/pkg/log"
)

// Interrupt is the step timer callback. It steps every drive that is due,
// reschedules itself, and inserts a hiccup when it has run for too long.
func (m *Move) Interrupt() {
	m.isrLock.Lock()
	m.interruptLocked()
	m.isrLock.Unlock()
}

func (m *Move) interruptLocked() {
	if m.activeDMs == nil {
		return
	}
	rawStart := m.timer.Ticks()
	now := m.timer.MovementTicks()
	isrStart := now
	for {
		m.stepDrivers(now, false)
		if m.activeDMs == nil || m.StepErrorState() != StepErrorNone {
			m.wakeMoveTask()
			break
		}
		if !m.scheduleNextStepInterrupt() {
			break
		}
		now = m.timer.MovementTicks()
		if now-isrStart >= MaxStepInterruptTime {
			// Running too long: slip the movement clock until the next step is in the future
			m.numInterruptHiccups++
			for hiccup := uint32(HiccupTime); ; hiccup += HiccupIncrement {
				m.timer.IncreaseMovementDelay(hiccup)
				if !m.scheduleNextStepInterrupt() {
					break
				}
			}
			break
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveISR(m.timer.Ticks() - rawStart)
	}
}

// scheduleNextStepInterrupt arms the timer for the first active DM. It
// returns true if that DM is already due.
func (m *Move) scheduleNextStepInterrupt() bool {
	if m.activeDMs != nil {
		return m.timer.ScheduleMovementCallback(m.activeDMs.nextStepTime)
	}
	return false
}

// insertDM links dm into the active list after every DM due no later
func (m *Move) insertDM(dm *DriveMovement) {
	pp := &m.activeDMs
	for *pp != nil && clockDiff((*pp).nextStepTime, dm.nextStepTime) <= 0 {
		pp = &(*pp).nextDM
	}
	dm.nextDM = *pp
	*pp = dm
}

// collectDue returns the first DM that is not due along with the drivers
// and flags of those that are
func (m *Move) collectDue(now uint32) (stopDm *DriveMovement, driversStepping uint32, flags MovementFlags) {
	dm := m.activeDMs
	for dm != nil && clockDiff(dm.nextStepTime, now) <= MinInterruptInterval {
		driversStepping |= dm.driversCurrentlyUsed
		flags |= dm.segmentFlags
		dm = dm.nextDM
	}
	return dm, driversStepping, flags
}

// stepDrivers generates the steps due at now. With simulate set no pins are
// driven and the step times are logged instead. Called with isrLock held.
func (m *Move) stepDrivers(now uint32, simulate bool) {
	stopDm, driversStepping, flags := m.collectDue(now)
	if flags.Has(FlagCheckEndstops) {
		m.checkEndstopsLocked(true)
		if !simulate {
			now = m.timer.MovementTicks()
		}
		stopDm, driversStepping, _ = m.collectDue(now)
	}

	if simulate {
		if m.log.Enabled(log.DEBUG) {
			for dm := m.activeDMs; dm != stopDm; dm = dm.nextDM {
				m.log.Debug("step %s at %d pos %d", driveName(dm.drive), dm.nextStepTime, dm.currentMotorPosition)
			}
		}
	} else if driversStepping != 0 {
		m.waitForDirectionSetup()
		m.drivers.StepHigh(driversStepping)
	}
	m.prepareForNextSteps(stopDm, flags, now)
	if !simulate && driversStepping != 0 {
		m.drivers.StepLow(driversStepping)
	}

	// Detach the DMs that stepped and re-insert those still moving
	dm := m.activeDMs
	m.activeDMs = stopDm
	for dm != stopDm {
		next := dm.nextDM
		switch {
		case dm.state == DMPhaseStepping:
			dm.nextDM = m.phaseStepDMs
			m.phaseStepDMs = dm
		case dm.state >= firstMotionState:
			if dm.directionChanged {
				dm.directionChanged = false
				m.setDirection(dm.drive, dm.direction)
			}
			m.insertDM(dm)
		default:
			dm.nextDM = nil
		}
		dm = next
	}
}

// prepareForNextSteps works out the next step time of each DM that just
// stepped, starting new segments where needed
func (m *Move) prepareForNextSteps(stopDm *DriveMovement, flags MovementFlags, now uint32) {
	checking := flags.Has(FlagCheckEndstops)
	for dm := m.activeDMs; dm != stopDm; dm = dm.nextDM {
		switch {
		case dm.state == DMStarting:
			if dm.NewSegment(now) != nil && dm.state != DMStarting {
				dm.driversCurrentlyUsed = dm.driversNormallyUsed &^ dm.driverEndstopsTriggeredAtStart
				switch {
				case dm.state == DMPhaseStepping:
				case !checking && dm.driversNormallyUsed == 0:
					dm.TakeStepsAndCalcStepTimeRarely(now)
				default:
					dm.CalcNextStepTimeFull(now)
					dm.directionChanged = true
				}
			}
		case !checking && dm.driversNormallyUsed == 0:
			dm.TakeStepsAndCalcStepTimeRarely(now)
		default:
			dm.CalcNextStepTime(now)
		}
	}
}

// waitForDirectionSetup delays a step until the drivers have seen the last
// direction change for directionSetupClocks. The wait is bounded.
func (m *Move) waitForDirectionSetup() {
	if m.directionSetupClocks == 0 {
		return
	}
	for i := uint32(0); i < m.directionSetupClocks; i++ {
		if m.timer.Ticks()-m.lastDirChangeTime >= m.directionSetupClocks {
			return
		}
	}
}

// setDirection sets the direction of every local driver of a drive
func (m *Move) setDirection(drive int, forwards bool) {
	if m.simMode != SimOff {
		return
	}
	for _, drv := range m.drives[drive].drivers {
		m.drivers.SetDirection(drv, forwards)
	}
	m.lastDirChangeTime = m.timer.Ticks()
}

// checkEndstopsLocked polls the endstop manager and stops drives as the
// triggered endstops require. executing is false for the check made while
// a move is being prepared. Called with isrLock held.
func (m *Move) checkEndstopsLocked(executing bool) {
	for {
		hit := m.endstops.CheckEndstops()
		switch hit.Action {
		case endstop.ActionStopAll:
			m.stopAllDriversLocked()
			m.lastEndstopHit = hit
			if executing {
				m.wakeMoveTask()
			}
			return

		case endstop.ActionStopAxis:
			m.stopAxisOrExtruderLocked(hit.Axis)
			m.lastEndstopHit = hit
			if executing && !m.endstops.AnyEndstopsActive() {
				m.wakeMoveTask()
			}

		case endstop.ActionStopDriver:
			if hit.Axis < 0 || hit.Axis >= MaxLogicalDrives || hit.Driver < 0 {
				continue
			}
			dm := &m.dms[hit.Axis]
			bit := driverBit(hit.Driver)
			dm.driversCurrentlyUsed &^= bit
			allStopped := dm.driversCurrentlyUsed == 0
			if !executing {
				dm.driverEndstopsTriggeredAtStart |= bit
				allStopped = dm.driversNormallyUsed&^dm.driverEndstopsTriggeredAtStart == 0
			}
			m.lastEndstopHit = hit
			if allStopped {
				m.stopAxisOrExtruderLocked(hit.Axis)
				if executing {
					m.wakeMoveTask()
				}
			}

		default:
			return
		}
	}
}

// CheckEndstops polls the endstops outside the step interrupt
func (m *Move) CheckEndstops(executing bool) {
	m.isrLock.Lock()
	m.checkEndstopsLocked(executing)
	m.isrLock.Unlock()
}

// LastEndstopHit returns the most recent endstop that stopped motion
func (m *Move) LastEndstopHit() endstop.HitDetails {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	return m.lastEndstopHit
}

func (m *Move) stopAllDriversLocked() {
	m.forEachDrive(func(drive int) {
		m.stopLogicalDriveLocked(drive)
	})
}

// stopAxisOrExtruderLocked stops every drive that moves an axis, or a
// single extruder drive
func (m *Move) stopAxisOrExtruderLocked(logicalDrive int) {
	if logicalDrive < m.numTotalAxes {
		m.kin.GetControllingDrives(logicalDrive).Iterate(func(drive int) {
			m.stopLogicalDriveLocked(drive)
		})
		return
	}
	m.stopLogicalDriveLocked(logicalDrive)
}

func (m *Move) stopLogicalDriveLocked(drive int) {
	if drive < 0 || drive >= MaxLogicalDrives {
		return
	}
	if steps, was := m.dms[drive].stopLogicalDrive(); was && m.debugFlags.Has(DebugZProbing) {
		m.log.Debug("stopped drive %s after %d steps", driveName(drive), steps)
	}
}

// StopAllDrivers stops every drive immediately
func (m *Move) StopAllDrivers() {
	m.isrLock.Lock()
	m.stopAllDriversLocked()
	m.isrLock.Unlock()
}

// StopAxisOrExtruder stops the drives of one axis or one extruder
func (m *Move) StopAxisOrExtruder(logicalDrive int) {
	m.isrLock.Lock()
	m.stopAxisOrExtruderLocked(logicalDrive)
	m.isrLock.Unlock()
}

// CancelStepping stops every drive and cancels the step interrupt
func (m *Move) CancelStepping() {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	m.stopAllDriversLocked()
	for dm := m.phaseStepDMs; dm != nil; {
		next := dm.nextDM
		dm.stopLogicalDrive()
		dm = next
	}
	m.activeDMs = nil
	m.phaseStepDMs = nil
	m.timer.CancelCallback()
}

// AreDrivesStopped reports whether every drive in the bitmap is idle
func (m *Move) AreDrivesStopped(drives uint32) bool {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	for d := 0; d < MaxLogicalDrives; d++ {
		if drives&(1<<uint(d)) != 0 && m.dms[d].state != DMIdle {
			return false
		}
	}
	return true
}

// HasActiveDMs reports whether any drive is moving
func (m *Move) HasActiveDMs() bool {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	return m.activeDMs != nil || m.phaseStepDMs != nil
}

// SimulateSteppingDrivers processes the next due steps without driving
// pins, taking the first active DM's step time as the current time
func (m *Move) SimulateSteppingDrivers() {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	if m.activeDMs == nil {
		return
	}
	m.stepDrivers(m.activeDMs.nextStepTime, true)
}

// PhaseStepControlLoop updates the positions of phase-stepped drives and
// moves DMs between the phase and step/dir lists as their segments change
func (m *Move) PhaseStepControlLoop() {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	now := m.timer.MovementTicks()

	var flags MovementFlags
	for dm := m.phaseStepDMs; dm != nil; dm = dm.nextDM {
		if dm.state > DMStarting {
			flags |= dm.segmentFlags
		}
	}
	if flags.Has(FlagCheckEndstops) {
		m.checkEndstopsLocked(true)
	}

	pp := &m.phaseStepDMs
	for *pp != nil {
		dm := *pp
		if dm.state == DMPhaseStepping && dm.segments != nil {
			seg := dm.segments
			if clockDiff(now, seg.EndTime()) < 0 {
				moved := dm.PhaseStepsTakenThisSegment(now) + dm.distanceCarriedForwards
				dm.currentMotorPosition = dm.positionAtSegmentStart + int32(math.Round(moved))
				pp = &dm.nextDM
				continue
			}
			// Segment finished
			dm.currentMotorPosition = dm.positionAtSegmentStart + dm.netStepsThisSegment
			dm.distanceCarriedForwards += seg.distance - float64(dm.netStepsThisSegment)
			dm.movementAccumulator += dm.netStepsThisSegment
			dm.segments = seg.next
			m.segments.Release(seg)
			if dm.NewSegment(now) != nil && dm.state == DMPhaseStepping {
				pp = &dm.nextDM
				continue
			}
		}
		// No longer phase stepping
		*pp = dm.nextDM
		dm.nextDM = nil
		if dm.state == DMPhaseStepping {
			dm.state = DMIdle
		}
		if dm.state >= firstMotionState {
			m.insertDM(dm)
			if m.activeDMs == dm && m.simMode == SimOff && m.scheduleNextStepInterrupt() {
				m.interruptLocked()
			}
		}
	}
	if m.phaseStepDMs == nil && m.activeDMs == nil {
		m.wakeMoveTask()
	}
}

// GetAccumulatedExtrusion returns the net steps an extruder has moved since
// the last call and whether it is currently printing
func (m *Move) GetAccumulatedExtrusion(drive int) (steps int32, isPrinting bool) {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	dm := &m.dms[drive]
	ret := dm.movementAccumulator
	adj := dm.NetStepsTakenThisSegment()
	dm.movementAccumulator = -adj
	return ret + adj, dm.extruderPrinting
}

// ExtruderPrintingSince returns when an extruder started its current
// printing run, in ms
func (m *Move) ExtruderPrintingSince(drive int) uint32 {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	return m.dms[drive].extruderPrintingSince
}
