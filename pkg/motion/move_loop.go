// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"context"
	"fmt"
	"time"

	"reprap-motion/pkg/safety"
)

// MoveLoop runs the move task until ctx is cancelled or motion halts. It
// feeds the rings from the move source, prepares moves ahead of the step
// interrupt and drops the motors to standby current when idle.
func (m *Move) MoveLoop(ctx context.Context) error {
	m.log.Debug("move loop started")
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e := m.LastStepError(); e != nil {
			return e
		}
		if m.safety.IsHalted() {
			return safety.ErrHalted
		}
		m.safety.Heartbeat()

		delay, moveRead := m.SpinOnce()
		if moveRead || delay == 0 {
			continue
		}

		timer.Reset(time.Duration(delay) * time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// SpinOnce runs one pass of the move task. It returns the longest time in
// ms before the next pass and whether a move was read from a source.
func (m *Move) SpinOnce() (delay uint32, moveRead bool) {
	ring0 := m.rings[0]
	canAdd := ring0.CanAddMove()
	if canAdd {
		if sm, ok := m.popSpecialMove(); ok {
			moveRead = true
			if m.simMode < SimPartial && ring0.AddSpecialMove(sm.feedRate, &sm.amounts) {
				m.moveAdded(0)
			}
		} else {
			m.rawMove.SetDefaults(0)
			if m.source.ReadMove(0, &m.rawMove) {
				moveRead = true
				if m.simMode < SimPartial && ring0.AddStandardMove(&m.rawMove, m.rawMove.MoveType == MoveTypeNormal) {
					m.moveAdded(0)
				}
			}
		}
	}
	delay = ring0.Spin(m.simMode, !canAdd, m.millis()-m.whenLastMoveAdded[0] >= ring0.GracePeriod())

	if len(m.rings) > 1 {
		ring1 := m.rings[1]
		canAdd1 := ring1.CanAddMove()
		if canAdd1 {
			m.asyncMove.SetDefaults()
			m.rawMove.SetDefaults(0)
			if as, ok := m.source.(AsyncMoveSource); ok && as.ReadAsyncMove(&m.asyncMove) {
				moveRead = true
				if ring1.AddAsyncMove(&m.asyncMove) {
					m.moveAdded(1)
				}
			} else if m.source.ReadMove(1, &m.rawMove) {
				moveRead = true
				if m.simMode < SimPartial && ring1.AddStandardMove(&m.rawMove, m.rawMove.MoveType == MoveTypeNormal) {
					m.moveAdded(1)
				}
			}
		}
		delay = min(delay, ring1.Spin(m.simMode, !canAdd1, m.millis()-m.whenLastMoveAdded[1] >= ring1.GracePeriod()))
	}

	if m.simMode == SimDebug && m.debugFlags.Has(DebugSimulateSteppingDrivers) {
		for m.HasActiveDMs() {
			m.SimulateSteppingDrivers()
		}
	}

	m.updateIdleHold()
	if m.metrics != nil {
		m.publishMetrics()
	}
	return delay, moveRead
}

// moveAdded records the time a move was added to ring n
func (m *Move) moveAdded(n int) {
	now := m.millis()
	if wait := now - m.whenLastMoveAdded[n]; wait > m.longestGcodeWait {
		m.longestGcodeWait = wait
	}
	m.whenLastMoveAdded[n] = now
	if !m.driversEnabled || m.moveState == MoveStateIdle {
		m.enableDrivers()
	}
	m.moveState = MoveStateCollecting
}

func (m *Move) updateIdleHold() {
	for _, r := range m.rings {
		if !r.IsIdle() {
			m.moveState = MoveStateExecuting
			return
		}
	}
	switch m.moveState {
	case MoveStateExecuting, MoveStateCollecting:
		m.whenIdleTimerStarted = m.millis()
		m.moveState = MoveStateTiming
	case MoveStateTiming:
		if m.millis()-m.whenIdleTimerStarted >= m.idleTimeout {
			m.SetDriversIdle()
			m.moveState = MoveStateIdle
		}
	}
}

// enableDrivers enables every configured driver at its run current
func (m *Move) enableDrivers() {
	m.forEachDrive(func(drive int) {
		cfg := &m.drives[drive]
		for _, drv := range cfg.drivers {
			m.drivers.EnableDriver(drv, cfg.current)
		}
	})
	m.driversEnabled = true
}

// SetDriversIdle puts every enabled driver into idle hold at a fraction of
// its run current
func (m *Move) SetDriversIdle() {
	if !m.driversEnabled {
		return
	}
	m.forEachDrive(func(drive int) {
		cfg := &m.drives[drive]
		for _, drv := range cfg.drivers {
			m.drivers.SetStandstillCurrent(drv, cfg.current*m.idleCurrentFactor)
		}
	})
	m.log.Debug("drivers idle at %.0f%% current", m.idleCurrentFactor*100)
}

// DisableDrivers turns off every driver
func (m *Move) DisableDrivers() {
	m.forEachDrive(func(drive int) {
		for _, drv := range m.drives[drive].drivers {
			m.drivers.DisableDriver(drv)
		}
	})
	m.driversEnabled = false
}

// WaitingForAllMovesFinished tells ring n that the caller is waiting for
// it to empty and reports whether it is empty and no drive is still moving
func (m *Move) WaitingForAllMovesFinished(n int) bool {
	r := m.Ring(n)
	if r == nil {
		return true
	}
	return r.SetWaitingToEmpty() && !m.HasActiveDMs()
}

// LowPowerOrStallPause stops ring 0 as soon as possible after a power
// failure or a driver stall and records the reason with the safety
// manager. It returns false if no move could be skipped.
func (m *Move) LowPowerOrStallPause(reason safety.Reason, rp *RestorePoint) bool {
	rp.Init()
	if !m.rings[0].LowPowerOrStallPause(rp) {
		return false
	}
	m.safety.RecordPause(reason, fmt.Sprintf("resume from file position %d", rp.FilePos))
	return true
}
