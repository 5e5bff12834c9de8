// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"strings"

	"reprap-motion/pkg/pool"
)

// MoveDiagnostics is a snapshot of the move engine's counters
type MoveDiagnostics struct {
	State            string            `json:"state"`
	SimulationMode   string            `json:"simulation_mode"`
	StepErrorState   string            `json:"step_error_state"`
	StepError        string            `json:"step_error,omitempty"`
	SegmentsCreated  uint64            `json:"segments_created"`
	Segments         pool.Stats        `json:"segments"`
	LongestGcodeWait uint32            `json:"longest_gcode_wait_ms"`
	Hiccups          uint32            `json:"hiccups"`
	MovementDelayMs  float64           `json:"movement_delay_ms"`
	MaxStepsLate     int32             `json:"max_steps_late"`
	MinStepInterval  int32             `json:"min_step_interval"`
	Rings            []RingDiagnostics `json:"rings"`
}

// Diagnostics returns the engine's counters and resets the per-report ones
func (m *Move) Diagnostics() MoveDiagnostics {
	d := m.snapshot()
	m.isrLock.Lock()
	m.maxStepsLate = 0
	m.minStepInterval = 0
	m.numInterruptHiccups = 0
	m.reportedHiccups = 0
	m.isrLock.Unlock()
	m.longestGcodeWait = 0
	d.Rings = d.Rings[:0]
	for _, r := range m.rings {
		d.Rings = append(d.Rings, r.Diagnostics())
	}
	return d
}

// Snapshot returns the engine's counters without resetting anything. It
// is safe to call from any goroutine.
func (m *Move) Snapshot() MoveDiagnostics {
	return m.snapshot()
}

func (m *Move) snapshot() MoveDiagnostics {
	d := MoveDiagnostics{
		State:            m.moveState.String(),
		SimulationMode:   m.simMode.String(),
		StepErrorState:   m.StepErrorState().String(),
		LongestGcodeWait: m.longestGcodeWait,
		MovementDelayMs:  float64(m.timer.MovementDelay()) * 1000 / StepClockRate,
	}
	if e := m.LastStepError(); e != nil {
		d.StepError = e.Error()
	}
	m.isrLock.Lock()
	d.SegmentsCreated = m.segmentsCreated
	d.Segments = m.segments.Stats()
	d.Hiccups = m.numInterruptHiccups
	d.MaxStepsLate = m.maxStepsLate
	d.MinStepInterval = m.minStepInterval
	m.isrLock.Unlock()
	for _, r := range m.rings {
		d.Rings = append(d.Rings, r.Snapshot())
	}
	return d
}

// publishMetrics pushes the counters gathered since the last call
func (m *Move) publishMetrics() {
	m.isrLock.Lock()
	newHiccups := m.numInterruptHiccups - m.reportedHiccups
	m.reportedHiccups = m.numInterruptHiccups
	stepsLate := m.maxStepsLate
	inUse := m.segments.Stats().InUse
	m.isrLock.Unlock()

	m.metrics.RecordHiccups(uint64(newHiccups))
	m.metrics.SetMaxStepsLate(stepsLate)
	m.metrics.SetSegmentsInUse(inUse)
	for _, r := range m.rings {
		r.publishMetrics(m.metrics)
	}
}

// GenerateMovementErrorDebug describes the current move and every drive
// with a step error
func (m *Move) GenerateMovementErrorDebug() string {
	var sb strings.Builder
	if cdda := m.rings[0].GetCurrentDDA(); cdda == nil {
		sb.WriteString("No current DDA\n")
	} else {
		sb.WriteString("Current DDA: ")
		sb.WriteString(cdda.DebugString())
		sb.WriteByte('\n')
	}
	sb.WriteString("Failing DM:\n")
	m.isrLock.Lock()
	for d := range m.dms {
		if m.dms[d].HasError() {
			sb.WriteString(m.dms[d].DebugString())
			sb.WriteByte('\n')
		}
	}
	m.isrLock.Unlock()
	if m.debugFlags.Has(DebugPrintBadMoves) {
		m.log.Error("movement error:\n%s", sb.String())
	}
	return sb.String()
}

// SetMotorPosition sets the position of one logical drive in steps
func (m *Move) SetMotorPosition(drive int, pos int32) {
	m.isrLock.Lock()
	m.dms[drive].SetMotorPosition(pos)
	m.isrLock.Unlock()
}

// SetMotorPositions sets the positions of the drives in the bitmap
func (m *Move) SetMotorPositions(drives uint32, positions *[MaxLogicalDrives]int32) {
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	for d := range m.dms {
		if drives&(1<<uint(d)) != 0 {
			m.dms[d].SetMotorPosition(positions[d])
		}
	}
}

// ChangeEndpointsAfterHoming sets both the queued endpoints of ring n and
// the motor positions of the drives in the bitmap
func (m *Move) ChangeEndpointsAfterHoming(n int, drives uint32, endpoints *[MaxLogicalDrives]int32) {
	if r := m.Ring(n); r != nil {
		r.SetLastEndpoints(drives, endpoints)
	}
	m.SetMotorPositions(drives, endpoints)
}

// GetLiveMachineCoordinates converts the current motor positions to
// machine coordinates
func (m *Move) GetLiveMachineCoordinates() [MaxAxes]float64 {
	n := m.numTotalAxes
	var pos [MaxAxes]int32
	m.isrLock.Lock()
	for axis := 0; axis < n; axis++ {
		pos[axis] = m.dms[axis].currentMotorPosition
	}
	m.isrLock.Unlock()
	var coords [MaxAxes]float64
	m.kin.MotorStepsToCartesian(pos[:n], m.stepsPerMmSlice(), m.numVisibleAxes, n, coords[:n])
	return coords
}
