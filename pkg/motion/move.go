// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package motion plans coordinated moves and generates step timings.
//
// Moves flow from a MoveSource into a DDARing, where lookahead fixes their
// junction speeds. Shortly before a move is due it is prepared: its
// acceleration, steady and deceleration phases become MoveSegments on each
// drive's DriveMovement. The step interrupt (Move.Interrupt) walks the
// active DriveMovements in step time order and pulses the drivers.
package motion

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"reprap-motion/pkg/endstop"
	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/inputshaper"
	"reprap-motion/pkg/kinematics"
	"reprap-motion/pkg/log"
	"reprap-motion/pkg/metrics"
	"reprap-motion/pkg/safety"
	"reprap-motion/pkg/steptimer"
)

// SimulationMode selects how much of the pipeline runs
type SimulationMode uint8

const (
	SimOff     SimulationMode = iota
	SimDebug                  // segments generated, steps simulated instead of driven
	SimNormal                 // moves timed but no segments generated
	SimPartial                // moves read but not queued
)

func (s SimulationMode) String() string {
	switch s {
	case SimOff:
		return "off"
	case SimDebug:
		return "debug"
	case SimNormal:
		return "normal"
	case SimPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// DebugFlags enable move debug output
type DebugFlags uint32

const (
	DebugPrintBadMoves           DebugFlags = 1 << 0
	DebugPrintAllMoves           DebugFlags = 1 << 1
	DebugCollisionData           DebugFlags = 1 << 2
	DebugPrintTransforms         DebugFlags = 1 << 3
	DebugLookahead               DebugFlags = 1 << 8
	DebugZProbing                DebugFlags = 1 << 9
	DebugAxisAllocation          DebugFlags = 1 << 10
	DebugSimulateSteppingDrivers DebugFlags = 1 << 11
	DebugSegments                DebugFlags = 1 << 12
	DebugPhaseStep               DebugFlags = 1 << 13
)

func (f DebugFlags) Has(x DebugFlags) bool { return f&x != 0 }

// MoveState is the state of the move task used for the idle hold
type MoveState uint8

const (
	MoveStateIdle MoveState = iota
	MoveStateCollecting
	MoveStateExecuting
	MoveStateTiming
)

func (s MoveState) String() string {
	switch s {
	case MoveStateIdle:
		return "idle"
	case MoveStateCollecting:
		return "collecting"
	case MoveStateExecuting:
		return "executing"
	case MoveStateTiming:
		return "timing"
	default:
		return "unknown"
	}
}

// ExtruderDrive returns the logical drive of extruder e
func ExtruderDrive(e int) int { return MaxAxes + e }

// driveConfig holds the limits and wiring of one logical drive. Speeds and
// accelerations are in mm per step clock.
type driveConfig struct {
	stepsPerMm      float64
	microstepping   int
	interpolate     bool
	maxSpeed        float64
	maxAcceleration float64
	instantDv       float64
	maxInstantDv    float64
	drivers         []int
	remote          bool
	current         float64 // mA
}

// Options configures a Move
type Options struct {
	Timer      *steptimer.Timer
	Drivers    DriverLayer
	Kinematics kinematics.Kinematics
	Endstops   *endstop.Manager
	Safety     *safety.Manager
	Metrics    *metrics.MotionMetrics
	Source     MoveSource

	NumAxes      int
	NumExtruders int
	RingSize     int
	AuxRingSize  int    // zero disables the async ring
	GracePeriod  uint32 // ms
	SegmentCount int

	SimulationMode SimulationMode
	DebugFlags     DebugFlags
}

type specialMove struct {
	feedRate float64
	amounts  [MaxLogicalDrives]float64
}

// Move owns the rings, the DriveMovements and the step interrupt state.
type Move struct {
	log      *log.Logger
	timer    *steptimer.Timer
	drivers  DriverLayer
	kin      kinematics.Kinematics
	endstops *endstop.Manager
	safety   *safety.Manager
	metrics  *metrics.MotionMetrics
	source   MoveSource

	rings    []*DDARing
	dms      [MaxLogicalDrives]DriveMovement
	segments *SegmentPool

	// isrLock excludes the step interrupt
	isrLock      stepLock
	activeDMs    *DriveMovement
	phaseStepDMs *DriveMovement

	numVisibleAxes int
	numTotalAxes   int
	numExtruders   int
	drives         [MaxLogicalDrives]driveConfig
	extruders      [MaxExtruders]ExtruderShaper
	axisShaper     *inputshaper.AxisShaper

	axisMinimaProbed kinematics.AxesBitmap
	axisMaximaProbed kinematics.AxesBitmap

	idleTimeout          uint32 // ms
	idleCurrentFactor    float64
	segmentMinDuration   uint32
	directionSetupClocks uint32
	lastDirChangeTime    uint32

	simMode    SimulationMode
	debugFlags DebugFlags

	// statistics, reset by Diagnostics
	maxStepsLate        int32
	minStepInterval     int32
	numInterruptHiccups uint32
	reportedHiccups     uint32
	longestGcodeWait    uint32
	segmentsCreated     uint64

	stepErrorState atomic.Uint32
	lastStepError  atomic.Pointer[StepError]
	lastEndstopHit endstop.HitDetails

	moveState            MoveState
	whenLastMoveAdded    [2]uint32
	whenIdleTimerStarted uint32
	driversEnabled       bool

	rawMove   RawMove
	asyncMove AsyncMove

	specialMu    sync.Mutex
	specialMoves []specialMove

	millisMu  sync.Mutex
	lastTicks uint32
	tickAcc   uint64

	wake chan struct{}
}

// NewMove creates the move engine. Missing collaborators get simulated or
// default implementations.
func NewMove(opts Options) (*Move, error) {
	if opts.NumAxes <= 0 {
		opts.NumAxes = 3
	}
	if opts.NumAxes > MaxAxes {
		return nil, errors.Newf(errors.ErrConfigValidation, "too many axes: %d", opts.NumAxes)
	}
	if opts.NumExtruders < 0 || opts.NumExtruders > MaxExtruders {
		return nil, errors.Newf(errors.ErrConfigValidation, "bad extruder count: %d", opts.NumExtruders)
	}
	if opts.RingSize <= 0 {
		opts.RingSize = DefaultRingSize
	}
	if opts.RingSize < 3 {
		return nil, errors.Newf(errors.ErrConfigValidation, "ring size %d is too small", opts.RingSize)
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.SegmentCount <= 0 {
		opts.SegmentCount = DefaultSegmentCount
	}
	if opts.Timer == nil {
		opts.Timer = steptimer.New(steptimer.NewMonotonicSource())
	}
	if opts.Drivers == nil {
		opts.Drivers = NewSimulatedDrivers(MaxPhysicalDrives)
	}
	if opts.Kinematics == nil {
		opts.Kinematics = kinematics.NewCartesian()
	}
	if opts.Endstops == nil {
		opts.Endstops = endstop.NewManager()
	}
	if opts.Safety == nil {
		opts.Safety = safety.New()
	}
	if opts.Source == nil {
		opts.Source = NewQueueSource()
	}

	m := &Move{
		log:                log.GetLogger("move"),
		timer:              opts.Timer,
		drivers:            opts.Drivers,
		kin:                opts.Kinematics,
		endstops:           opts.Endstops,
		safety:             opts.Safety,
		metrics:            opts.Metrics,
		source:             opts.Source,
		segments:           NewSegmentPool(opts.SegmentCount),
		numVisibleAxes:     opts.NumAxes,
		numTotalAxes:       opts.NumAxes,
		numExtruders:       opts.NumExtruders,
		axisShaper:         inputshaper.NewAxisShaper(StepClockRate),
		idleTimeout:        30000,
		idleCurrentFactor:  0.3,
		segmentMinDuration: DefaultSegmentMinDuration,
		simMode:            opts.SimulationMode,
		debugFlags:         opts.DebugFlags,
		wake:               make(chan struct{}, 1),
	}
	m.lastTicks = m.timer.Ticks()

	for d := range m.dms {
		m.dms[d].init(m, d, d >= MaxAxes)
	}
	for axis := 0; axis < m.numTotalAxes; axis++ {
		m.drives[axis] = driveConfig{
			stepsPerMm:      80,
			microstepping:   16,
			interpolate:     true,
			maxSpeed:        mmPerSecToClocks(100),
			maxAcceleration: mmPerSec2ToClocks(1000),
			instantDv:       mmPerSecToClocks(15),
			maxInstantDv:    mmPerSecToClocks(15),
			drivers:         []int{axis},
			current:         800,
		}
	}
	for e := 0; e < m.numExtruders; e++ {
		m.drives[ExtruderDrive(e)] = driveConfig{
			stepsPerMm:      420,
			microstepping:   16,
			interpolate:     true,
			maxSpeed:        mmPerSecToClocks(50),
			maxAcceleration: mmPerSec2ToClocks(1000),
			instantDv:       mmPerSecToClocks(2),
			maxInstantDv:    mmPerSecToClocks(2),
			drivers:         []int{m.numTotalAxes + e},
			current:         600,
		}
	}
	m.updateDriversUsed()

	m.rings = append(m.rings, newDDARing(m, 0, opts.RingSize, opts.GracePeriod))
	if opts.AuxRingSize > 0 {
		if opts.AuxRingSize < 3 {
			return nil, errors.Newf(errors.ErrConfigValidation, "aux ring size %d is too small", opts.AuxRingSize)
		}
		m.rings = append(m.rings, newDDARing(m, 1, opts.AuxRingSize, opts.GracePeriod))
	}
	if qs, ok := m.source.(*QueueSource); ok {
		qs.SetNotify(m.MoveAvailable)
	}

	m.timer.SetCallback(m.Interrupt)
	m.safety.OnShutdown(m.haltStepping)
	m.log.Info("move engine ready: %d axes, %d extruders, %d rings, simulation %s",
		m.numTotalAxes, m.numExtruders, len(m.rings), m.simMode)
	return m, nil
}

func mmPerSecToClocks(v float64) float64  { return v / StepClockRate }
func mmPerSec2ToClocks(a float64) float64 { return a / (StepClockRate * StepClockRate) }

// updateDriversUsed recomputes the step masks of every DM. Remote drives
// have no local step pins.
func (m *Move) updateDriversUsed() {
	for d := range m.drives {
		var mask uint32
		if !m.drives[d].remote {
			for _, drv := range m.drives[d].drivers {
				if drv >= 0 && drv < MaxPhysicalDrives {
					mask |= driverBit(drv)
				}
			}
		}
		m.dms[d].driversNormallyUsed = mask
	}
}

// Exit stops stepping and releases every queued move
func (m *Move) Exit() {
	m.CancelStepping()
	for _, r := range m.rings {
		r.Exit()
	}
	m.log.Info("move engine stopped")
}

// millis returns a wrapping millisecond clock derived from the raw step clock
func (m *Move) millis() uint32 {
	m.millisMu.Lock()
	defer m.millisMu.Unlock()
	now := m.timer.Ticks()
	m.tickAcc += uint64(now - m.lastTicks)
	m.lastTicks = now
	return uint32(m.tickAcc * 1000 / StepClockRate)
}

// stepErrorHalt stops all motion after a fatal step error. It is called
// from the step interrupt or with isrLock held.
func (m *Move) stepErrorHalt(e *StepError) {
	first := m.stepErrorState.CompareAndSwap(uint32(StepErrorNone), uint32(StepErrorHalted))
	if first {
		m.lastStepError.Store(e)
	}
	m.log.WithFields(log.Fields{
		"code":    e.Code,
		"drive":   e.Drive,
		"info":    e.Info,
		"segment": e.Segment,
	}).Error("step error: " + e.Description())
	if m.metrics != nil {
		m.metrics.RecordStepError(e.Code)
	}
	if first {
		m.safety.StepError(e.Error())
	}
	m.timer.CancelCallback()
	m.wakeMoveTask()
}

// haltStepping stops the drives when the safety manager halts the machine.
// A step error halt is raised with isrLock held and has already stopped
// stepping.
func (m *Move) haltStepping(reason safety.Reason, _ string) {
	if reason == safety.ReasonStepError {
		return
	}
	m.log.Warn("stopping all drives: %s", reason)
	m.CancelStepping()
	m.wakeMoveTask()
}

// StepErrorState reports whether stepping has been halted
func (m *Move) StepErrorState() StepErrorState {
	return StepErrorState(m.stepErrorState.Load())
}

// LastStepError returns the first step error since the last reset, or nil
func (m *Move) LastStepError() *StepError {
	return m.lastStepError.Load()
}

// ResetStepError clears a halt once the rings have been emptied
func (m *Move) ResetStepError() error {
	for _, r := range m.rings {
		if !r.IsIdle() {
			return errors.NotFinishedError("reset step error")
		}
	}
	m.stepErrorState.Store(uint32(StepErrorResetting))
	m.CancelStepping()
	m.lastStepError.Store(nil)
	m.stepErrorState.Store(uint32(StepErrorNone))
	return m.safety.Reset()
}

// deactivateDM unlinks dm from whichever active list holds it and makes it
// idle. Called with isrLock held.
func (m *Move) deactivateDM(dm *DriveMovement) {
	list := &m.activeDMs
	if dm.state == DMPhaseStepping {
		list = &m.phaseStepDMs
	}
	for pp := list; *pp != nil; pp = &(*pp).nextDM {
		if *pp == dm {
			*pp = dm.nextDM
			break
		}
	}
	dm.nextDM = nil
	dm.state = DMIdle
}

// MoveAvailable wakes the move task, for example when a new move is queued
func (m *Move) MoveAvailable() { m.wakeMoveTask() }

func (m *Move) wakeMoveTask() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// QueueSpecialMove queues an isolated raw motor move, for example a
// leadscrew adjustment. Amounts are relative motor movements in mm.
func (m *Move) QueueSpecialMove(feedRate float64, amounts [MaxLogicalDrives]float64) {
	m.specialMu.Lock()
	m.specialMoves = append(m.specialMoves, specialMove{feedRate: feedRate, amounts: amounts})
	m.specialMu.Unlock()
	m.wakeMoveTask()
}

func (m *Move) popSpecialMove() (specialMove, bool) {
	m.specialMu.Lock()
	defer m.specialMu.Unlock()
	if len(m.specialMoves) == 0 {
		return specialMove{}, false
	}
	sm := m.specialMoves[0]
	m.specialMoves = m.specialMoves[1:]
	return sm, true
}

// Ring returns ring n, or nil
func (m *Move) Ring(n int) *DDARing {
	if n < 0 || n >= len(m.rings) {
		return nil
	}
	return m.rings[n]
}

func (m *Move) NumRings() int                     { return len(m.rings) }
func (m *Move) Timer() *steptimer.Timer           { return m.timer }
func (m *Move) Kinematics() kinematics.Kinematics { return m.kin }
func (m *Move) Endstops() *endstop.Manager         { return m.endstops }
func (m *Move) NumAxes() int                      { return m.numTotalAxes }
func (m *Move) NumExtruders() int                 { return m.numExtruders }
func (m *Move) SimulationMode() SimulationMode    { return m.simMode }
func (m *Move) DebugFlags() DebugFlags            { return m.debugFlags }
func (m *Move) SetDebugFlags(f DebugFlags)        { m.debugFlags = f }
func (m *Move) State() MoveState                  { return m.moveState }
func (m *Move) AxisShaper() *inputshaper.AxisShaper {
	return m.axisShaper
}

// SetSimulationMode changes the simulation mode. Only change it while idle.
func (m *Move) SetSimulationMode(mode SimulationMode) error {
	for _, r := range m.rings {
		if !r.IsIdle() {
			return errors.NotFinishedError("set simulation mode")
		}
	}
	m.simMode = mode
	return nil
}

// DriveMovement returns the DM of a logical drive
func (m *Move) DriveMovement(drive int) *DriveMovement {
	if drive < 0 || drive >= MaxLogicalDrives {
		return nil
	}
	return &m.dms[drive]
}

// StepsPerMm returns the steps per mm of a logical drive
func (m *Move) StepsPerMm(drive int) float64 { return m.drives[drive].stepsPerMm }

func (m *Move) stepsPerMmSlice() []float64 {
	spm := make([]float64, m.numTotalAxes)
	for a := range spm {
		spm[a] = m.drives[a].stepsPerMm
	}
	return spm
}

// isExtruderDrive reports whether a logical drive is a configured extruder
func (m *Move) isExtruderDrive(drive int) bool {
	return drive >= MaxAxes && drive < MaxAxes+m.numExtruders
}

// forEachDrive calls fn for every configured logical drive, axes first
func (m *Move) forEachDrive(fn func(drive int)) {
	for a := 0; a < m.numTotalAxes; a++ {
		fn(a)
	}
	for e := 0; e < m.numExtruders; e++ {
		fn(ExtruderDrive(e))
	}
}

func driveName(drive int) string {
	if drive < MaxAxes {
		return string(kinematics.AxisLetters[drive])
	}
	return fmt.Sprintf("E%d", drive-MaxAxes)
}

func roundSteps(f float64) int32 {
	return int32(math.Round(f))
}
