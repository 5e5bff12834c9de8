// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"math"
)

// DMState is the step generation state of a DriveMovement
type DMState uint8

const (
	DMIdle DMState = iota
	DMStepError
	DMStarting
	DMEnding
	DMCartLinear
	DMCartAccel
	DMCartDecelNoReverse
	DMCartDecelForwardsReversing
	DMCartDecelReverse
	DMPhaseStepping
)

// DMs in a state at or above this one stay in an active list
const firstMotionState = DMStarting

func (s DMState) String() string {
	switch s {
	case DMIdle:
		return "idle"
	case DMStepError:
		return "stepError"
	case DMStarting:
		return "starting"
	case DMEnding:
		return "ending"
	case DMCartLinear:
		return "cartLinear"
	case DMCartAccel:
		return "cartAccel"
	case DMCartDecelNoReverse:
		return "cartDecelNoReverse"
	case DMCartDecelForwardsReversing:
		return "cartDecelForwardsReversing"
	case DMCartDecelReverse:
		return "cartDecelReverse"
	case DMPhaseStepping:
		return "phaseStepping"
	default:
		return fmt.Sprintf("DMState(%d)", uint8(s))
	}
}

// StepMode selects how a drive is driven
type StepMode uint8

const (
	StepModeStepDir StepMode = iota
	StepModePhase
)

// DriveMovement generates the step times of one logical drive from its
// segment list. Fields touched by the step interrupt are only changed with
// Move.isrLock held or from the interrupt itself.
type DriveMovement struct {
	move       *Move
	drive      int
	isExtruder bool
	stepMode   StepMode

	state            DMState
	direction        bool
	directionChanged bool
	stepErrorType    uint8

	nextDM       *DriveMovement
	segments     *MoveSegment
	segmentFlags MovementFlags

	currentMotorPosition   int32
	positionAtSegmentStart int32
	positionAtMoveStart    int32
	movementAccumulator    int32

	netStepsThisSegment   int32
	nextStep              int32
	segmentStepLimit      int32
	reverseStartStep      int32
	stepsTakenThisSegment int32
	stepsTillRecalc       uint32
	stepInterval          uint32
	nextStepTime          uint32

	distanceCarriedForwards float64
	t0, p, q                float64
	u                       float64 // phase stepping initial speed

	driversNormallyUsed            uint32
	driversCurrentlyUsed           uint32
	driverEndstopsTriggeredAtStart uint32

	extruderPrinting      bool
	extruderPrintingSince uint32 // ms
}

func (dm *DriveMovement) init(m *Move, drive int, isExtruder bool) {
	*dm = DriveMovement{
		move:       m,
		drive:      drive,
		isExtruder: isExtruder,
		state:      DMIdle,
	}
}

func (dm *DriveMovement) Drive() int                 { return dm.drive }
func (dm *DriveMovement) State() DMState             { return dm.state }
func (dm *DriveMovement) Direction() bool            { return dm.direction }
func (dm *DriveMovement) NextStepTime() uint32       { return dm.nextStepTime }
func (dm *DriveMovement) CurrentMotorPosition() int32 { return dm.currentMotorPosition }
func (dm *DriveMovement) HasError() bool             { return dm.state == DMStepError }
func (dm *DriveMovement) StepErrorType() uint8       { return dm.stepErrorType }
func (dm *DriveMovement) ReverseStartStep() int32    { return dm.reverseStartStep }
func (dm *DriveMovement) SegmentStepLimit() int32    { return dm.segmentStepLimit }

// NetStepsTakenThisSegment returns the signed steps taken in the current segment
func (dm *DriveMovement) NetStepsTakenThisSegment() int32 {
	return dm.currentMotorPosition - dm.positionAtSegmentStart
}

// NetStepsTakenThisMove returns the signed steps taken since segments were
// last attached to an idle drive
func (dm *DriveMovement) NetStepsTakenThisMove() int32 {
	return dm.currentMotorPosition - dm.positionAtMoveStart
}

// SetMotorPosition sets the position of a motor that is not moving
func (dm *DriveMovement) SetMotorPosition(pos int32) {
	if dm.move.debugFlags.Has(DebugPrintTransforms) {
		dm.move.log.Debug("changing drive %d pos from %d to %d", dm.drive, dm.currentMotorPosition, pos)
	}
	dm.currentMotorPosition = pos
	dm.positionAtSegmentStart = pos
	dm.distanceCarriedForwards = 0
	dm.movementAccumulator = 0
	dm.extruderPrinting = false
}

// ScheduleFirstSegment starts executing a segment list attached to an idle
// drive. It returns true if the drive needs a step interrupt.
func (dm *DriveMovement) ScheduleFirstSegment() bool {
	dm.directionChanged = true
	now := dm.move.timer.MovementTicks()
	if dm.NewSegment(now) == nil {
		return false
	}
	switch dm.state {
	case DMStarting:
		return true
	case DMPhaseStepping:
		return false
	}
	return dm.CalcNextStepTimeFull(now)
}

// NewSegment examines the head of the segment list and sets up the step
// generation parameters for it. It returns nil with the state set to idle
// if there is nothing to do. A segment that is not due yet leaves the state
// as starting with nextStepTime set to its start. Segments that produce no
// steps are consumed and their distance carried forward.
func (dm *DriveMovement) NewSegment(now uint32) *MoveSegment {
	if math.Abs(dm.distanceCarriedForwards) > 1.0 {
		dm.LogStepError(5, dm.distanceCarriedForwards, dm.segments)
		return nil
	}
	dm.positionAtSegmentStart = dm.currentMotorPosition

	for {
		seg := dm.segments
		if seg == nil {
			dm.segmentFlags = 0
			dm.state = DMIdle
			return nil
		}

		dm.segmentFlags = seg.flags
		if clockDiff(seg.startTime, now) > MaximumMoveStartAdvanceClocks {
			dm.state = DMStarting
			dm.driversCurrentlyUsed = 0
			dm.driverEndstopsTriggeredAtStart = 0
			dm.nextStepTime = seg.startTime
			return seg
		}

		seg.SetExecuting()
		dm.netStepsThisSegment = wholeSteps(seg.distance + dm.distanceCarriedForwards)
		dm.stepsTakenThisSegment = 0

		if dm.stepMode == StepModePhase {
			dm.u = seg.CalcU()
			dm.state = DMPhaseStepping
			return seg
		}

		var newDirection bool
		var multiplier int32
		var rawP float64

		t0, linear := seg.NormaliseAndCheckLinear(dm.distanceCarriedForwards)
		dm.t0 = t0
		if linear {
			rawP = seg.CalcLinearRecipU()
			newDirection = !math.Signbit(seg.distance)
			multiplier = directionMultiplier(newDirection)
			dm.segmentStepLimit = 1 + dm.netStepsThisSegment*multiplier
			dm.reverseStartStep = dm.segmentStepLimit
			dm.q = 0
			dm.state = DMCartLinear
		} else {
			// n = dcf + u*t + a*t^2/2, so t = t0 +/- sqrt(p*n + q)
			newDirection = !math.Signbit(seg.a)
			multiplier = directionMultiplier(newDirection)
			if t0 <= 0 {
				dm.segmentStepLimit = 1 + dm.netStepsThisSegment*multiplier
				dm.reverseStartStep = dm.segmentStepLimit
				dm.state = DMCartAccel
			} else {
				// Initial motion is against the acceleration
				newDirection = !newDirection
				multiplier = -multiplier
				netInitial := dm.netStepsThisSegment * multiplier

				if t0 < float64(seg.duration) {
					// u = -a*t0, so the distance to the reversal is -a*t0^2/2
					distanceToReverse := (-0.5*seg.a*t0*t0 + dm.distanceCarriedForwards) * float64(multiplier)
					stepsBeforeReverse := int32(distanceToReverse - 0.2)
					switch {
					case stepsBeforeReverse <= netInitial && netInitial >= 0:
						dm.segmentStepLimit = 1 + netInitial
						dm.reverseStartStep = dm.segmentStepLimit
						dm.state = DMCartDecelNoReverse
					case stepsBeforeReverse <= 0:
						newDirection = !newDirection
						multiplier = -multiplier
						dm.segmentStepLimit = 1 - netInitial
						dm.reverseStartStep = dm.segmentStepLimit
						dm.state = DMCartAccel
					default:
						dm.reverseStartStep = stepsBeforeReverse + 1
						dm.segmentStepLimit = 2*dm.reverseStartStep - netInitial - 1
						dm.state = DMCartDecelForwardsReversing
					}
				} else {
					dm.segmentStepLimit = netInitial + 1
					dm.reverseStartStep = dm.segmentStepLimit
					dm.state = DMCartDecelNoReverse
				}
			}
			rawP = 2.0 / seg.a
			dm.q = t0*t0 - rawP*dm.distanceCarriedForwards
		}
		dm.p = rawP * float64(multiplier)

		dm.nextStep = 1
		if dm.nextStep < dm.segmentStepLimit {
			if newDirection != dm.direction {
				dm.directionChanged = true
				dm.direction = newDirection
			}
			if !dm.segmentFlags.Has(FlagCheckEndstops) {
				dm.driversCurrentlyUsed = dm.driversNormallyUsed
			}
			if dm.segmentFlags.Has(FlagIsExtruder) {
				if dm.segmentFlags.Has(FlagNonPrintingMove) {
					dm.extruderPrinting = false
				} else if !dm.extruderPrinting {
					dm.extruderPrintingSince = dm.move.millis()
					dm.extruderPrinting = true
				}
			}
			return seg
		}

		// No steps in this segment, so skip it
		newDcf := dm.distanceCarriedForwards + seg.distance
		if math.Abs(newDcf) > 1.0 {
			dm.LogStepError(7, newDcf, seg)
			newDcf = math.Max(-1.0, math.Min(1.0, newDcf))
		}
		dm.distanceCarriedForwards = newDcf
		dm.segments = seg.next
		dm.move.segments.Release(seg)
	}
}

func directionMultiplier(forwards bool) int32 {
	if forwards {
		return 1
	}
	return -1
}

// limSqrt tolerates slightly negative operands caused by rounding
// wholeSteps truncates a distance in steps towards zero. A distance within
// stepRoundingTolerance of a whole number of steps counts as that number.
func wholeSteps(d float64) int32 {
	if r := math.Round(d); math.Abs(d-r) < stepRoundingTolerance {
		return int32(r)
	}
	return int32(d)
}

func limSqrt(f float64) float64 {
	if f > 0 {
		return math.Sqrt(f)
	}
	return 0
}

// LogStepError records a fatal step generation error and halts movement.
// It always returns false so that callers can return its result.
func (dm *DriveMovement) LogStepError(code uint8, info float64, seg *MoveSegment) bool {
	dm.stepErrorType = code
	dm.state = DMStepError
	dm.move.stepErrorHalt(&StepError{
		Code:    code,
		Info:    info,
		Drive:   dm.drive,
		Segment: segmentDetails(seg),
	})
	return false
}

func segmentDetails(seg *MoveSegment) string {
	if seg == nil {
		return "none"
	}
	return seg.String()
}

// CalcNextStepTime advances to the next step and works out when it is due.
// It returns false when the drive has no more steps or has hit an error.
func (dm *DriveMovement) CalcNextStepTime(now uint32) bool {
	if dm.direction {
		dm.currentMotorPosition++
	} else {
		dm.currentMotorPosition--
	}
	dm.nextStep++
	if dm.stepsTillRecalc != 0 {
		dm.stepsTillRecalc--
		dm.nextStepTime += dm.stepInterval
		return true
	}
	return dm.CalcNextStepTimeFull(now)
}

// CalcNextStepTimeFull computes the time of step nextStep, moving on to the
// next segment when the current one is exhausted. At high step rates it
// computes the time of a later step and interpolates the ones in between.
func (dm *DriveMovement) CalcNextStepTimeFull(now uint32) bool {
	seg := dm.segments
	if seg == nil {
		return dm.LogStepError(4, float64(dm.state), nil)
	}
	var shiftFactor uint32

	stepsToLimit := dm.segmentStepLimit - dm.nextStep
	if stepsToLimit == 1 && seg.next == nil && !seg.flags.Has(FlagIsExtruder) && dm.reverseStartStep != dm.nextStep {
		// Last step of an axis move: end on an exact step
		provisionalDcf := dm.distanceCarriedForwards + seg.distance - float64(dm.netStepsThisSegment)
		switch {
		case math.Abs(provisionalDcf) < 0.05:
			seg.AdjustLength(-provisionalDcf)
		case provisionalDcf > 0.95:
			seg.AdjustLength(1.0 - provisionalDcf)
			if dm.direction {
				dm.netStepsThisSegment++
				oldSsl := dm.segmentStepLimit
				dm.segmentStepLimit = oldSsl + 1
				if dm.reverseStartStep == oldSsl {
					dm.reverseStartStep = oldSsl + 1
				}
				stepsToLimit++
			} else {
				dm.segmentStepLimit--
				dm.netStepsThisSegment--
				stepsToLimit = 0
			}
		case provisionalDcf < -0.95:
			seg.AdjustLength(-1.0 - provisionalDcf)
			if dm.direction {
				dm.segmentStepLimit--
				dm.netStepsThisSegment--
				stepsToLimit = 0
			} else {
				dm.netStepsThisSegment--
				oldSsl := dm.segmentStepLimit
				dm.segmentStepLimit = oldSsl + 1
				if dm.reverseStartStep == oldSsl {
					dm.reverseStartStep = oldSsl + 1
				}
				stepsToLimit++
			}
		}
	}

	if stepsToLimit <= 0 {
		dm.distanceCarriedForwards += seg.distance - float64(dm.netStepsThisSegment)
		if dm.distanceCarriedForwards > 1.0 || dm.distanceCarriedForwards < -1.0 {
			return dm.LogStepError(5, dm.distanceCarriedForwards, seg)
		}
		if dm.currentMotorPosition-dm.positionAtSegmentStart != dm.netStepsThisSegment {
			return dm.LogStepError(6, float64(dm.currentMotorPosition-dm.positionAtSegmentStart-dm.netStepsThisSegment), seg)
		}

		dm.movementAccumulator += dm.netStepsThisSegment
		dm.segments = seg.next
		prevEndTime := seg.EndTime()
		dm.move.segments.Release(seg)
		seg = dm.NewSegment(now)
		if seg == nil {
			return false
		}
		if dm.state == DMStarting {
			return true
		}
		if gap := clockDiff(seg.startTime, prevEndTime); gap < -10 {
			return dm.LogStepError(1, float64(gap), seg)
		}
		// Single step the first step of a new segment because the interval will have changed
		dm.stepsTakenThisSegment = 1
	} else if dm.stepsTakenThisSegment < 2 {
		dm.stepsTakenThisSegment++
	} else {
		if dm.reverseStartStep < dm.segmentStepLimit && dm.nextStep <= dm.reverseStartStep {
			stepsToLimit = dm.reverseStartStep - dm.nextStep
		}
		if stepsToLimit > 1 && dm.stepInterval < MinCalcInterval {
			switch {
			case dm.stepInterval < MinCalcInterval/4 && stepsToLimit > 8:
				shiftFactor = 3
			case dm.stepInterval < MinCalcInterval/2 && stepsToLimit > 4:
				shiftFactor = 2
			case stepsToLimit > 2:
				shiftFactor = 1
			}
		}
	}

	dm.stepsTillRecalc = (1 << shiftFactor) - 1
	n := float64(dm.nextStep + int32(dm.stepsTillRecalc))

	var t float64
	switch dm.state {
	case DMCartLinear:
		t = n * dm.p
	case DMCartAccel:
		t = limSqrt(dm.q + dm.p*n)
	case DMCartDecelForwardsReversing:
		if dm.nextStep+int32(dm.stepsTillRecalc) < dm.reverseStartStep {
			t = -limSqrt(dm.q + dm.p*n)
			break
		}
		dm.direction = !dm.direction
		dm.directionChanged = true
		dm.state = DMCartDecelReverse
		fallthrough
	case DMCartDecelReverse:
		netSteps := 2*dm.reverseStartStep - dm.nextStep - 1
		t = limSqrt(dm.q + dm.p*float64(netSteps-int32(dm.stepsTillRecalc)))
	case DMCartDecelNoReverse:
		t = -limSqrt(dm.q + dm.p*n)
	default:
		return dm.LogStepError(4, float64(dm.state), seg)
	}

	t += dm.t0
	if math.IsNaN(t) {
		return dm.LogStepError(2, t, seg)
	}

	var it uint32
	if t < 0 {
		// Carrying almost a whole step into a segment can give a slightly negative time
		if t < -2.0 {
			return dm.LogStepError(2, t, seg)
		}
		it = 0
	} else {
		it = uint32(t)
	}

	if it > seg.duration {
		it = seg.duration
		stepsLate := dm.segmentStepLimit - (dm.nextStep + int32(dm.stepsTillRecalc))
		if stepsLate > dm.move.maxStepsLate {
			dm.move.maxStepsLate = stepsLate
		}
	}

	it += seg.startTime
	if dm.nextStep == 1 {
		dm.nextStepTime = it
	} else {
		interval := clockDiff(it, dm.nextStepTime)
		if interval > 0 {
			dm.stepInterval = uint32(interval) >> shiftFactor
		} else {
			if interval < dm.move.minStepInterval {
				dm.move.minStepInterval = interval
			}
			dm.stepInterval = 0
		}
		dm.nextStepTime = it - dm.stepsTillRecalc*dm.stepInterval
	}
	return true
}

// TakeStepsAndCalcStepTimeRarely updates the position of a drive whose
// drivers are all remote. Instead of an interrupt per step it schedules one
// every RemotePositionUpdateInterval and one at the end of each segment.
func (dm *DriveMovement) TakeStepsAndCalcStepTimeRarely(now uint32) {
	seg := dm.segments
	if dm.state == DMEnding {
		dm.currentMotorPosition = dm.positionAtSegmentStart + dm.netStepsThisSegment
		dm.distanceCarriedForwards += seg.distance - float64(dm.netStepsThisSegment)
		dm.movementAccumulator += dm.netStepsThisSegment
		dm.segments = seg.next
		dm.move.segments.Release(seg)
		seg = dm.NewSegment(now)
		if seg == nil || dm.state == DMStarting {
			return
		}
	}

	// We may be called slightly before the segment starts
	elapsed := clockDiff(now, seg.startTime)
	if elapsed < 0 {
		elapsed = 0
	}
	timeFromStart := float64(elapsed)
	moved := (seg.CalcU()+0.5*seg.a*timeFromStart)*timeFromStart + dm.distanceCarriedForwards
	dm.currentMotorPosition = dm.positionAtSegmentStart + int32(math.Round(moved))

	var target uint32
	if seg.duration <= uint32(elapsed)+MaxRemotePositionUpdateInterval {
		dm.state = DMEnding
		target = seg.duration
	} else {
		target = uint32(elapsed) + RemotePositionUpdateInterval
	}
	dm.nextStepTime = seg.startTime + target
}

// PhaseStepsTakenThisSegment returns the fractional distance moved in the
// current segment at movement time now, for phase stepping
func (dm *DriveMovement) PhaseStepsTakenThisSegment(now uint32) float64 {
	seg := dm.segments
	if seg == nil {
		return 0
	}
	elapsed := clockDiff(now, seg.startTime)
	if elapsed < 0 {
		return 0
	}
	t := float64(elapsed)
	if uint32(elapsed) >= seg.duration {
		t = float64(seg.duration)
	}
	return (dm.u + seg.a*t*0.5) * t
}

// SetStepMode selects step/dir or phase stepping. Only call it while the
// drive is idle.
func (dm *DriveMovement) SetStepMode(mode StepMode) bool {
	switch mode {
	case StepModeStepDir, StepModePhase:
		dm.stepMode = mode
		return true
	}
	return false
}

// stopLogicalDrive stops the drive if it is moving and discards its
// segments, returning the net steps taken. Called with isrLock held.
func (dm *DriveMovement) stopLogicalDrive() (netStepsTaken int32, wasMoving bool) {
	if dm.state == DMIdle {
		return 0, false
	}
	dm.move.deactivateDM(dm)
	dm.state = DMIdle
	netStepsTaken = dm.NetStepsTakenThisMove()
	seg := dm.segments
	dm.segments = nil
	dm.move.segments.ReleaseAll(seg)
	return netStepsTaken, true
}

// DebugString returns the drive's step generation state
func (dm *DriveMovement) DebugString() string {
	if dm.state == DMIdle {
		return fmt.Sprintf("DM%d: not moving", dm.drive)
	}
	dir := 'B'
	if dm.direction {
		dir = 'F'
	}
	return fmt.Sprintf("DM%d state=%s err=%d dir=%c next=%d rev=%d ssl=%d sns=%d interval=%d q=%.4g t0=%.4g p=%.4g dcf=%.2f",
		dm.drive, dm.state, dm.stepErrorType, dir, dm.nextStep, dm.reverseStartStep, dm.segmentStepLimit,
		dm.netStepsThisSegment, dm.stepInterval, dm.q, dm.t0, dm.p, dm.distanceCarriedForwards)
}
