// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"math"
	"strings"

	"reprap-motion/pkg/kinematics"
)

// DDAState is the lifecycle state of a DDA
type DDAState uint8

const (
	DDAEmpty DDAState = iota
	DDAProvisional
	DDACommitted
)

func (s DDAState) String() string {
	switch s {
	case DDAEmpty:
		return "empty"
	case DDAProvisional:
		return "provisional"
	case DDACommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// DDA describes one coordinated move. While provisional its start and end
// speeds may be changed by lookahead; once committed it is read only.
// Speeds are in mm/clock and accelerations in mm/clock^2.
type DDA struct {
	ring       *DDARing
	next, prev *DDA
	state      DDAState

	endPoint        [MaxLogicalDrives]int32
	endCoordinates  [MaxAxes]float64
	directionVector [MaxLogicalDrives]float64
	extrusion       [MaxExtruders]float64 // mm
	netSteps        [MaxLogicalDrives]int32
	totalDistance   float64

	requestedSpeed  float64
	topSpeed        float64
	startSpeed      float64
	endSpeed        float64
	maxStartSpeed   float64
	entryLimit      float64
	maxAcceleration float64
	maxDeceleration float64
	acceleration    float64
	deceleration    float64

	clocksNeeded  uint32
	moveStartTime uint32
	params        PrepParams
	drivesMoving  uint32

	isPrintingMove            bool
	isNonPrintingExtruderMove bool
	isolatedMove              bool
	isRawMotorMove            bool
	isAsync                   bool
	checkEndstops             bool
	stopAllOnEndstop          bool
	useZProbe                 bool
	endstopAxes               kinematics.AxesBitmap
	canPauseAfter             bool
	usePressureAdvance        bool
	usingStandardFeedrate     bool
	hadLookaheadUnderrun      bool

	tool                    int
	filePos                 FilePosition
	proportionDone          float64
	initialUserC0           float64
	initialUserC1           float64
	virtualExtruderPosition float64
}

func (d *DDA) State() DDAState           { return d.state }
func (d *DDA) Next() *DDA                { return d.next }
func (d *DDA) Prev() *DDA                { return d.prev }
func (d *DDA) FilePos() FilePosition     { return d.filePos }
func (d *DDA) ClocksNeeded() uint32      { return d.clocksNeeded }
func (d *DDA) MoveStartTime() uint32     { return d.moveStartTime }
func (d *DDA) TotalDistance() float64    { return d.totalDistance }
func (d *DDA) IsIsolated() bool          { return d.isolatedMove }
func (d *DDA) IsCheckingEndstops() bool  { return d.checkEndstops }
func (d *DDA) IsPrintingMove() bool      { return d.isPrintingMove }
func (d *DDA) Params() PrepParams        { return d.params }
func (d *DDA) EndPoint(drive int) int32  { return d.endPoint[drive] }
func (d *DDA) Tool() int                 { return d.tool }
func (d *DDA) DrivesMoving() uint32      { return d.drivesMoving }
func (d *DDA) UsingStandardFeedrate() bool {
	return d.usingStandardFeedrate
}

// Speeds in mm/s and accelerations in mm/s^2
func (d *DDA) RequestedSpeed() float64 { return d.requestedSpeed * StepClockRate }
func (d *DDA) TopSpeed() float64       { return d.topSpeed * StepClockRate }
func (d *DDA) StartSpeed() float64     { return d.startSpeed * StepClockRate }
func (d *DDA) EndSpeed() float64       { return d.endSpeed * StepClockRate }
func (d *DDA) Acceleration() float64   { return d.acceleration * StepClockRate * StepClockRate }
func (d *DDA) Deceleration() float64   { return d.deceleration * StepClockRate * StepClockRate }

// EndCoordinates returns the machine coordinates at the end of the move
func (d *DDA) EndCoordinates() [MaxAxes]float64 { return d.endCoordinates }

// TotalExtrusionRate returns the combined extruder feed rate at top speed in mm/s
func (d *DDA) TotalExtrusionRate() float64 {
	var rate float64
	for e := 0; e < d.ring.move.numExtruders; e++ {
		rate += d.directionVector[ExtruderDrive(e)]
	}
	return rate * d.topSpeed * StepClockRate
}

// IsGoodToPrepare reports that the move never decelerates, so lookahead
// cannot make it any faster
func (d *DDA) IsGoodToPrepare() bool {
	return d.endSpeed >= d.topSpeed
}

// CanPauseAfter reports whether the queue may be cut after this move. The
// following moves must still be provisional, and a committed move must
// already end at rest.
func (d *DDA) CanPauseAfter() bool {
	return d.canPauseAfter && d.next.state == DDAProvisional && (d.state != DDACommitted || d.endSpeed == 0)
}

// Free returns the DDA to the empty state. It reports whether the move had
// a lookahead underrun; freeing an empty DDA does nothing and returns false.
func (d *DDA) Free() bool {
	if d.state == DDAEmpty {
		return false
	}
	d.state = DDAEmpty
	return d.hadLookaheadUnderrun
}

func (d *DDA) resetFlags() {
	d.isPrintingMove = false
	d.isNonPrintingExtruderMove = false
	d.isolatedMove = false
	d.isRawMotorMove = false
	d.isAsync = false
	d.checkEndstops = false
	d.stopAllOnEndstop = false
	d.useZProbe = false
	d.endstopAxes = 0
	d.canPauseAfter = true
	d.usePressureAdvance = false
	d.usingStandardFeedrate = false
	d.hadLookaheadUnderrun = false
	d.drivesMoving = 0
	d.tool = -1
	d.filePos = NoFilePosition
	d.proportionDone = 0
	d.initialUserC0 = 0
	d.initialUserC1 = 0
	d.virtualExtruderPosition = 0
	d.startSpeed = 0
	d.endSpeed = 0
	d.maxStartSpeed = 0
	d.netSteps = [MaxLogicalDrives]int32{}
}

// setMotion fills in the direction vector, distance and speed limits from
// the new endpoints. axisDistance is the length of the move in machine
// coordinates, or zero to use the length of the motor movement. It returns
// false if nothing moves.
func (d *DDA) setMotion(endPoint *[MaxLogicalDrives]int32, extrusion *[MaxExtruders]float64, axisDistance, feedRate, accel float64) bool {
	m := d.ring.move
	prev := d.prev
	var motorMm [MaxLogicalDrives]float64
	var motorSq float64
	moving := false
	for axis := 0; axis < m.numTotalAxes; axis++ {
		if delta := endPoint[axis] - prev.endPoint[axis]; delta != 0 {
			moving = true
			motorMm[axis] = float64(delta) / m.drives[axis].stepsPerMm
			motorSq += motorMm[axis] * motorMm[axis]
		}
	}
	for e := 0; e < m.numExtruders; e++ {
		if amount := extrusion[e]; amount != 0 {
			moving = true
			motorMm[ExtruderDrive(e)] = amount
			motorSq += amount * amount
		}
	}
	if !moving {
		return false
	}
	total := axisDistance
	if total <= 0 {
		total = math.Sqrt(motorSq)
	}
	if total <= 0 {
		return false
	}

	speed := math.Inf(1)
	if feedRate > 0 {
		speed = mmPerSecToClocks(feedRate)
	}
	acc := math.Inf(1)
	if accel > 0 {
		acc = mmPerSec2ToClocks(accel)
	}
	for drive := range d.directionVector {
		dv := motorMm[drive] / total
		d.directionVector[drive] = dv
		if dv == 0 {
			continue
		}
		adv := math.Abs(dv)
		speed = math.Min(speed, m.drives[drive].maxSpeed/adv)
		acc = math.Min(acc, m.drives[drive].maxAcceleration/adv)
	}

	d.totalDistance = total
	d.requestedSpeed = speed
	d.maxAcceleration = acc
	d.maxDeceleration = acc
	d.acceleration = acc
	d.deceleration = acc
	d.endPoint = *endPoint
	d.extrusion = *extrusion
	return true
}

// InitStandardMove sets up the DDA from a raw move and runs lookahead. It
// returns false, leaving the DDA empty, if the move is degenerate or
// unreachable. With doMotorMapping clear the axis coordinates are motor
// positions in mm.
func (d *DDA) InitStandardMove(rm *RawMove, doMotorMapping bool) bool {
	m := d.ring.move
	prev := d.prev
	n := m.numTotalAxes
	d.resetFlags()

	endPoint := prev.endPoint
	spm := m.stepsPerMmSlice()
	var axisDistance float64
	if doMotorMapping {
		if !m.kin.CartesianToMotorSteps(rm.Coords[:n], spm, m.numVisibleAxes, n, endPoint[:n], rm.IsCoordinated) {
			if m.debugFlags.Has(DebugPrintBadMoves) {
				m.log.Warn("unreachable move to %v", rm.Coords[:n])
			}
			return false
		}
		var sq float64
		for axis := 0; axis < m.numVisibleAxes; axis++ {
			delta := rm.Coords[axis] - prev.endCoordinates[axis]
			sq += delta * delta
		}
		axisDistance = math.Sqrt(sq)
	} else {
		for axis := 0; axis < n; axis++ {
			endPoint[axis] = roundSteps(rm.Coords[axis] * spm[axis])
		}
	}

	var extrusion [MaxExtruders]float64
	anyExtrusion, positiveExtrusion := false, false
	for e := 0; e < m.numExtruders; e++ {
		drive := ExtruderDrive(e)
		extrusion[e] = rm.Coords[drive]
		endPoint[drive] = prev.endPoint[drive] + roundSteps(extrusion[e]*m.drives[drive].stepsPerMm)
		if extrusion[e] != 0 {
			anyExtrusion = true
		}
		if extrusion[e] > 0 {
			positiveExtrusion = true
		}
	}

	if !d.setMotion(&endPoint, &extrusion, axisDistance, rm.FeedRate, rm.Acceleration) {
		return false
	}

	if doMotorMapping {
		copy(d.endCoordinates[:n], rm.Coords[:n])
	} else {
		m.kin.MotorStepsToCartesian(d.endPoint[:n], spm, m.numVisibleAxes, n, d.endCoordinates[:n])
	}

	d.isPrintingMove = axisDistance > 0 && positiveExtrusion
	d.isNonPrintingExtruderMove = anyExtrusion && !d.isPrintingMove
	d.isRawMotorMove = !doMotorMapping || rm.MoveType != MoveTypeNormal
	d.checkEndstops = rm.CheckEndstops
	d.endstopAxes = rm.EndstopAxes
	d.stopAllOnEndstop = rm.StopAllOnEndstop
	d.useZProbe = rm.UseZProbe
	d.isolatedMove = rm.CheckEndstops || rm.MoveType != MoveTypeNormal
	d.canPauseAfter = rm.CanPauseAfter
	d.usePressureAdvance = rm.UsePressureAdvance
	d.usingStandardFeedrate = rm.UsingStandardFeedrate
	d.tool = rm.Tool
	d.filePos = rm.FilePos
	d.proportionDone = rm.ProportionDone
	d.initialUserC0 = rm.InitialUserC0
	d.initialUserC1 = rm.InitialUserC1
	d.virtualExtruderPosition = rm.VirtualExtruderPosition

	d.setJunctionLimit(prev)
	d.state = DDAProvisional
	d.ring.doLookahead(d)
	if m.debugFlags.Has(DebugPrintAllMoves) {
		m.log.Debug("new move: %s", d.DebugString())
	}
	return true
}

// InitSpecialMove sets up an isolated raw motor move. amounts are relative
// motor movements in mm per logical drive.
func (d *DDA) InitSpecialMove(feedRate float64, amounts *[MaxLogicalDrives]float64) bool {
	m := d.ring.move
	prev := d.prev
	n := m.numTotalAxes
	d.resetFlags()

	endPoint := prev.endPoint
	for axis := 0; axis < n; axis++ {
		endPoint[axis] += roundSteps(amounts[axis] * m.drives[axis].stepsPerMm)
	}
	var extrusion [MaxExtruders]float64
	for e := 0; e < m.numExtruders; e++ {
		drive := ExtruderDrive(e)
		extrusion[e] = amounts[drive]
		endPoint[drive] += roundSteps(extrusion[e] * m.drives[drive].stepsPerMm)
	}
	if !d.setMotion(&endPoint, &extrusion, 0, feedRate, 0) {
		return false
	}
	m.kin.MotorStepsToCartesian(d.endPoint[:n], m.stepsPerMmSlice(), m.numVisibleAxes, n, d.endCoordinates[:n])

	d.isRawMotorMove = true
	d.isolatedMove = true
	d.isNonPrintingExtruderMove = d.extrusionAny()
	d.canPauseAfter = false
	d.state = DDAProvisional
	d.ring.doLookahead(d)
	return true
}

// InitAsyncMove sets up a move for the async ring. Async moves carry their
// own start and end speeds and take no part in lookahead.
func (d *DDA) InitAsyncMove(am *AsyncMove) bool {
	m := d.ring.move
	prev := d.prev
	n := m.numTotalAxes
	d.resetFlags()

	endPoint := prev.endPoint
	for axis := 0; axis < n; axis++ {
		endPoint[axis] += roundSteps(am.Movements[axis] * m.drives[axis].stepsPerMm)
	}
	var extrusion [MaxExtruders]float64
	for e := 0; e < m.numExtruders; e++ {
		drive := ExtruderDrive(e)
		extrusion[e] = am.Movements[drive]
		endPoint[drive] += roundSteps(extrusion[e] * m.drives[drive].stepsPerMm)
	}
	if !d.setMotion(&endPoint, &extrusion, 0, am.RequestedSpeed, am.Acceleration) {
		return false
	}
	if am.Deceleration > 0 {
		d.maxDeceleration = math.Min(d.maxDeceleration, mmPerSec2ToClocks(am.Deceleration))
	}
	m.kin.MotorStepsToCartesian(d.endPoint[:n], m.stepsPerMmSlice(), m.numVisibleAxes, n, d.endCoordinates[:n])

	d.isAsync = true
	d.isRawMotorMove = true
	d.canPauseAfter = false
	d.startSpeed = math.Min(mmPerSecToClocks(am.StartSpeed), d.requestedSpeed)
	d.endSpeed = math.Min(mmPerSecToClocks(am.EndSpeed), d.requestedSpeed)
	d.maxStartSpeed = d.startSpeed
	d.RecalculateMove()
	d.state = DDAProvisional
	return true
}

func (d *DDA) extrusionAny() bool {
	for _, e := range d.extrusion {
		if e != 0 {
			return true
		}
	}
	return false
}

// Prepare freezes the move and generates the segments of every drive
// that moves. The move starts when the previous one finishes, or after
// AbsoluteMinimumPreparedTime if that is too soon.
func (d *DDA) Prepare(simMode SimulationMode) {
	m := d.ring.move
	d.params.SetFromDDA(d)
	d.clocksNeeded = d.params.TotalClocks()

	now := m.timer.MovementTicks()
	prev := d.prev
	if prev.state == DDACommitted && clockDiff(prev.moveStartTime+prev.clocksNeeded, now) > AbsoluteMinimumPreparedTime {
		d.moveStartTime = prev.moveStartTime + prev.clocksNeeded
	} else {
		d.moveStartTime = now + AbsoluteMinimumPreparedTime
		if prev.state == DDACommitted {
			d.ring.countPrepareUnderrun()
		}
	}

	// Planned net steps, used for the step counters
	m.forEachDrive(func(drive int) {
		if m.isExtruderDrive(drive) {
			d.netSteps[drive] = roundSteps(d.extrusion[drive-MaxAxes] * m.drives[drive].stepsPerMm)
		} else {
			d.netSteps[drive] = d.endPoint[drive] - prev.endPoint[drive]
		}
	})

	if simMode >= SimNormal {
		d.state = DDACommitted
		return
	}

	if d.checkEndstops {
		d.enableEndstops()
	}

	var flags MovementFlags
	if d.isolatedMove || !m.axisShaper.IsEnabled() {
		flags |= FlagNoShaping
	}
	if d.checkEndstops {
		flags |= FlagCheckEndstops
	}
	if !d.isPrintingMove {
		flags |= FlagNonPrintingMove
	}

	d.drivesMoving = 0
	m.forEachDrive(func(drive int) {
		var steps float64
		driveFlags := flags
		if m.isExtruderDrive(drive) {
			steps = d.extrusion[drive-MaxAxes] * m.drives[drive].stepsPerMm
			driveFlags |= FlagIsExtruder
		} else {
			steps = float64(d.endPoint[drive] - prev.endPoint[drive])
		}
		if steps == 0 {
			return
		}
		d.drivesMoving |= 1 << uint(drive)
		m.AddLinearSegments(d, drive, d.moveStartTime, &d.params, steps, driveFlags)
	})

	if d.checkEndstops {
		m.isrLock.Lock()
		m.checkEndstopsLocked(false)
		m.isrLock.Unlock()
	}
	d.state = DDACommitted
}

func (d *DDA) enableEndstops() {
	m := d.ring.move
	m.endstops.DisableAll()
	var axes []int
	d.endstopAxes.Iterate(func(axis int) { axes = append(axes, axis) })
	if len(axes) != 0 {
		if err := m.endstops.EnableAxisEndstops(axes, d.stopAllOnEndstop); err != nil {
			m.log.WithError(err).Warn("cannot enable endstops")
		}
	}
	if d.useZProbe {
		if err := m.endstops.EnableZProbe(); err != nil {
			m.log.WithError(err).Warn("cannot enable Z probe")
		}
	}
}

// GetTimeLeft returns the clocks until a committed move finishes, or the
// duration of a provisional one
func (d *DDA) GetTimeLeft(now uint32) uint32 {
	switch d.state {
	case DDACommitted:
		left := clockDiff(d.moveStartTime+d.clocksNeeded, now)
		if left < 0 {
			return 0
		}
		return uint32(left)
	case DDAProvisional:
		return d.clocksNeeded
	default:
		return 0
	}
}

// HasExpired reports whether a committed move has finished. A move that
// checks endstops has also finished once all its drives have stopped.
func (d *DDA) HasExpired(now uint32) bool {
	if d.state != DDACommitted {
		return false
	}
	if clockDiff(now, d.moveStartTime+d.clocksNeeded) >= 0 {
		return true
	}
	return d.checkEndstops && d.ring.move.AreDrivesStopped(d.drivesMoving)
}

// retire is called when the ring removes a finished move. An endstop move
// takes its endpoints from where the drives actually stopped.
func (d *DDA) retire(simMode SimulationMode) {
	m := d.ring.move
	if d.checkEndstops && simMode < SimNormal {
		m.endstops.DisableAll()
		d.syncEndpoints()
	}
	if m.metrics != nil && simMode < SimNormal {
		m.forEachDrive(func(drive int) {
			m.metrics.AddSteps(drive, d.netSteps[drive])
		})
	}
}

// syncEndpoints sets the axis endpoints to the current motor positions
func (d *DDA) syncEndpoints() {
	m := d.ring.move
	n := m.numTotalAxes
	m.isrLock.Lock()
	for axis := 0; axis < n; axis++ {
		if d.drivesMoving&(1<<uint(axis)) == 0 {
			continue
		}
		pos := m.dms[axis].currentMotorPosition
		d.netSteps[axis] += pos - d.endPoint[axis]
		d.endPoint[axis] = pos
	}
	m.isrLock.Unlock()
	m.kin.MotorStepsToCartesian(d.endPoint[:n], m.stepsPerMmSlice(), m.numVisibleAxes, n, d.endCoordinates[:n])
}

// DebugString describes the move
func (d *DDA) DebugString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DDA %s d=%.3f", d.state, d.totalDistance)
	for drive, dv := range d.directionVector {
		if dv != 0 {
			fmt.Fprintf(&sb, " %s:%d(%.3f)", driveName(drive), d.endPoint[drive], dv)
		}
	}
	fmt.Fprintf(&sb, " vreq=%.2f vtop=%.2f vstart=%.2f vend=%.2f acc=%.1f dec=%.1f clocks=%d start=%d",
		d.RequestedSpeed(), d.TopSpeed(), d.StartSpeed(), d.EndSpeed(), d.Acceleration(), d.Deceleration(),
		d.clocksNeeded, d.moveStartTime)
	if d.isolatedMove {
		sb.WriteString(" isolated")
	}
	if d.checkEndstops {
		sb.WriteString(" endstops")
	}
	if d.filePos != NoFilePosition {
		fmt.Fprintf(&sb, " fp=%d", d.filePos)
	}
	return sb.String()
}
