// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"sync"

	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/log"
	"reprap-motion/pkg/metrics"
)

// DDARing is a circular queue of DDAs. Moves between getPointer and
// addPointer are live; the provisional ones at the end form the lookahead
// window. The move task owns the ring and holds mu while it works on it;
// other goroutines take mu to look at or cut the queue.
type DDARing struct {
	move   *Move
	number int
	log    *log.Logger

	mu          sync.Mutex
	addPointer  *DDA
	getPointer  *DDA
	numDdas     int
	gracePeriod uint32 // ms

	scheduledMoves        uint32
	completedMoves        uint32
	numLookaheadUnderruns uint32
	numPrepareUnderruns   uint32
	numNoMoveUnderruns    uint32
	numLookaheadErrors    uint32

	// lifetime totals and the part already sent to metrics
	total     metrics.RingStats
	published metrics.RingStats

	waitingForRingToEmpty bool
	simulationTime        float64 // seconds
}

func newDDARing(m *Move, number, numDdas int, gracePeriod uint32) *DDARing {
	r := &DDARing{
		move:        m,
		number:      number,
		log:         m.log.Named("ring"),
		gracePeriod: gracePeriod,
	}
	first := &DDA{ring: r}
	first.resetFlags()
	first.next, first.prev = first, first
	r.addPointer = first
	r.getPointer = first
	r.numDdas = 1
	r.grow(numDdas)
	return r
}

// grow inserts DDAs just before addPointer so that addPointer.next stays
// the same
func (r *DDARing) grow(numDdas int) {
	for r.numDdas < numDdas {
		d := &DDA{ring: r}
		d.resetFlags()
		d.next = r.addPointer
		d.prev = r.addPointer.prev
		r.addPointer.prev.next = d
		r.addPointer.prev = d
		r.numDdas++
	}
}

func (r *DDARing) Number() int          { return r.number }
func (r *DDARing) NumDdas() int         { return r.numDdas }
func (r *DDARing) GracePeriod() uint32  { return r.gracePeriod }
func (r *DDARing) SimulationTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.simulationTime
}

// Exit frees every queued move
func (r *DDARing) Exit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.getPointer != r.addPointer {
		r.getPointer.Free()
		r.getPointer = r.getPointer.next
	}
}

// ConfigureMovementQueue grows the ring and sets the grace period. The
// ring can only be changed while it is idle.
func (r *DDARing) ConfigureMovementQueue(numDdas int, gracePeriod uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getPointer.state != DDAEmpty || r.move.HasActiveDMs() {
		return errors.NotFinishedError("configure movement queue")
	}
	if numDdas > r.numDdas {
		r.grow(numDdas)
	}
	r.gracePeriod = gracePeriod
	r.log.Info("ring %d: %d DDAs, grace period %dms", r.number, r.numDdas, r.gracePeriod)
	return nil
}

// CanAddMove reports whether the ring will accept another move. The free
// slot must be empty and its successor must not be provisional, and the
// unprepared moves must not already hold too much time: less than half a
// second excluding the oldest of them, or two seconds including it.
func (r *DDARing) CanAddMove() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canAddMove()
}

func (r *DDARing) canAddMove() bool {
	if r.addPointer.state != DDAEmpty || r.addPointer.next.state == DDAProvisional {
		return false
	}
	var unPreparedTime, prevMoveTime uint32
	for d := r.addPointer.prev; d.state == DDAProvisional; d = d.prev {
		unPreparedTime += prevMoveTime
		prevMoveTime = d.clocksNeeded
	}
	return unPreparedTime < StepClockRate/2 || unPreparedTime+prevMoveTime < 2*StepClockRate
}

// AddStandardMove queues a move, returning false if it has no movement
func (r *DDARing) AddStandardMove(rm *RawMove, doMotorMapping bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.addPointer.InitStandardMove(rm, doMotorMapping) {
		return false
	}
	r.advanceAddPointer()
	return true
}

// AddSpecialMove queues an isolated relative motor move
func (r *DDARing) AddSpecialMove(feedRate float64, amounts *[MaxLogicalDrives]float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.addPointer.InitSpecialMove(feedRate, amounts) {
		return false
	}
	r.advanceAddPointer()
	return true
}

// AddAsyncMove queues a move with explicit start and end speeds
func (r *DDARing) AddAsyncMove(am *AsyncMove) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.addPointer.InitAsyncMove(am) {
		return false
	}
	r.advanceAddPointer()
	return true
}

func (r *DDARing) advanceAddPointer() {
	r.addPointer = r.addPointer.next
	r.scheduledMoves++
	r.total.Scheduled++
}

func (r *DDARing) countPrepareUnderrun() {
	r.numPrepareUnderruns++
	r.total.PrepareUnderruns++
}

// retire removes the move at getPointer
func (r *DDARing) retire(simMode SimulationMode) {
	d := r.getPointer
	d.retire(simMode)
	r.completedMoves++
	r.total.Completed++
	if d.Free() {
		r.numLookaheadUnderruns++
		r.total.LookaheadUnderruns++
	}
	r.getPointer = d.next
}

// Spin retires finished moves and prepares further ones. It is called by
// the move task. signalMoveCompletion asks for a wakeup when the current
// move finishes; shouldStartMove starts the queue even if it is short.
// The result is the longest time in ms before Spin should be called again.
func (r *DDARing) Spin(simMode SimulationMode, signalMoveCompletion, shouldStartMove bool) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if simMode >= SimNormal {
		// One simulated move completes per call
		if cdda := r.getPointer; cdda.state == DDACommitted {
			r.simulationTime += float64(cdda.clocksNeeded) / StepClockRate
			r.retire(simMode)
		}
	} else {
		now := r.move.timer.MovementTicks()
		for r.getPointer.state == DDACommitted && r.getPointer.HasExpired(now) {
			r.retire(simMode)
		}
	}

	cdda := r.getPointer
	if cdda.state == DDACommitted {
		currentMove := cdda
		var preparedTime uint32
		preparedCount := 0
		now := r.move.timer.MovementTicks()
		for cdda.state == DDACommitted {
			preparedTime += cdda.GetTimeLeft(now)
			preparedCount++
			cdda = cdda.next
			if cdda == currentMove {
				break
			}
		}

		ret := uint32(StandardMoveWakeupInterval)
		if cdda.state == DDAProvisional {
			ret = r.prepareMoves(cdda, preparedTime, preparedCount, simMode)
		}
		if simMode != SimOff {
			return 0
		}
		if signalMoveCompletion || r.waitingForRingToEmpty || currentMove.isolatedMove {
			return r.finishHint(currentMove, ret)
		}
		return ret
	}

	// Nothing committed, so start the queue if we should
	if shouldStartMove || r.waitingForRingToEmpty || cdda.isolatedMove {
		ret := r.prepareMoves(cdda, 0, 0, simMode)
		if cdda.state == DDACommitted {
			if simMode != SimOff {
				return 0
			}
			if signalMoveCompletion || r.waitingForRingToEmpty || cdda.isolatedMove {
				return r.finishHint(cdda, ret)
			}
		}
		return ret
	}

	if cdda.state == DDAProvisional {
		return MoveStartPollInterval
	}
	return StandardMoveWakeupInterval
}

// finishHint returns the ms until just after d finishes, if sooner than ret
func (r *DDARing) finishHint(d *DDA, ret uint32) uint32 {
	left := clockDiff(d.moveStartTime+d.clocksNeeded, r.move.timer.MovementTicks())
	if left < 0 {
		return 0
	}
	if moveTime := uint32(left)/(StepClockRate/1000) + 1; moveTime < ret {
		return moveTime
	}
	return ret
}

// prepareMoves prepares moves until UsualMinimumPreparedTime is covered or
// half the ring is prepared. A move following an endstop move waits until
// that move has been retired, because its start position is only known
// then. The result is the ms until more moves need preparing.
func (r *DDARing) prepareMoves(first *DDA, moveTimeLeft uint32, alreadyPrepared int, simMode SimulationMode) uint32 {
	for first.state == DDAProvisional &&
		moveTimeLeft < UsualMinimumPreparedTime &&
		alreadyPrepared*2 < r.numDdas {
		if p := first.prev; p.state == DDACommitted && p.checkEndstops {
			break
		}
		first.Prepare(simMode)
		moveTimeLeft += first.GetTimeLeft(r.move.timer.MovementTicks())
		alreadyPrepared++
		first = first.next
	}

	if first.state != DDAProvisional {
		return StandardMoveWakeupInterval
	}
	if simMode != SimOff {
		return 1
	}
	clocksTillWakeup := int32(moveTimeLeft - UsualMinimumPreparedTime)
	if clocksTillWakeup <= 0 {
		return 2
	}
	return max(uint32(clocksTillWakeup)/(StepClockRate/1000), 2)
}

// IsIdle reports that the ring holds no moves
func (r *DDARing) IsIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getPointer.state == DDAEmpty
}

// SetWaitingToEmpty tells the ring that someone is waiting for it to empty.
// It returns true if it is already empty.
func (r *DDARing) SetWaitingToEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waitingForRingToEmpty = true
	if r.getPointer.state == DDAEmpty {
		r.waitingForRingToEmpty = false
		return true
	}
	return false
}

// GetLastEndpoints returns the motor endpoints of the last queued move
func (r *DDARing) GetLastEndpoints() [MaxLogicalDrives]int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addPointer.prev.endPoint
}

// SetLastEndpoints overrides the endpoints of the drives in the bitmap.
// The drives must not be moving in the last queued move.
func (r *DDARing) SetLastEndpoints(drives uint32, ep *[MaxLogicalDrives]int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLastEndpoints(drives, ep)
}

func (r *DDARing) setLastEndpoints(drives uint32, ep *[MaxLogicalDrives]int32) {
	m := r.move
	prev := r.addPointer.prev
	for drive := range prev.endPoint {
		if drives&(1<<uint(drive)) != 0 {
			prev.endPoint[drive] = ep[drive]
		}
	}
	n := m.numTotalAxes
	m.kin.MotorStepsToCartesian(prev.endPoint[:n], m.stepsPerMmSlice(), m.numVisibleAxes, n, prev.endCoordinates[:n])
}

// GetCurrentMachinePosition returns the machine coordinates at the end of
// the last queued move
func (r *DDARing) GetCurrentMachinePosition() [MaxAxes]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addPointer.prev.endCoordinates
}

// GetCurrentDDA returns the move that is executing now, or nil
func (r *DDARing) GetCurrentDDA() *DDA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentDDA()
}

func (r *DDARing) currentDDA() *DDA {
	now := r.move.timer.MovementTicks()
	cdda := r.getPointer
	for i := 0; i < r.numDdas && cdda.state == DDACommitted; i++ {
		running := clockDiff(now, cdda.moveStartTime)
		if running < 0 {
			break
		}
		if uint32(running) < cdda.clocksNeeded {
			return cdda
		}
		cdda = cdda.next
	}
	return nil
}

// Reporting values of the executing move, zero when none is executing

func (r *DDARing) GetRequestedSpeedMmPerSec() float64 {
	if d := r.GetCurrentDDA(); d != nil {
		return d.RequestedSpeed()
	}
	return 0
}

func (r *DDARing) GetTopSpeedMmPerSec() float64 {
	if d := r.GetCurrentDDA(); d != nil {
		return d.TopSpeed()
	}
	return 0
}

func (r *DDARing) GetAccelerationMmPerSecSquared() float64 {
	if d := r.GetCurrentDDA(); d != nil {
		return d.Acceleration()
	}
	return 0
}

func (r *DDARing) GetDecelerationMmPerSecSquared() float64 {
	if d := r.GetCurrentDDA(); d != nil {
		return d.Deceleration()
	}
	return 0
}

func (r *DDARing) GetTotalExtrusionRate() float64 {
	if d := r.GetCurrentDDA(); d != nil {
		return d.TotalExtrusionRate()
	}
	return 0
}

// PauseMoves cuts the queue after the first move that can be paused
// after. It returns true and fills ms.PauseRestorePoint from the first
// skipped move if any moves were skipped. Otherwise only the coordinates
// of the restore point are updated.
func (r *DDARing) PauseMoves(ms *MovementState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.move
	savedAddPointer := r.addPointer

	m.isrLock.Lock()
	d := r.getPointer
	if d != savedAddPointer {
		pauseOkHere := d.CanPauseAfter()
		d = d.next
		for d != savedAddPointer {
			if pauseOkHere {
				r.addPointer = d
				d.Free()
				break
			}
			pauseOkHere = d.CanPauseAfter()
			d = d.next
		}
	}
	m.isrLock.Unlock()

	rp := &ms.PauseRestorePoint
	prev := r.addPointer.prev
	copy(rp.MoveCoords[:], prev.endCoordinates[:])
	if r.addPointer == savedAddPointer {
		return false
	}

	d = r.addPointer
	rp.ProportionDone = d.proportionDone
	rp.InitialUserC0 = d.initialUserC0
	rp.InitialUserC1 = d.initialUserC1
	if d.usingStandardFeedrate {
		rp.FeedRate = d.RequestedSpeed() / ms.SpeedFactor
	} else {
		rp.FeedRate = ms.FeedRate / ms.SpeedFactor
	}
	rp.VirtualExtruderPosition = d.virtualExtruderPosition
	rp.FilePos = d.filePos
	rp.ToolNumber = d.tool

	for {
		d.Free()
		r.scheduledMoves--
		d = d.next
		if d == savedAddPointer {
			break
		}
	}

	// The new last move must now end at rest
	if prev.state == DDAProvisional {
		r.lookahead(prev, true)
	}
	r.log.Info("ring %d paused, resume from file position %d", r.number, rp.FilePos)
	return true
}

// LowPowerOrStallPause stops as soon as possible. A move with a file
// position that is executing is aborted; otherwise the queue is cut before
// the first provisional move with a file position. It returns false if
// nothing could be skipped.
func (r *DDARing) LowPowerOrStallPause(rp *RestorePoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.move
	savedAddPointer := r.addPointer
	abortedMove := false

	d := r.currentDDA()
	if d != nil && d.filePos != NoFilePosition {
		m.CancelStepping()
		abortedMove = true
		r.scheduledMoves--
	} else {
		if d == nil {
			d = r.getPointer
		}
		// Committed moves already have segments queued, so they run to the end
		for d != savedAddPointer && (d.filePos == NoFilePosition || d.state != DDAProvisional) {
			d = d.next
		}
	}
	if d == savedAddPointer {
		return false
	}

	rp.FeedRate = d.RequestedSpeed()
	rp.VirtualExtruderPosition = d.virtualExtruderPosition
	rp.FilePos = d.filePos
	rp.ProportionDone = d.proportionDone
	rp.InitialUserC0 = d.initialUserC0
	rp.InitialUserC1 = d.initialUserC1
	rp.ToolNumber = d.tool

	if abortedMove {
		// The aborted move stays as the last move, ending where it stopped
		d.syncEndpoints()
		r.addPointer = d.next
	} else {
		r.addPointer = d
	}
	copy(rp.MoveCoords[:], r.addPointer.prev.endCoordinates[:])

	for d := r.addPointer; d != savedAddPointer; d = d.next {
		d.Free()
		r.scheduledMoves--
	}
	r.log.Warn("ring %d stopped immediately, resume from file position %d", r.number, rp.FilePos)
	return true
}

// RingDiagnostics is a snapshot of a ring's counters
type RingDiagnostics struct {
	Ring               int     `json:"ring"`
	ScheduledMoves     uint32  `json:"scheduled_moves"`
	CompletedMoves     uint32  `json:"completed_moves"`
	LookaheadErrors    uint32  `json:"lookahead_errors"`
	LookaheadUnderruns uint32  `json:"lookahead_underruns"`
	PrepareUnderruns   uint32  `json:"prepare_underruns"`
	NoMoveUnderruns    uint32  `json:"no_move_underruns"`
	SimulationTime     float64 `json:"simulation_time,omitempty"`
}

// Diagnostics returns the ring's counters and resets the underrun counts
func (r *DDARing) Diagnostics() RingDiagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.snapshot()
	r.numLookaheadUnderruns = 0
	r.numPrepareUnderruns = 0
	r.numNoMoveUnderruns = 0
	r.numLookaheadErrors = 0
	return d
}

// Snapshot returns the ring's counters without resetting them
func (r *DDARing) Snapshot() RingDiagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *DDARing) snapshot() RingDiagnostics {
	return RingDiagnostics{
		Ring:               r.number,
		ScheduledMoves:     r.scheduledMoves,
		CompletedMoves:     r.completedMoves,
		LookaheadErrors:    r.numLookaheadErrors,
		LookaheadUnderruns: r.numLookaheadUnderruns,
		PrepareUnderruns:   r.numPrepareUnderruns,
		NoMoveUnderruns:    r.numNoMoveUnderruns,
		SimulationTime:     r.simulationTime,
	}
}

// depth counts the live moves
func (r *DDARing) depth() int {
	n := 0
	for d := r.getPointer; d != r.addPointer && n < r.numDdas; d = d.next {
		n++
	}
	return n
}

// publishMetrics sends the counter increments since the last call
func (r *DDARing) publishMetrics(mm *metrics.MotionMetrics) {
	r.mu.Lock()
	delta := metrics.RingStats{
		Scheduled:          r.total.Scheduled - r.published.Scheduled,
		Completed:          r.total.Completed - r.published.Completed,
		LookaheadUnderruns: r.total.LookaheadUnderruns - r.published.LookaheadUnderruns,
		PrepareUnderruns:   r.total.PrepareUnderruns - r.published.PrepareUnderruns,
		Depth:              r.depth(),
	}
	r.published = r.total
	r.mu.Unlock()
	mm.RecordRing(r.number, delta)
}
