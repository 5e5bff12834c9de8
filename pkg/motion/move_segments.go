// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

// AddSegment merges the motion [startTime, startTime+duration) into a
// detached segment list and returns the new list head. Overlapping parts
// are split at the overlap boundaries and superimposed: distances and
// accelerations add. A new segment that starts or ends within
// segmentMinDuration of an existing boundary is shortened to meet it
// instead of creating a sliver. pressureAdvance, in clocks squared, adds
// a*pressureAdvance to the distance.
func (m *Move) AddSegment(list *MoveSegment, startTime, duration uint32, distance, a float64, flags MovementFlags, pressureAdvance float64) *MoveSegment {
	distance += a * pressureAdvance
	if m.debugFlags.Has(DebugSegments) {
		m.log.Debug("Add seg: st=%d t=%d dist=%.2f a=%.4e", startTime, duration, distance, a)
	}
	minDuration := m.segmentMinDuration

	var prev *MoveSegment
	seg := list
	for seg != nil {
		offset := clockDiff(startTime, seg.startTime)
		if offset < 0 {
			// New segment starts before this one
			if offset+int32(duration) <= 0 {
				break
			}
			if -offset <= int32(minDuration) && duration >= 10*minDuration {
				// Starts only slightly early: start it with this segment
				startTime = seg.startTime
				duration = uint32(int32(duration) + offset)
			} else {
				firstDuration := uint32(-offset)
				firstDistance := (CalcInitialSpeed(duration, distance, a) + 0.5*a*float64(firstDuration)) * float64(firstDuration)
				newSeg := m.segments.Allocate(seg)
				newSeg.SetParameters(startTime, firstDuration, firstDistance, a, flags)
				m.segmentsCreated++
				if prev == nil {
					list = newSeg
				} else {
					prev.next = newSeg
				}
				duration -= firstDuration
				startTime += firstDuration
				distance -= firstDistance
				prev = newSeg
			}
			offset = 0
		}

		if offset < int32(seg.duration) {
			if offset != 0 && offset+int32(minDuration) >= int32(seg.duration) && duration >= 10*minDuration {
				// Starts just before this segment ends: postpone it to the end
				startDelay := seg.duration - uint32(offset)
				startTime += startDelay
				duration -= startDelay
				continue
			}
			if offset != 0 {
				prev = seg
				seg = seg.Split(uint32(offset), m.segments)
				m.segmentsCreated++
			}
			timeDifference := int32(duration) - int32(seg.duration)
			if timeDifference > 0 && timeDifference <= int32(minDuration) && duration >= 10*minDuration {
				duration = seg.duration
				timeDifference = 0
			}
			if timeDifference > 0 {
				// Merge the part that overlaps seg and carry on with the rest
				firstDistance := (CalcInitialSpeed(duration, distance, a) + 0.5*a*float64(seg.duration)) * float64(seg.duration)
				seg.Merge(firstDistance, a, flags)
				distance -= firstDistance
				startTime += seg.duration
				duration = uint32(timeDifference)
				continue
			}
			if timeDifference < 0 {
				seg.Split(duration, m.segments)
				m.segmentsCreated++
			}
			seg.Merge(distance, a, flags)
			return list
		}
		prev = seg
		seg = seg.next
	}

	newSeg := m.segments.Allocate(seg)
	newSeg.SetParameters(startTime, duration, distance, a, flags)
	m.segmentsCreated++
	if prev == nil {
		list = newSeg
	} else {
		prev.next = newSeg
	}
	return list
}

// AddLinearSegments adds the segments of one drive's share of a prepared
// move. The part of the drive's segment list that the move overlaps is
// detached under isrLock, edited without it and then re-attached, so the
// interrupt is only excluded for the list splices. steps is the drive's
// movement over the whole move.
func (m *Move) AddLinearSegments(dda *DDA, drive int, startTime uint32, params *PrepParams, steps float64, flags MovementFlags) {
	dm := &m.dms[drive]
	if m.debugFlags.Has(DebugSegments) {
		m.log.Debug("AddLin: drive %s st=%d steps=%.2f a=%d s=%d d=%d", driveName(drive), startTime, steps,
			params.accelClocks, params.steadyClocks, params.decelClocks)
	}

	// Detach the tail that starts at or after startTime
	var tail *MoveSegment
	m.isrLock.Lock()
	var prev *MoveSegment
	seg := dm.segments
	for seg != nil && clockDiff(startTime, seg.EndTime()) >= 0 {
		prev = seg
		seg = seg.next
	}
	if seg != nil {
		if seg.IsExecuting() {
			dm.LogStepError(3, float64(clockDiff(startTime, seg.startTime)), seg)
			m.isrLock.Unlock()
			return
		}
		if clockDiff(startTime, seg.startTime) > 0 {
			tail = seg.Split(startTime-seg.startTime, m.segments)
			m.segmentsCreated++
			seg.next = nil
		} else {
			tail = seg
			if prev == nil {
				dm.segments = nil
			} else {
				prev.next = nil
			}
		}
	}
	m.isrLock.Unlock()

	steadyStart := startTime + params.accelClocks
	decelStart := steadyStart + params.steadyClocks
	stepsPerMm := steps / params.totalDistance

	var accelDistance float64
	switch {
	case params.accelClocks == 0:
	case params.decelClocks+params.steadyClocks == 0:
		accelDistance = params.totalDistance
	default:
		accelDistance = params.accelDistance
	}
	var decelDistance float64
	if params.steadyClocks == 0 {
		decelDistance = params.totalDistance - accelDistance
	} else {
		decelDistance = params.totalDistance - params.decelStartDistance
	}
	if params.decelClocks == 0 {
		decelDistance = 0
	}
	var steadyDistance float64
	if params.steadyClocks != 0 {
		steadyDistance = params.totalDistance - accelDistance - decelDistance
	}

	var accelPA, decelPA float64
	if flags.Has(FlagIsExtruder) && !flags.Has(FlagNonPrintingMove) && dda.usePressureAdvance {
		k := m.extruders[drive-MaxAxes].KClocks()
		accelPA = float64(params.accelClocks) * k
		decelPA = float64(params.decelClocks) * k
	}

	if flags.Has(FlagNoShaping) {
		if params.accelClocks != 0 {
			tail = m.AddSegment(tail, startTime, params.accelClocks, accelDistance*stepsPerMm, params.acceleration*stepsPerMm, flags, accelPA)
		}
		if params.steadyClocks != 0 {
			tail = m.AddSegment(tail, steadyStart, params.steadyClocks, steadyDistance*stepsPerMm, 0, flags, 0)
		}
		if params.decelClocks != 0 {
			tail = m.AddSegment(tail, decelStart, params.decelClocks, decelDistance*stepsPerMm, -params.deceleration*stepsPerMm, flags, decelPA)
		}
	} else {
		// Each impulse moves its share of every phase. The last impulse
		// takes what the others left so that the shares sum to the move.
		accelLeft, steadyLeft, decelLeft := accelDistance*stepsPerMm, steadyDistance*stepsPerMm, decelDistance*stepsPerMm
		last := m.axisShaper.NumImpulses() - 1
		for i := 0; i <= last; i++ {
			factor := m.axisShaper.ImpulseSize(i) * stepsPerMm
			delay := m.axisShaper.ImpulseDelay(i)
			accelShare, steadyShare, decelShare := accelLeft, steadyLeft, decelLeft
			if i < last {
				accelShare = accelDistance * factor
				steadyShare = steadyDistance * factor
				decelShare = decelDistance * factor
				accelLeft -= accelShare
				steadyLeft -= steadyShare
				decelLeft -= decelShare
			}
			if params.accelClocks != 0 {
				tail = m.AddSegment(tail, startTime+delay, params.accelClocks, accelShare, params.acceleration*factor, flags, accelPA)
			}
			if params.steadyClocks != 0 {
				tail = m.AddSegment(tail, steadyStart+delay, params.steadyClocks, steadyShare, 0, flags, 0)
			}
			if params.decelClocks != 0 {
				tail = m.AddSegment(tail, decelStart+delay, params.decelClocks, decelShare, -params.deceleration*factor, flags, decelPA)
			}
		}
	}

	// Re-attach the tail and start the drive if it was idle
	m.isrLock.Lock()
	defer m.isrLock.Unlock()
	if dm.segments == nil {
		dm.segments = tail
		dm.positionAtMoveStart = dm.currentMotorPosition
	} else {
		last := dm.segments
		for last.next != nil {
			last = last.next
		}
		last.next = tail
	}
	if dm.state != DMIdle {
		return
	}
	if dm.ScheduleFirstSegment() {
		dm.directionChanged = false
		m.setDirection(drive, dm.direction)
		m.insertDM(dm)
		if m.activeDMs == dm && m.simMode == SimOff && m.scheduleNextStepInterrupt() {
			m.interruptLocked()
		}
	} else if dm.state == DMPhaseStepping {
		dm.nextDM = m.phaseStepDMs
		m.phaseStepDMs = dm
	}
}
