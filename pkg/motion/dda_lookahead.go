// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import "math"

// setJunctionLimit sets the highest speed at which d may start, given the
// move before it. Isolated moves always start and end at rest.
func (d *DDA) setJunctionLimit(prev *DDA) {
	m := d.ring.move
	d.startSpeed = 0
	d.maxStartSpeed = 0
	if prev.state == DDAEmpty || d.isolatedMove || prev.isolatedMove || prev.isAsync {
		return
	}

	junction := math.Min(prev.requestedSpeed, d.requestedSpeed)
	for drive := range d.directionVector {
		diff := math.Abs(d.directionVector[drive] - prev.directionVector[drive])
		if diff > 0 {
			junction = math.Min(junction, m.drives[drive].instantDv/diff)
		}
	}

	if prev.state == DDACommitted {
		// Too late to change the previous move
		d.startSpeed = prev.endSpeed
		d.maxStartSpeed = prev.endSpeed
		if prev.endSpeed == 0 && junction > 0 {
			prev.hadLookaheadUnderrun = true
		}
		return
	}
	d.maxStartSpeed = junction
}

// doLookahead replans the provisional moves ending at last so that last
// ends at rest. It walks back only as far as start speeds can still change.
// Called with the ring mutex held.
func (r *DDARing) doLookahead(last *DDA) {
	r.lookahead(last, false)
}

func (r *DDARing) lookahead(last *DDA, replanAll bool) {
	first := last
	for first.maxStartSpeed > 0 {
		prev := first.prev
		if prev.state != DDAProvisional || (!replanAll && prev.IsGoodToPrepare()) {
			break
		}
		first = prev
	}

	// Backward pass: the fastest each move may enter and still stop in time
	exitLimit := 0.0
	for d := last; ; d = d.prev {
		d.entryLimit = math.Min(d.maxStartSpeed, math.Sqrt(exitLimit*exitLimit+2*d.maxDeceleration*d.totalDistance))
		exitLimit = d.entryLimit
		if d == first {
			break
		}
	}

	// Forward pass
	start := 0.0
	if first.maxStartSpeed > 0 {
		start = first.prev.endSpeed
	}
	for d := first; ; d = d.next {
		d.startSpeed = start
		var limit float64
		if d != last {
			limit = d.next.entryLimit
		}
		reachable := math.Sqrt(start*start + 2*d.maxAcceleration*d.totalDistance)
		d.endSpeed = math.Min(limit, math.Min(reachable, d.requestedSpeed))
		d.RecalculateMove()
		if r.move.debugFlags.Has(DebugLookahead) {
			r.log.Debug("lookahead: %s", d.DebugString())
		}
		if d == last {
			break
		}
		start = d.endSpeed
	}
}

// RecalculateMove works out the top speed and the acceleration and
// deceleration phases from the start and end speeds. If the move is too
// short to reach both, the acceleration or deceleration is raised.
func (d *DDA) RecalculateMove() {
	d.acceleration = d.maxAcceleration
	d.deceleration = d.maxDeceleration
	u, e, v := d.startSpeed, d.endSpeed, d.requestedSpeed
	a, dec, dist := d.acceleration, d.deceleration, d.totalDistance
	if v < u {
		v = u
	}
	if v < e {
		v = e
	}

	accelDistance := (v*v - u*u) / (2 * a)
	decelDistance := (v*v - e*e) / (2 * dec)
	if accelDistance+decelDistance <= dist {
		d.topSpeed = v
	} else {
		vp2 := (2*a*dec*dist + dec*u*u + a*e*e) / (a + dec)
		switch {
		case vp2 <= u*u:
			// Decelerate only
			d.topSpeed = u
			if u > e {
				d.deceleration = (u*u - e*e) / (2 * dist)
			}
		case vp2 <= e*e:
			// Accelerate only
			d.topSpeed = e
			if e > u {
				d.acceleration = (e*e - u*u) / (2 * dist)
			}
		default:
			d.topSpeed = math.Sqrt(vp2)
		}
	}
	d.clocksNeeded = d.estimateClocks()
}

// estimateClocks is the duration of the move before rounding to phases
func (d *DDA) estimateClocks() uint32 {
	u, e, v := d.startSpeed, d.endSpeed, d.topSpeed
	var t, phaseDistance float64
	if v > u && d.acceleration > 0 {
		t += (v - u) / d.acceleration
		phaseDistance += (v*v - u*u) / (2 * d.acceleration)
	}
	if v > e && d.deceleration > 0 {
		t += (v - e) / d.deceleration
		phaseDistance += (v*v - e*e) / (2 * d.deceleration)
	}
	if steady := d.totalDistance - phaseDistance; steady > 0 && v > 0 {
		t += steady / v
	}
	return max(1, uint32(math.Round(t)))
}
