// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import "math"

// MinimumAccelOrDecelClocks is the shortest acceleration or deceleration
// phase; shorter ones are folded into the steady phase
const MinimumAccelOrDecelClocks = 10

// steady phases shorter than this distance in mm are dropped
const minSteadyDistance = 1e-6

// PrepParams are the phase timings of a prepared move. Distances are in mm
// along the move, clocks are step clocks and rates are mm/clock^2.
type PrepParams struct {
	totalDistance      float64
	accelDistance      float64
	decelStartDistance float64
	accelClocks        uint32
	steadyClocks       uint32
	decelClocks        uint32
	acceleration       float64
	deceleration       float64
}

func (p *PrepParams) AccelClocks() uint32  { return p.accelClocks }
func (p *PrepParams) SteadyClocks() uint32 { return p.steadyClocks }
func (p *PrepParams) DecelClocks() uint32  { return p.decelClocks }
func (p *PrepParams) TotalClocks() uint32  { return p.accelClocks + p.steadyClocks + p.decelClocks }

// SetFromDDA rounds the move's phases to whole clocks. The acceleration
// and deceleration are then adjusted so that each phase still covers its
// distance and the start and end speeds are kept exactly.
func (p *PrepParams) SetFromDDA(d *DDA) {
	u, v, e := d.startSpeed, d.topSpeed, d.endSpeed
	total := d.totalDistance
	*p = PrepParams{totalDistance: total}

	var accelDistance, decelDistance float64
	if v > u && d.acceleration > 0 {
		accelDistance = (v*v - u*u) / (2 * d.acceleration)
	}
	if v > e && d.deceleration > 0 {
		decelDistance = (v*v - e*e) / (2 * d.deceleration)
	}
	accelDistance = math.Min(accelDistance, total)
	decelDistance = math.Min(decelDistance, total-accelDistance)

	if accelDistance > 0 {
		p.accelClocks = uint32(math.Round((v - u) / d.acceleration))
	}
	if decelDistance > 0 {
		p.decelClocks = uint32(math.Round((v - e) / d.deceleration))
	}
	p.accelDistance = accelDistance
	p.decelStartDistance = total - decelDistance
	if p.accelClocks < MinimumAccelOrDecelClocks {
		p.accelClocks = 0
		p.accelDistance = 0
	}
	if p.decelClocks < MinimumAccelOrDecelClocks {
		p.decelClocks = 0
		p.decelStartDistance = total
	}

	steadyDistance := p.decelStartDistance - p.accelDistance
	switch {
	case steadyDistance >= minSteadyDistance:
		p.steadyClocks = max(1, uint32(math.Round(steadyDistance/v)))
	case p.decelClocks != 0:
		p.decelStartDistance = p.accelDistance
	case p.accelClocks != 0:
		p.accelDistance = total
		p.decelStartDistance = total
	}
	if p.TotalClocks() == 0 {
		// Everything was folded away
		p.accelDistance = 0
		p.decelStartDistance = total
		p.steadyClocks = max(1, uint32(math.Round(total/math.Max(v, math.Max(u, e)))))
	}

	if p.accelClocks != 0 {
		t := float64(p.accelClocks)
		dist := p.accelDistance
		if p.steadyClocks == 0 && p.decelClocks == 0 {
			dist = total
		}
		p.acceleration = 2 * (dist - u*t) / (t * t)
	}
	if p.decelClocks != 0 {
		t := float64(p.decelClocks)
		dist := total - p.decelStartDistance
		if p.steadyClocks == 0 {
			dist = total - p.accelDistance
		}
		p.deceleration = 2 * (dist - e*t) / (t * t)
	}
}
