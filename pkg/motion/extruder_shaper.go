// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

// ExtruderShaper holds the pressure advance of one extruder. K is stored in
// step clocks; the extra extrusion of a phase is K times its change in speed.
type ExtruderShaper struct {
	k float64
}

func (e *ExtruderShaper) KClocks() float64  { return e.k }
func (e *ExtruderShaper) KSeconds() float64 { return e.k / StepClockRate }

// SetKSeconds sets the pressure advance in seconds. Negative values are
// treated as zero.
func (e *ExtruderShaper) SetKSeconds(s float64) {
	if s < 0 {
		s = 0
	}
	e.k = s * StepClockRate
}
