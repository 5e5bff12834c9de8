// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package inputshaper computes the impulse sequence used to shape the
// acceleration and deceleration phases of axis moves. A shaped move is the
// sum of copies of the unshaped move, each scaled by an impulse size and
// delayed by the impulse delay.
package inputshaper

import (
	"fmt"
	"math"
	"strings"
)

// Params holds the user-facing shaper settings.
type Params struct {
	Type         ShaperType
	Frequency    float64 // Hz
	DampingRatio float64
}

// DefaultParams returns shaping disabled.
func DefaultParams() Params {
	return Params{Type: ShaperNone, Frequency: DefaultFrequency, DampingRatio: DefaultDampingRatio}
}

// Validate checks the settings and fills in defaults.
func (p *Params) Validate() error {
	p.Type = ShaperType(strings.ToLower(strings.TrimSpace(string(p.Type))))
	if p.Type == "" {
		p.Type = ShaperNone
	}
	if p.DampingRatio <= 0 {
		p.DampingRatio = DefaultDampingRatio
	}
	if p.Type == ShaperNone {
		return nil
	}
	def := lookup(p.Type)
	if def == nil {
		return fmt.Errorf("unsupported shaper type: %s", p.Type)
	}
	if p.DampingRatio > def.maxDampingRatio {
		return fmt.Errorf("damping ratio %.3f exceeds maximum %.3f for shaper %s",
			p.DampingRatio, def.maxDampingRatio, p.Type)
	}
	if p.Frequency <= 0 {
		return fmt.Errorf("shaper frequency must be positive, got %.3f", p.Frequency)
	}
	return nil
}

// Impulse is one term of the shaping sequence
type Impulse struct {
	Size  float64 // fraction of the move, the sizes sum to 1
	Delay uint32  // step clocks after the unshaped start time
}

// AxisShaper holds the impulse sequence, in step clocks, for the current
// shaper settings.
type AxisShaper struct {
	params    Params
	clockRate float64
	impulses  []Impulse
	saved     []Impulse
}

// NewAxisShaper creates a shaper with shaping disabled.
func NewAxisShaper(clockRate uint32) *AxisShaper {
	return &AxisShaper{params: DefaultParams(), clockRate: float64(clockRate)}
}

// Configure validates p and recomputes the impulses.
func (s *AxisShaper) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.params = p
	s.saved = nil
	s.impulses = nil
	if p.Type == ShaperNone {
		return nil
	}

	a, t := lookup(p.Type).impulses(p.Frequency, p.DampingRatio)
	var sum float64
	for _, v := range a {
		sum += v
	}
	s.impulses = make([]Impulse, len(a))
	left := 1.0
	for i := range a {
		size := a[i] / sum
		if i == len(a)-1 {
			size = left
		}
		left -= size
		s.impulses[i] = Impulse{
			Size:  size,
			Delay: uint32(math.Round((t[i] - t[0]) * s.clockRate)),
		}
	}
	return nil
}

// Params returns the current settings.
func (s *AxisShaper) Params() Params { return s.params }

// IsEnabled returns true if shaping is active.
func (s *AxisShaper) IsEnabled() bool { return len(s.impulses) > 1 }

// NumImpulses returns the number of impulses, zero when shaping is disabled.
func (s *AxisShaper) NumImpulses() int { return len(s.impulses) }

func (s *AxisShaper) ImpulseSize(i int) float64 { return s.impulses[i].Size }
func (s *AxisShaper) ImpulseDelay(i int) uint32 { return s.impulses[i].Delay }

// TotalDelay returns how much later a shaped move finishes than an unshaped one.
func (s *AxisShaper) TotalDelay() uint32 {
	if len(s.impulses) == 0 {
		return 0
	}
	return s.impulses[len(s.impulses)-1].Delay
}

// Disable turns shaping off until Enable is called.
func (s *AxisShaper) Disable() {
	if s.saved == nil && len(s.impulses) > 0 {
		s.saved = s.impulses
	}
	s.impulses = nil
}

// Enable restores shaping turned off by Disable.
func (s *AxisShaper) Enable() {
	if s.saved == nil {
		return
	}
	s.impulses, s.saved = s.saved, nil
}

// GetStatus returns status information.
func (s *AxisShaper) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"shaper_type":   string(s.params.Type),
		"shaper_freq":   fmt.Sprintf("%.3f", s.params.Frequency),
		"damping_ratio": fmt.Sprintf("%.6f", s.params.DampingRatio),
		"impulses":      len(s.impulses),
	}
}
