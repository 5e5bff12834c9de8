// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package inputshaper

import "math"

const (
	// Vibration allowed to remain at the design frequency by the EI shapers
	vibrationTolerance = 1.0 / 20.0

	DefaultDampingRatio = 0.1
	DefaultFrequency    = 40.0
)

// ShaperType names an input shaper
type ShaperType string

const (
	ShaperNone    ShaperType = "none"
	ShaperZV      ShaperType = "zv"
	ShaperMZV     ShaperType = "mzv"
	ShaperZVD     ShaperType = "zvd"
	ShaperEI      ShaperType = "ei"
	Shaper2HumpEI ShaperType = "2hump_ei"
	Shaper3HumpEI ShaperType = "3hump_ei"
)

// definition describes how to compute one shaper's impulses. Amplitudes
// returned by impulses are not normalised; times are in seconds from the
// first impulse.
type definition struct {
	name            ShaperType
	impulses        func(freq, damping float64) (a, t []float64)
	maxDampingRatio float64
}

var definitions = []definition{
	{ShaperZV, zvImpulses, 0.99},
	{ShaperMZV, mzvImpulses, 0.99},
	{ShaperZVD, zvdImpulses, 0.99},
	{ShaperEI, eiImpulses, 0.4},
	{Shaper2HumpEI, twoHumpEIImpulses, 0.3},
	{Shaper3HumpEI, threeHumpEIImpulses, 0.2},
}

func lookup(name ShaperType) *definition {
	for i := range definitions {
		if definitions[i].name == name {
			return &definitions[i]
		}
	}
	return nil
}

// Types lists the shapers that can be configured
func Types() []ShaperType {
	types := []ShaperType{ShaperNone}
	for _, d := range definitions {
		types = append(types, d.name)
	}
	return types
}

// damped period and decay factor shared by the ZV family
func dampedPeriod(freq, damping float64) (td, df float64) {
	df = math.Sqrt(1.0 - damping*damping)
	return 1.0 / (freq * df), df
}

func zvImpulses(freq, damping float64) ([]float64, []float64) {
	td, df := dampedPeriod(freq, damping)
	k := math.Exp(-damping * math.Pi / df)
	return []float64{1.0, k}, []float64{0.0, 0.5 * td}
}

func zvdImpulses(freq, damping float64) ([]float64, []float64) {
	td, df := dampedPeriod(freq, damping)
	k := math.Exp(-damping * math.Pi / df)
	return []float64{1.0, 2.0 * k, k * k}, []float64{0.0, 0.5 * td, td}
}

func mzvImpulses(freq, damping float64) ([]float64, []float64) {
	td, df := dampedPeriod(freq, damping)
	k := math.Exp(-0.75 * damping * math.Pi / df)
	a1 := 1.0 - 1.0/math.Sqrt2
	return []float64{a1, (math.Sqrt2 - 1.0) * k, a1 * k * k},
		[]float64{0.0, 0.375 * td, 0.75 * td}
}

func eiImpulses(freq, damping float64) ([]float64, []float64) {
	td, _ := dampedPeriod(freq, damping)
	v, d := vibrationTolerance, damping

	a1 := (0.24968 + 0.24961*v) + ((0.80008+1.23328*v)+(0.49599+3.17316*v)*d)*d
	a3 := (0.25149 + 0.21474*v) + ((-0.83249+1.41498*v)+(0.85181-4.90094*v)*d)*d
	a2 := 1.0 - a1 - a3
	t2 := 0.4999 + (((0.46159+8.57843*v)*v)+
		(((4.26169-108.644*v)*v)+
			((1.75601+336.989*v)*v)*d)*d)*d

	return []float64{a1, a2, a3}, []float64{0.0, t2 * td, td}
}

// polynomialImpulses evaluates impulse times and amplitudes given as
// polynomials in the damping ratio, times in units of the natural period
func polynomialImpulses(freq, damping float64, tc, ac [][]float64) ([]float64, []float64) {
	period := 1.0 / freq
	a := make([]float64, len(ac))
	t := make([]float64, len(ac))
	for i := range ac {
		var tv, av float64
		for j := len(ac[i]) - 1; j >= 0; j-- {
			tv = tv*damping + tc[i][j]
			av = av*damping + ac[i][j]
		}
		t[i] = tv * period
		a[i] = av
	}
	return a, t
}

func twoHumpEIImpulses(freq, damping float64) ([]float64, []float64) {
	tc := [][]float64{
		{0.0, 0.0, 0.0, 0.0},
		{0.49890, 0.16270, -0.54262, 6.16180},
		{0.99748, 0.18382, -1.58270, 8.17120},
		{1.49920, -0.09297, -0.28338, 1.85710},
	}
	ac := [][]float64{
		{0.16054, 0.76699, 2.26560, -1.22750},
		{0.33911, 0.45081, -2.58080, 1.73650},
		{0.34089, -0.61533, -0.68765, 0.42261},
		{0.15997, -0.60246, 1.00280, -0.93145},
	}
	return polynomialImpulses(freq, damping, tc, ac)
}

func threeHumpEIImpulses(freq, damping float64) ([]float64, []float64) {
	tc := [][]float64{
		{0.0, 0.0, 0.0, 0.0},
		{0.49974, 0.23834, 0.44559, 12.4720},
		{0.99849, 0.29808, -2.36460, 23.3990},
		{1.49870, 0.10306, -2.01390, 17.0320},
		{1.99960, -0.28231, 0.61536, 5.40450},
	}
	ac := [][]float64{
		{0.11275, 0.76632, 3.29160, -1.44380},
		{0.23698, 0.61164, -2.57850, 4.85220},
		{0.30008, -0.19062, -2.14560, 0.13744},
		{0.23775, -0.73297, 0.46885, -2.08650},
		{0.11244, -0.45439, 0.96382, -1.46000},
	}
	return polynomialImpulses(freq, damping, tc, ac)
}
