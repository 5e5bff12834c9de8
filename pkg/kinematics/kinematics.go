// Package kinematics converts between machine (Cartesian) coordinates and
// motor positions in steps.
package kinematics

import (
	"math"
)

// AxesBitmap has bit n set for axis n
type AxesBitmap uint32

// AxisBit returns the bitmap with just axis set
func AxisBit(axis int) AxesBitmap { return AxesBitmap(1) << uint(axis) }

func (b AxesBitmap) Has(axis int) bool { return b&AxisBit(axis) != 0 }

// Iterate calls fn for each axis in the bitmap in ascending order
func (b AxesBitmap) Iterate(fn func(axis int)) {
	for axis := 0; b != 0; axis++ {
		if b&1 != 0 {
			fn(axis)
		}
		b >>= 1
	}
}

// AxisLetters names the axes in index order
const AxisLetters = "XYZUVWABC"

// Kinematics is the capability interface the motion system uses to map
// coordinates. Slices are indexed by axis; stepsPerMm covers every axis.
type Kinematics interface {
	// Name returns the kinematics type name
	Name() string

	// CartesianToMotorSteps converts machine coordinates to motor positions.
	// It returns false if the position cannot be reached.
	CartesianToMotorSteps(machinePos []float64, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, motorPos []int32, isCoordinated bool) bool

	// MotorStepsToCartesian converts motor positions to machine coordinates
	MotorStepsToCartesian(motorPos []int32, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, machinePos []float64)

	// GetControllingDrives returns the motors whose movement moves axis
	GetControllingDrives(axis int) AxesBitmap

	// GetAffectedAxes returns the axes that move when the given motors move
	GetAffectedAxes(drives AxesBitmap) AxesBitmap

	// LimitPosition clamps the axes in axesToLimit to the axis limits,
	// reporting whether anything was changed
	LimitPosition(pos []float64, numVisibleAxes int, axesToLimit AxesBitmap) bool

	// SetAxisLimits sets the travel of one axis
	SetAxisLimits(axis int, min, max float64)

	// AxisLimits returns the travel of one axis
	AxisLimits(axis int) (min, max float64)
}

// Base holds the axis limits shared by all kinematics
type Base struct {
	axisMin [len(AxisLetters)]float64
	axisMax [len(AxisLetters)]float64
}

func newBase() Base {
	var b Base
	for i := range b.axisMin {
		b.axisMin[i] = 0
		b.axisMax[i] = 200
	}
	return b
}

func (b *Base) SetAxisLimits(axis int, min, max float64) {
	if axis >= 0 && axis < len(b.axisMin) {
		b.axisMin[axis] = min
		b.axisMax[axis] = max
	}
}

func (b *Base) AxisLimits(axis int) (float64, float64) {
	if axis < 0 || axis >= len(b.axisMin) {
		return 0, 0
	}
	return b.axisMin[axis], b.axisMax[axis]
}

func (b *Base) LimitPosition(pos []float64, numVisibleAxes int, axesToLimit AxesBitmap) bool {
	limited := false
	for axis := 0; axis < numVisibleAxes && axis < len(pos); axis++ {
		if !axesToLimit.Has(axis) {
			continue
		}
		if pos[axis] < b.axisMin[axis] {
			pos[axis] = b.axisMin[axis]
			limited = true
		} else if pos[axis] > b.axisMax[axis] {
			pos[axis] = b.axisMax[axis]
			limited = true
		}
	}
	return limited
}

// mmToSteps rounds a motor position in mm to whole steps
func mmToSteps(mm, stepsPerMm float64) int32 {
	return int32(math.Round(mm * stepsPerMm))
}
