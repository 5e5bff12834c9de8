// CoreXY and CoreXZ kinematics.
package kinematics

// CoreXY couples the X and Y axes through two motors:
//   - A = X + Y, B = X - Y
//   - X = (A + B)/2, Y = (A - B)/2
//
// Other axes map directly. CoreXZ is the same with Z in place of Y.
type CoreXY struct {
	Base
	name   string
	second int // the axis coupled with X
}

// NewCoreXY creates CoreXY kinematics
func NewCoreXY() *CoreXY {
	return &CoreXY{Base: newBase(), name: "corexy", second: 1}
}

// NewCoreXZ creates CoreXZ kinematics
func NewCoreXZ() *CoreXY {
	return &CoreXY{Base: newBase(), name: "corexz", second: 2}
}

func (k *CoreXY) Name() string { return k.name }

func (k *CoreXY) CartesianToMotorSteps(machinePos []float64, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, motorPos []int32, isCoordinated bool) bool {
	s := k.second
	for axis := 0; axis < numTotalAxes; axis++ {
		switch axis {
		case 0:
			motorPos[0] = mmToSteps(machinePos[0]+machinePos[s], stepsPerMm[0])
		case s:
			motorPos[s] = mmToSteps(machinePos[0]-machinePos[s], stepsPerMm[s])
		default:
			motorPos[axis] = mmToSteps(machinePos[axis], stepsPerMm[axis])
		}
	}
	return true
}

func (k *CoreXY) MotorStepsToCartesian(motorPos []int32, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, machinePos []float64) {
	s := k.second
	for axis := 0; axis < numTotalAxes; axis++ {
		machinePos[axis] = float64(motorPos[axis]) / stepsPerMm[axis]
	}
	if numTotalAxes > s {
		a := float64(motorPos[0]) / stepsPerMm[0]
		b := float64(motorPos[s]) / stepsPerMm[s]
		machinePos[0] = 0.5 * (a + b)
		machinePos[s] = 0.5 * (a - b)
	}
}

func (k *CoreXY) GetControllingDrives(axis int) AxesBitmap {
	if axis == 0 || axis == k.second {
		return AxisBit(0) | AxisBit(k.second)
	}
	return AxisBit(axis)
}

func (k *CoreXY) GetAffectedAxes(drives AxesBitmap) AxesBitmap {
	coupled := AxisBit(0) | AxisBit(k.second)
	if drives&coupled != 0 {
		return drives | coupled
	}
	return drives
}
