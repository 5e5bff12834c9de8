// Cartesian kinematics: each axis has its own motor.
package kinematics

// Cartesian implements direct axis-to-motor mapping
type Cartesian struct {
	Base
}

// NewCartesian creates cartesian kinematics
func NewCartesian() *Cartesian {
	return &Cartesian{Base: newBase()}
}

func (k *Cartesian) Name() string { return "cartesian" }

func (k *Cartesian) CartesianToMotorSteps(machinePos []float64, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, motorPos []int32, isCoordinated bool) bool {
	for axis := 0; axis < numTotalAxes; axis++ {
		motorPos[axis] = mmToSteps(machinePos[axis], stepsPerMm[axis])
	}
	return true
}

func (k *Cartesian) MotorStepsToCartesian(motorPos []int32, stepsPerMm []float64, numVisibleAxes, numTotalAxes int, machinePos []float64) {
	for axis := 0; axis < numTotalAxes; axis++ {
		machinePos[axis] = float64(motorPos[axis]) / stepsPerMm[axis]
	}
}

func (k *Cartesian) GetControllingDrives(axis int) AxesBitmap { return AxisBit(axis) }

func (k *Cartesian) GetAffectedAxes(drives AxesBitmap) AxesBitmap { return drives }
