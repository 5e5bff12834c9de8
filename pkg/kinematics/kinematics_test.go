package kinematics

import (
	"testing"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"cartesian", "cartesian", false},
		{" CoreXY ", "corexy", false},
		{"corexz", "corexz", false},
		{"", "cartesian", false},
		{"delta", "", true},
	}
	for _, tt := range tests {
		k, err := New(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q) should fail", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q): %v", tt.name, err)
		}
		if k.Name() != tt.want {
			t.Errorf("New(%q).Name() = %s, want %s", tt.name, k.Name(), tt.want)
		}
	}
}

func TestCartesianRoundTrip(t *testing.T) {
	k := NewCartesian()
	spm := []float64{80, 80, 400}
	pos := []float64{10, 20.5, 0.25}
	motors := make([]int32, 3)
	if !k.CartesianToMotorSteps(pos, spm, 3, 3, motors, true) {
		t.Fatal("position should be reachable")
	}
	if motors[0] != 800 || motors[1] != 1640 || motors[2] != 100 {
		t.Errorf("motors = %v", motors)
	}
	back := make([]float64, 3)
	k.MotorStepsToCartesian(motors, spm, 3, 3, back)
	for i := range pos {
		if back[i] != pos[i] {
			t.Errorf("axis %d: got %v want %v", i, back[i], pos[i])
		}
	}
}

func TestCoreXYMapping(t *testing.T) {
	k := NewCoreXY()
	spm := []float64{100, 100, 400}
	motors := make([]int32, 3)
	k.CartesianToMotorSteps([]float64{10, 5, 1}, spm, 3, 3, motors, true)
	if motors[0] != 1500 || motors[1] != 500 || motors[2] != 400 {
		t.Errorf("motors = %v, want [1500 500 400]", motors)
	}
	back := make([]float64, 3)
	k.MotorStepsToCartesian(motors, spm, 3, 3, back)
	if back[0] != 10 || back[1] != 5 || back[2] != 1 {
		t.Errorf("back = %v", back)
	}

	if got := k.GetControllingDrives(1); got != AxisBit(0)|AxisBit(1) {
		t.Errorf("controlling drives of Y = %b", got)
	}
	if got := k.GetAffectedAxes(AxisBit(0)); got != AxisBit(0)|AxisBit(1) {
		t.Errorf("affected axes of A = %b", got)
	}
	if got := k.GetAffectedAxes(AxisBit(2)); got != AxisBit(2) {
		t.Errorf("affected axes of Z = %b", got)
	}
}

func TestLimitPosition(t *testing.T) {
	k := NewCartesian()
	k.SetAxisLimits(0, 0, 100)
	k.SetAxisLimits(1, -10, 10)
	pos := []float64{150, -20, 5}
	if !k.LimitPosition(pos, 3, AxisBit(0)) {
		t.Error("X should have been limited")
	}
	if pos[0] != 100 || pos[1] != -20 {
		t.Errorf("pos = %v", pos)
	}
	if !k.LimitPosition(pos, 3, AxisBit(0)|AxisBit(1)) || pos[1] != -10 {
		t.Errorf("Y not limited: %v", pos)
	}
	if min, max := k.AxisLimits(1); min != -10 || max != 10 {
		t.Errorf("limits = %v,%v", min, max)
	}
}

func TestAxesBitmapIterate(t *testing.T) {
	var got []int
	(AxisBit(0) | AxisBit(3) | AxisBit(5)).Iterate(func(a int) { got = append(got, a) })
	if len(got) != 3 || got[0] != 0 || got[1] != 3 || got[2] != 5 {
		t.Errorf("Iterate = %v", got)
	}
}
