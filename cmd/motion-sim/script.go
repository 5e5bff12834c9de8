package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"reprap-motion/pkg/kinematics"
	"reprap-motion/pkg/motion"
)

// Step kinds
const (
	stepMove    = "move"
	stepRaw     = "raw"
	stepSpecial = "special"
	stepAsync   = "async"
	stepPause   = "pause"
	stepStall   = "stall"
	stepHome    = "home"
)

// Script is a list of moves for the simulator.
//
//	name: square
//	feed: 50
//	moves:
//	  - {x: 10, y: 0}
//	  - {x: 10, y: 10, e: 0.4}
//	  - {type: special, z: 0.2, feed: 5}
//	  - {type: pause}
type Script struct {
	Name  string  `yaml:"name"`
	Feed  float64 `yaml:"feed"`  // mm/s, used when a step has none
	Accel float64 `yaml:"accel"` // mm/s^2, zero for the drive limits
	Steps []Step  `yaml:"moves"`
}

// Step is one script entry. Axis values are absolute positions for moves
// and relative amounts for special and async moves; e is always relative.
type Step struct {
	Type string   `yaml:"type"`
	X    *float64 `yaml:"x"`
	Y    *float64 `yaml:"y"`
	Z    *float64 `yaml:"z"`
	U    *float64 `yaml:"u"`
	V    *float64 `yaml:"v"`
	W    *float64 `yaml:"w"`
	E    float64  `yaml:"e"`
	Feed float64  `yaml:"feed"`

	// async moves only
	StartSpeed float64 `yaml:"start_speed"`
	EndSpeed   float64 `yaml:"end_speed"`

	// home: axis letters whose endstops stop the move
	Endstops string `yaml:"endstops"`
	Probe    bool   `yaml:"probe"`
}

func (s *Step) axisValues() []*float64 {
	return []*float64{s.X, s.Y, s.Z, s.U, s.V, s.W}
}

// LoadScript reads and validates a YAML move script
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML move script
func ParseScript(data []byte) (*Script, error) {
	var sc Script
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if sc.Feed <= 0 {
		sc.Feed = 50
	}
	for i := range sc.Steps {
		st := &sc.Steps[i]
		st.Type = strings.ToLower(strings.TrimSpace(st.Type))
		if st.Type == "" {
			st.Type = stepMove
		}
		switch st.Type {
		case stepMove, stepRaw, stepSpecial, stepAsync, stepPause, stepStall:
		case stepHome:
			for _, c := range strings.ToUpper(st.Endstops) {
				if !strings.ContainsRune(kinematics.AxisLetters, c) {
					return nil, fmt.Errorf("step %d: unknown endstop axis %q", i+1, c)
				}
			}
		default:
			return nil, fmt.Errorf("step %d: unknown type %q", i+1, st.Type)
		}
		if st.Feed < 0 {
			return nil, fmt.Errorf("step %d: negative feed", i+1)
		}
	}
	return &sc, nil
}

// feeder turns script steps into moves. Position tracks the commanded
// machine position so that steps may leave axes out.
type feeder struct {
	script   *Script
	next     int
	position [motion.MaxAxes]float64
	numAxes  int
	fired    map[int]bool // pause and stall steps already run
}

func newFeeder(sc *Script, numAxes int) *feeder {
	return &feeder{script: sc, numAxes: numAxes, fired: make(map[int]bool)}
}

func (f *feeder) done() bool { return f.next >= len(f.script.Steps) }

func (f *feeder) feed(st *Step) float64 {
	if st.Feed > 0 {
		return st.Feed
	}
	return f.script.Feed
}

// rawMove builds the move for step index i. The file position is the step
// index so that a pause can resume from it.
func (f *feeder) rawMove(i int, rm *motion.RawMove) {
	st := &f.script.Steps[i]
	rm.SetDefaults(0)
	for axis, v := range st.axisValues() {
		if axis < f.numAxes && v != nil {
			f.position[axis] = *v
		}
	}
	copy(rm.Coords[:f.numAxes], f.position[:f.numAxes])
	rm.Coords[motion.ExtruderDrive(0)] = st.E
	rm.FeedRate = f.feed(st)
	rm.Acceleration = f.script.Accel
	rm.FilePos = motion.FilePosition(i)
	rm.IsCoordinated = true
	rm.UsePressureAdvance = st.E != 0
	rm.Tool = 0

	switch st.Type {
	case stepRaw:
		rm.MoveType = motion.MoveTypeRawMotor
		rm.CanPauseAfter = false
	case stepHome:
		rm.MoveType = motion.MoveTypeHoming
		rm.CheckEndstops = true
		rm.CanPauseAfter = false
		rm.UseZProbe = st.Probe
		for _, c := range strings.ToUpper(st.Endstops) {
			rm.EndstopAxes |= kinematics.AxisBit(strings.IndexRune(kinematics.AxisLetters, c))
		}
	}
}

// amounts returns the relative movements of a special or async step. A
// special move shifts the tracked position; an async move drives axes of
// its own ring and does not.
func (f *feeder) amounts(st *Step) [motion.MaxLogicalDrives]float64 {
	var a [motion.MaxLogicalDrives]float64
	for axis, v := range st.axisValues() {
		if axis < f.numAxes && v != nil {
			a[axis] = *v
			if st.Type == stepSpecial {
				f.position[axis] += *v
			}
		}
	}
	a[motion.ExtruderDrive(0)] = st.E
	return a
}

// resume rewinds to the first skipped step after a pause
func (f *feeder) resume(rp *motion.RestorePoint) {
	if rp.FilePos >= 0 && int(rp.FilePos) < len(f.script.Steps) {
		f.next = int(rp.FilePos)
	}
	copy(f.position[:], rp.MoveCoords[:])
}
