// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	stderrors "errors"
	"fmt"
	"strings"

	"reprap-motion/pkg/config"
	"reprap-motion/pkg/endstop"
	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/inputshaper"
	"reprap-motion/pkg/kinematics"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// configErr converts a parser error into a HostError carrying the section
// and option it came from
func configErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *config.ConfigError
	if stderrors.As(err, &ce) {
		code := errors.ErrConfigOption
		if ce.Option == "" {
			code = errors.ErrConfigSection
		}
		return errors.Wrap(err, code, "machine config").SetSection(ce.Section).SetOption(ce.Option)
	}
	return err
}

// LoadMachineConfig builds a Move from a machine configuration. The [move]
// section sets the geometry and queue sizes; [axis <letter>],
// [extruder <n>], [input_shaper] and [endstop <letter>] refine it.
// Collaborators in opts are used as given.
func LoadMachineConfig(cfg *config.Config, opts Options) (*Move, error) {
	sec, err := cfg.GetSection("move")
	if err != nil {
		return nil, configErr(err)
	}
	if err := readMoveSection(sec, &opts); err != nil {
		return nil, err
	}

	m, err := NewMove(opts)
	if err != nil {
		return nil, err
	}

	idle, err := sec.GetFloatWithBounds("idle_timeout", config.FloatBounds{MinVal: floatPtr(0)}, 30)
	if err != nil {
		return nil, configErr(err)
	}
	m.SetIdleTimeout(idle)
	factor, err := sec.GetFloat("idle_current_factor", 0.3)
	if err != nil {
		return nil, configErr(err)
	}
	if err := m.SetIdleCurrentFactor(factor); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "idle_current_factor").SetSection("move")
	}
	minDur, err := sec.GetIntWithBounds("segment_min_duration", intPtr(0), nil, DefaultSegmentMinDuration)
	if err != nil {
		return nil, configErr(err)
	}
	m.SetSegmentMinDuration(uint32(minDur))

	for axis := 0; axis < m.numTotalAxes; axis++ {
		name := "axis " + strings.ToLower(kinematics.AxisLetters[axis:axis+1])
		if s := cfg.GetSectionOptional(name); s != nil {
			if err := m.applyDriveSection(s, axis); err != nil {
				return nil, err
			}
			if err := m.applyAxisLimits(s, axis); err != nil {
				return nil, err
			}
		}
		if s := cfg.GetSectionOptional("endstop " + strings.ToLower(kinematics.AxisLetters[axis:axis+1])); s != nil {
			if err := m.addEndstop(s, axis); err != nil {
				return nil, err
			}
		}
	}

	for e := 0; e < m.numExtruders; e++ {
		s := cfg.GetSectionOptional(fmt.Sprintf("extruder %d", e))
		if s == nil {
			continue
		}
		if err := m.applyDriveSection(s, ExtruderDrive(e)); err != nil {
			return nil, err
		}
		pa, err := s.GetFloatWithBounds("pressure_advance", config.FloatBounds{MinVal: floatPtr(0)}, 0)
		if err != nil {
			return nil, configErr(err)
		}
		if err := m.ConfigurePressureAdvance([]int{e}, pa); err != nil {
			return nil, err
		}
	}

	if s := cfg.GetSectionOptional("input_shaper"); s != nil {
		p, err := readShaperSection(s)
		if err != nil {
			return nil, err
		}
		if err := m.ConfigureInputShaping(p); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigValidation, "input shaping").SetSection("input_shaper")
		}
	}

	if err := cfg.CheckUnusedSections(); err != nil {
		return nil, configErr(err)
	}
	if err := cfg.CheckUnusedOptions(); err != nil {
		return nil, configErr(err)
	}
	return m, nil
}

func readMoveSection(sec *config.Section, opts *Options) error {
	if opts.Kinematics == nil {
		name, err := sec.GetChoice("kinematics", kinematics.SupportedTypes(), "cartesian")
		if err != nil {
			return configErr(err)
		}
		kin, err := kinematics.New(name)
		if err != nil {
			return err
		}
		opts.Kinematics = kin
	}

	axes, err := sec.Get("axes", "XYZ")
	if err != nil {
		return configErr(err)
	}
	axes = strings.ToUpper(strings.TrimSpace(axes))
	if axes == "" || len(axes) > MaxAxes || !strings.HasPrefix(kinematics.AxisLetters, axes) {
		return errors.ConfigValidationError("move", "axes",
			fmt.Sprintf("%q must name axes in the order %s", axes, kinematics.AxisLetters))
	}
	opts.NumAxes = len(axes)

	if opts.NumExtruders, err = sec.GetIntWithBounds("extruders", intPtr(0), intPtr(MaxExtruders), 1); err != nil {
		return configErr(err)
	}
	if opts.RingSize, err = sec.GetIntWithBounds("ring_size", intPtr(3), nil, DefaultRingSize); err != nil {
		return configErr(err)
	}
	if opts.AuxRingSize, err = sec.GetIntWithBounds("aux_ring_size", intPtr(0), nil, 0); err != nil {
		return configErr(err)
	}
	if opts.AuxRingSize > 0 && opts.AuxRingSize < 3 {
		return errors.ConfigValidationError("move", "aux_ring_size", "must be 0 or at least 3")
	}
	grace, err := sec.GetIntWithBounds("grace_period", intPtr(1), nil, DefaultGracePeriod)
	if err != nil {
		return configErr(err)
	}
	opts.GracePeriod = uint32(grace)
	return nil
}

// applyDriveSection reads the options common to axes and extruders
func (m *Move) applyDriveSection(s *config.Section, drive int) error {
	positive := config.FloatBounds{Above: floatPtr(0)}
	cur := m.drives[drive]

	micro, err := s.GetIntWithBounds("microstepping", intPtr(1), intPtr(256), cur.microstepping)
	if err != nil {
		return configErr(err)
	}
	interpolate, err := s.GetBool("interpolate", cur.interpolate)
	if err != nil {
		return configErr(err)
	}
	drivers, err := s.GetIntList("drivers", ",", cur.drivers)
	if err != nil {
		return configErr(err)
	}
	remote, err := s.GetBool("remote", cur.remote)
	if err != nil {
		return configErr(err)
	}
	if err := m.SetDriveDrivers(drive, drivers, remote); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "drivers").SetSection(s.GetName())
	}
	if err := m.SetMicrostepping(drive, micro, interpolate); err != nil {
		return errors.Wrap(err, errors.ErrConfigValidation, "microstepping").SetSection(s.GetName())
	}

	spm, err := s.GetFloatWithBounds("steps_per_mm", config.FloatBounds{MinVal: floatPtr(MinimumStepsPerMm)}, cur.stepsPerMm)
	if err != nil {
		return configErr(err)
	}
	if err := m.SetDriveStepsPerMm(drive, spm, 0); err != nil {
		return err
	}

	speed, err := s.GetFloatWithBounds("max_speed", positive, cur.maxSpeed*StepClockRate)
	if err != nil {
		return configErr(err)
	}
	if err := m.SetMaxSpeed(drive, speed); err != nil {
		return err
	}
	accel, err := s.GetFloatWithBounds("acceleration", positive, m.MaxAcceleration(drive))
	if err != nil {
		return configErr(err)
	}
	if err := m.SetMaxAcceleration(drive, accel); err != nil {
		return err
	}
	dv, err := s.GetFloatWithBounds("instant_dv", config.FloatBounds{MinVal: floatPtr(MinimumJerk)}, m.InstantDv(drive))
	if err != nil {
		return configErr(err)
	}
	if err := m.SetInstantDv(drive, dv, true); err != nil {
		return err
	}
	current, err := s.GetFloatWithBounds("current", config.FloatBounds{MinVal: floatPtr(0)}, cur.current)
	if err != nil {
		return configErr(err)
	}
	return m.SetMotorCurrent(drive, current)
}

func (m *Move) applyAxisLimits(s *config.Section, axis int) error {
	lo, hi := m.kin.AxisLimits(axis)
	lo, err := s.GetFloat("min", lo)
	if err != nil {
		return configErr(err)
	}
	hi, err = s.GetFloat("max", hi)
	if err != nil {
		return configErr(err)
	}
	if hi <= lo {
		return errors.ConfigValidationError(s.GetName(), "max", fmt.Sprintf("%.3f must exceed min %.3f", hi, lo))
	}
	if err := m.SetAxisMinimum(axis, lo, false); err != nil {
		return err
	}
	return m.SetAxisMaximum(axis, hi, false)
}

func (m *Move) addEndstop(s *config.Section, axis int) error {
	pos, err := s.GetChoice("position", []string{"min", "max"}, "min")
	if err != nil {
		return configErr(err)
	}
	probe, err := s.GetBool("probe", false)
	if err != nil {
		return configErr(err)
	}
	inverted, err := s.GetBool("inverted", false)
	if err != nil {
		return configErr(err)
	}
	driver, err := s.GetIntWithBounds("driver", intPtr(-1), intPtr(MaxPhysicalDrives-1), -1)
	if err != nil {
		return configErr(err)
	}
	debounce, err := s.GetIntWithBounds("debounce", intPtr(1), intPtr(1000), 1)
	if err != nil {
		return configErr(err)
	}
	cfg := endstop.DefaultConfig()
	cfg.Debounce = uint32(debounce)
	cfg.Name = s.GetName()
	cfg.Axis = axis
	cfg.HighEnd = pos == "max"
	cfg.Driver = driver
	cfg.IsZProbe = probe
	cfg.Inverted = inverted
	m.endstops.Add(endstop.New(cfg))
	return nil
}

func readShaperSection(s *config.Section) (inputshaper.Params, error) {
	p := inputshaper.DefaultParams()
	choices := make([]string, 0, len(inputshaper.Types()))
	for _, t := range inputshaper.Types() {
		choices = append(choices, string(t))
	}
	typ, err := s.GetChoice("shaper_type", choices, string(p.Type))
	if err != nil {
		return p, configErr(err)
	}
	p.Type = inputshaper.ShaperType(typ)
	if p.Frequency, err = s.GetFloatWithBounds("shaper_freq", config.FloatBounds{Above: floatPtr(0)}, p.Frequency); err != nil {
		return p, configErr(err)
	}
	bounds := config.FloatBounds{MinVal: floatPtr(0), Below: floatPtr(1)}
	if p.DampingRatio, err = s.GetFloatWithBounds("damping_ratio", bounds, p.DampingRatio); err != nil {
		return p, configErr(err)
	}
	return p, nil
}
