// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import "fmt"

// StepErrorState records whether step generation has been halted
type StepErrorState uint8

const (
	StepErrorNone StepErrorState = iota
	StepErrorHalted
	StepErrorResetting
)

func (s StepErrorState) String() string {
	switch s {
	case StepErrorNone:
		return "noError"
	case StepErrorHalted:
		return "halted"
	case StepErrorResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// StepError describes a fatal step generation error
type StepError struct {
	Code    uint8
	Info    float64
	Drive   int
	Segment string
}

var stepErrorDescriptions = map[uint8]string{
	1: "segment starts before the previous one ends",
	2: "invalid step time",
	3: "new segment overlaps an executing segment",
	4: "no segment or unknown drive state",
	5: "carried forward distance out of range",
	6: "position does not match steps taken",
	7: "skipped segment carried forward distance out of range",
}

// Description returns a short explanation of the error code
func (e *StepError) Description() string {
	if d, ok := stepErrorDescriptions[e.Code]; ok {
		return d
	}
	return "unknown"
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step error %d on drive %d (%s): info %.4g, segment %s",
		e.Code, e.Drive, e.Description(), e.Info, e.Segment)
}
