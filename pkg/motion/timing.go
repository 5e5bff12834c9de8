// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import "reprap-motion/pkg/steptimer"

// Step clock timing. All durations below are in step clocks unless noted.
const (
	StepClockRate = steptimer.StepClockRate

	// Moves are prepared this far ahead of execution when possible
	UsualMinimumPreparedTime = StepClockRate / 10

	// A move prepared with less lead than this counts as a prepare underrun
	AbsoluteMinimumPreparedTime = StepClockRate / 20

	// A DM waits in the starting state for segments that begin later than this
	MaximumMoveStartAdvanceClocks = StepClockRate / 1000

	// Below this step interval the next step times are calculated in batches
	MinCalcInterval = (40 * StepClockRate) / 1000000

	MinInterruptInterval = steptimer.MinInterruptInterval

	// The step interrupt yields once it has run for this long
	MaxStepInterruptTime = 10 * MinInterruptInterval

	HiccupTime      = (30 * StepClockRate) / 1000000
	HiccupIncrement = HiccupTime / 4

	// Nominal and maximum intervals between position updates for drives
	// whose drivers are all remote
	RemotePositionUpdateInterval    = StepClockRate / 50
	MaxRemotePositionUpdateInterval = StepClockRate / 40

	// Default shortest segment AddSegment will create
	DefaultSegmentMinDuration = 10
)

// Segment distances that miss a whole step by less than this, in steps,
// are rounding error
const stepRoundingTolerance = 1e-6

// Move task wake-up intervals in milliseconds
const (
	MoveStartPollInterval      = 10
	StandardMoveWakeupInterval = 500
)

// Capacity limits
const (
	MaxAxes           = 9
	MaxExtruders      = 8
	MaxLogicalDrives  = MaxAxes + MaxExtruders
	MaxPhysicalDrives = 32

	DefaultRingSize     = 40
	DefaultGracePeriod  = 10 // ms
	DefaultSegmentCount = 200
)

// FilePosition is a byte offset in the job file
type FilePosition int64

// NoFilePosition marks a move that did not come from a file
const NoFilePosition FilePosition = -1

func msToClocks(ms uint32) uint32 {
	return uint32(uint64(ms) * StepClockRate / 1000)
}

func clocksToMs(clocks uint32) uint32 {
	return uint32(uint64(clocks) * 1000 / StepClockRate)
}

// signed difference a-b of two wrapping clock values
func clockDiff(a, b uint32) int32 {
	return int32(a - b)
}
