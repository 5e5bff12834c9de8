// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"sync"

	"reprap-motion/pkg/kinematics"
)

// Raw move types
const (
	MoveTypeNormal   uint8 = 0
	MoveTypeHoming   uint8 = 1 // raw motor move checking endstops
	MoveTypeRawMotor uint8 = 2 // raw motor move, no endstops
)

// RawMove is one move as produced by the command layer. Axis coordinates
// are absolute machine positions in mm; extruder coordinates are the
// relative amount to extrude in mm.
type RawMove struct {
	Coords       [MaxLogicalDrives]float64
	FeedRate     float64 // mm/s
	Acceleration float64 // mm/s^2, zero for the drive limits
	MoveType     uint8
	FilePos      FilePosition

	IsCoordinated         bool
	UsingStandardFeedrate bool
	UsePressureAdvance    bool
	CanPauseAfter         bool

	// Endstop checking; EndstopAxes selects the axis endstops, UseZProbe the probe
	CheckEndstops    bool
	EndstopAxes      kinematics.AxesBitmap
	StopAllOnEndstop bool
	UseZProbe        bool

	ProportionDone          float64
	InitialUserC0           float64
	InitialUserC1           float64
	VirtualExtruderPosition float64
	Tool                    int
}

// SetDefaults clears the move flags and zeroes the drives from
// firstDriveToZero upwards
func (rm *RawMove) SetDefaults(firstDriveToZero int) {
	rm.MoveType = MoveTypeNormal
	rm.IsCoordinated = false
	rm.UsingStandardFeedrate = false
	rm.UsePressureAdvance = false
	rm.CanPauseAfter = true
	rm.CheckEndstops = false
	rm.EndstopAxes = 0
	rm.StopAllOnEndstop = false
	rm.UseZProbe = false
	rm.FilePos = NoFilePosition
	rm.ProportionDone = 0
	rm.Tool = -1
	for d := firstDriveToZero; d < MaxLogicalDrives; d++ {
		rm.Coords[d] = 0
	}
}

// AsyncMove is a relative move of the drives owned by the auxiliary ring.
// Speeds are in mm/s and accelerations in mm/s^2.
type AsyncMove struct {
	Movements      [MaxLogicalDrives]float64
	StartSpeed     float64
	EndSpeed       float64
	RequestedSpeed float64
	Acceleration   float64
	Deceleration   float64
}

// SetDefaults clears the movements
func (am *AsyncMove) SetDefaults() {
	*am = AsyncMove{}
}

// RestorePoint records where to resume a paused job
type RestorePoint struct {
	MoveCoords              [MaxAxes]float64
	FeedRate                float64 // mm/s
	VirtualExtruderPosition float64
	ProportionDone          float64
	InitialUserC0           float64
	InitialUserC1           float64
	FilePos                 FilePosition
	ToolNumber              int
}

// Init resets the restore point
func (rp *RestorePoint) Init() {
	*rp = RestorePoint{FilePos: NoFilePosition, ToolNumber: -1}
}

// MovementState is the part of the command layer state that pausing reads
// and updates
type MovementState struct {
	FeedRate          float64 // mm/s
	SpeedFactor       float64
	PauseRestorePoint RestorePoint
}

// NewMovementState returns a state with unity speed factor
func NewMovementState() *MovementState {
	ms := &MovementState{SpeedFactor: 1}
	ms.PauseRestorePoint.Init()
	return ms
}

// MoveSource supplies moves to the rings
type MoveSource interface {
	// ReadMove fills in rm with the next move for ring and returns true,
	// or returns false if there is none
	ReadMove(ring int, rm *RawMove) bool
}

// AsyncMoveSource is implemented by sources that also supply async moves
type AsyncMoveSource interface {
	ReadAsyncMove(am *AsyncMove) bool
}

// QueueSource is a MoveSource backed by in-memory queues. It is safe for
// concurrent use.
type QueueSource struct {
	mu     sync.Mutex
	queues [2][]RawMove
	async  []AsyncMove
	notify func()
}

// NewQueueSource creates empty queues for both rings
func NewQueueSource() *QueueSource {
	return &QueueSource{}
}

// SetNotify sets a function called after each push, normally Move.MoveAvailable
func (q *QueueSource) SetNotify(fn func()) {
	q.mu.Lock()
	q.notify = fn
	q.mu.Unlock()
}

// Push queues a move for ring
func (q *QueueSource) Push(ring int, rm RawMove) {
	q.mu.Lock()
	q.queues[ring] = append(q.queues[ring], rm)
	fn := q.notify
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// PushAsync queues an async move
func (q *QueueSource) PushAsync(am AsyncMove) {
	q.mu.Lock()
	q.async = append(q.async, am)
	fn := q.notify
	q.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (q *QueueSource) ReadMove(ring int, rm *RawMove) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ring < 0 || ring >= len(q.queues) || len(q.queues[ring]) == 0 {
		return false
	}
	*rm = q.queues[ring][0]
	q.queues[ring] = q.queues[ring][1:]
	return true
}

func (q *QueueSource) ReadAsyncMove(am *AsyncMove) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.async) == 0 {
		return false
	}
	*am = q.async[0]
	q.async = q.async[1:]
	return true
}

// Len returns the number of moves waiting for ring
func (q *QueueSource) Len(ring int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[ring])
}
