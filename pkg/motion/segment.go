// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package motion

import (
	"fmt"
	"math"

	"reprap-motion/pkg/pool"
)

// MovementFlags are carried on each segment and merged when segments combine
type MovementFlags uint8

const (
	FlagExecuting MovementFlags = 1 << iota
	FlagNonPrintingMove
	FlagNoShaping
	FlagCheckEndstops
	FlagIsExtruder
)

func (f MovementFlags) Has(x MovementFlags) bool { return f&x != 0 }

// MoveSegment is a constant-acceleration piece of one drive's motion.
// Distance and acceleration are in steps and steps/clock^2. A drive's
// segments form a singly linked list ordered by start time with no overlap.
type MoveSegment struct {
	startTime uint32
	duration  uint32
	distance  float64
	a         float64
	flags     MovementFlags
	next      *MoveSegment
	released  bool
}

func (s *MoveSegment) StartTime() uint32     { return s.startTime }
func (s *MoveSegment) Duration() uint32      { return s.duration }
func (s *MoveSegment) EndTime() uint32       { return s.startTime + s.duration }
func (s *MoveSegment) Distance() float64     { return s.distance }
func (s *MoveSegment) Acceleration() float64 { return s.a }
func (s *MoveSegment) Flags() MovementFlags  { return s.flags }
func (s *MoveSegment) Next() *MoveSegment    { return s.next }

func (s *MoveSegment) IsLinear() bool     { return s.a == 0 }
func (s *MoveSegment) IsExecuting() bool  { return s.flags.Has(FlagExecuting) }
func (s *MoveSegment) SetExecuting()      { s.flags |= FlagExecuting }
func (s *MoveSegment) SetNext(n *MoveSegment) { s.next = n }

// SetParameters fills in the segment
func (s *MoveSegment) SetParameters(start, duration uint32, distance, a float64, flags MovementFlags) {
	s.startTime = start
	s.duration = duration
	s.distance = distance
	s.a = a
	s.flags = flags
}

// CalcInitialSpeed returns the starting speed of a segment that covers
// distance in duration with acceleration a.
func CalcInitialSpeed(duration uint32, distance, a float64) float64 {
	d := float64(duration)
	return (distance - a*d*d*0.5) / d
}

// CalcU returns the segment's initial speed in steps/clock
func (s *MoveSegment) CalcU() float64 {
	return CalcInitialSpeed(s.duration, s.distance, s.a)
}

// CalcLinearRecipU returns clocks per step of a linear segment
func (s *MoveSegment) CalcLinearRecipU() float64 {
	return float64(s.duration) / s.distance
}

// Split cuts the segment at offset clocks from its start, keeping the first
// part in s and returning the second part, which is linked after s. Both
// parts keep the acceleration.
func (s *MoveSegment) Split(offset uint32, segs *SegmentPool) *MoveSegment {
	u := s.CalcU()
	firstDistance := (u + 0.5*s.a*float64(offset)) * float64(offset)
	second := segs.Allocate(s.next)
	second.SetParameters(s.startTime+offset, s.duration-offset, s.distance-firstDistance, s.a, s.flags)
	s.duration = offset
	s.distance = firstDistance
	s.next = second
	return second
}

// Merge adds another motion occupying exactly the same interval
func (s *MoveSegment) Merge(distance, a float64, flags MovementFlags) {
	s.distance += distance
	s.a += a
	s.flags |= flags
}

// AdjustLength changes the distance without changing the duration
func (s *MoveSegment) AdjustLength(delta float64) {
	s.distance += delta
}

// linearThreshold is the largest quadratic contribution, in steps, for which
// a segment is stepped as linear
const linearThreshold = 0.01

// NormaliseAndCheckLinear decides whether the segment can be stepped as
// linear given the carried-forward distance dcf. It returns t0, the offset
// from the segment start at which the motion equation passes through zero
// distance: -dcf/u for linear segments and -u/a otherwise.
func (s *MoveSegment) NormaliseAndCheckLinear(dcf float64) (t0 float64, linear bool) {
	d := float64(s.duration)
	u := s.CalcU()
	if math.Abs(0.5*s.a*d*d) < linearThreshold {
		s.a = 0
		return -dcf / u, true
	}
	return -u / s.a, false
}

// String returns the segment details used in step error reports
func (s *MoveSegment) String() string {
	return fmt.Sprintf("st=%d t=%d d=%.6f u=%.6e a=%.6e f=%02x",
		s.startTime, s.duration, s.distance, s.CalcU(), s.a, uint8(s.flags))
}

// SegmentPool allocates MoveSegments from a pre-sized free list
type SegmentPool struct {
	fl *pool.FreeList[MoveSegment]
}

// NewSegmentPool creates a pool with n segments ready
func NewSegmentPool(n int) *SegmentPool {
	return &SegmentPool{fl: pool.NewFreeList[MoveSegment](n, nil)}
}

// Allocate returns a cleared segment linked to next
func (p *SegmentPool) Allocate(next *MoveSegment) *MoveSegment {
	s := p.fl.Get()
	*s = MoveSegment{next: next}
	return s
}

// Release returns one segment. Releasing a segment twice has no effect.
func (p *SegmentPool) Release(s *MoveSegment) {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.next = nil
	p.fl.Put(s)
}

// ReleaseAll returns every segment in the list starting at s
func (p *SegmentPool) ReleaseAll(s *MoveSegment) {
	for s != nil {
		next := s.next
		p.Release(s)
		s = next
	}
}

// Stats reports pool usage
func (p *SegmentPool) Stats() pool.Stats {
	return p.fl.Stats()
}
