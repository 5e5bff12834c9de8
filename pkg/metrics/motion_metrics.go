// Motion metrics definitions
//
// Counters and gauges fed by the move engine: interrupt hiccups, step
// errors, ring throughput and underruns, segment pool usage and step counts.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strconv"
	"sync"
)

// MotionMetrics holds the metrics reported by the motion core
type MotionMetrics struct {
	InterruptHiccups   *Counter
	StepErrors         *Counter
	MovesCompleted     *Counter
	MovesScheduled     *Counter
	LookaheadUnderruns *Counter
	PrepareUnderruns   *Counter
	RingDepth          *Gauge
	MaxStepsLate       *Gauge
	SegmentsInUse      *Gauge
	StepsTotal         *Counter
	ISRClocks          *Histogram

	registry *Registry
	mu       sync.Mutex
}

// NewMotionMetrics creates and registers the motion metrics
func NewMotionMetrics() *MotionMetrics {
	mm := &MotionMetrics{registry: NewRegistry()}

	mm.InterruptHiccups = NewCounter("motion_interrupt_hiccups_total",
		"Step interrupts that overran and inserted a movement delay")
	mm.StepErrors = NewCounter("motion_step_errors_total",
		"Fatal step generation errors by code")
	mm.MovesCompleted = NewCounter("motion_moves_completed_total",
		"Moves retired from a ring")
	mm.MovesScheduled = NewCounter("motion_moves_scheduled_total",
		"Moves added to a ring")
	mm.LookaheadUnderruns = NewCounter("motion_lookahead_underruns_total",
		"Moves that had to stop because lookahead ran out")
	mm.PrepareUnderruns = NewCounter("motion_prepare_underruns_total",
		"Moves prepared too late to start on time")
	mm.RingDepth = NewGauge("motion_ring_depth",
		"Moves waiting in a ring")
	mm.MaxStepsLate = NewGauge("motion_max_steps_late",
		"Largest number of steps still due when a segment ended")
	mm.SegmentsInUse = NewGauge("motion_segments_in_use",
		"Move segments allocated from the pool")
	mm.StepsTotal = NewCounter("motion_steps_total",
		"Net steps generated per logical drive")
	mm.ISRClocks = NewHistogram("motion_isr_clocks",
		"Step clocks spent in one step interrupt", ExponentialBuckets(4, 2, 10))

	for _, m := range []Metric{
		mm.InterruptHiccups, mm.StepErrors, mm.MovesCompleted, mm.MovesScheduled,
		mm.LookaheadUnderruns, mm.PrepareUnderruns, mm.RingDepth, mm.MaxStepsLate,
		mm.SegmentsInUse, mm.StepsTotal, mm.ISRClocks,
	} {
		mm.registry.MustRegister(m)
	}
	return mm
}

func ringLabels(ring int) Labels {
	return Labels{"ring": strconv.Itoa(ring)}
}

// RingStats is one ring's counters since the previous report
type RingStats struct {
	Scheduled          uint64
	Completed          uint64
	LookaheadUnderruns uint64
	PrepareUnderruns   uint64
	Depth              int
}

// RecordRing adds one ring's counters
func (mm *MotionMetrics) RecordRing(ring int, s RingStats) {
	l := ringLabels(ring)
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.MovesScheduled.Add(l, s.Scheduled)
	mm.MovesCompleted.Add(l, s.Completed)
	mm.LookaheadUnderruns.Add(l, s.LookaheadUnderruns)
	mm.PrepareUnderruns.Add(l, s.PrepareUnderruns)
	mm.RingDepth.Set(l, float64(s.Depth))
}

func (mm *MotionMetrics) RecordHiccups(n uint64) {
	if n > 0 {
		mm.InterruptHiccups.Add(nil, n)
	}
}

func (mm *MotionMetrics) RecordStepError(code uint8) {
	mm.StepErrors.Inc(Labels{"code": strconv.Itoa(int(code))})
}

func (mm *MotionMetrics) SetMaxStepsLate(n int32) {
	mm.MaxStepsLate.SetMax(nil, float64(n))
}

func (mm *MotionMetrics) SetSegmentsInUse(n int) {
	mm.SegmentsInUse.Set(nil, float64(n))
}

// AddSteps records the absolute number of steps a drive moved
func (mm *MotionMetrics) AddSteps(drive int, steps int32) {
	if steps < 0 {
		steps = -steps
	}
	if steps > 0 {
		mm.StepsTotal.Add(Labels{"drive": strconv.Itoa(drive)}, uint64(steps))
	}
}

func (mm *MotionMetrics) ObserveISR(clocks uint32) {
	mm.ISRClocks.Observe(nil, float64(clocks))
}

// Gather returns all metrics in Prometheus text format
func (mm *MotionMetrics) Gather() string {
	return mm.registry.Gather()
}

func (mm *MotionMetrics) Registry() *Registry {
	return mm.registry
}
