// Unit tests for the metric types and motion metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_total", "A test counter")
	if c.Type() != TypeCounter || c.Name() != "test_total" {
		t.Fatalf("bad counter %s %s", c.Name(), c.Type())
	}
	c.Inc(nil)
	c.Add(nil, 4)
	c.Inc(Labels{"drive": "1"})
	if got := c.Get(nil); got != 5 {
		t.Errorf("Get(nil) = %d, want 5", got)
	}
	if got := c.Get(Labels{"drive": "1"}); got != 1 {
		t.Errorf("Get(drive=1) = %d, want 1", got)
	}
	if got := c.Get(Labels{"drive": "2"}); got != 0 {
		t.Errorf("Get(drive=2) = %d, want 0", got)
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent_total", "")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc(Labels{"ring": "0"})
			}
		}()
	}
	wg.Wait()
	if got := c.Get(Labels{"ring": "0"}); got != 10000 {
		t.Errorf("count = %d, want 10000", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("depth", "")
	g.Set(nil, 3)
	g.Add(nil, -1)
	if got := g.Get(nil); got != 2 {
		t.Errorf("Get = %v, want 2", got)
	}
	g.SetMax(nil, 1)
	if got := g.Get(nil); got != 2 {
		t.Errorf("SetMax lowered the gauge to %v", got)
	}
	g.SetMax(nil, 9)
	if got := g.Get(nil); got != 9 {
		t.Errorf("SetMax = %v, want 9", got)
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("isr", "", []float64{10, 1, 100})
	for _, v := range []float64{0.5, 1, 5, 50, 500} {
		h.Observe(nil, v)
	}
	snap := h.GetSnapshot(nil)
	if snap.Count != 5 {
		t.Errorf("count = %d", snap.Count)
	}
	if math.Abs(snap.Sum-556.5) > 1e-9 {
		t.Errorf("sum = %v", snap.Sum)
	}
	want := map[float64]uint64{1: 2, 10: 3, 100: 4}
	for bound, n := range want {
		if snap.Buckets[bound] != n {
			t.Errorf("bucket %v = %d, want %d", bound, snap.Buckets[bound], n)
		}
	}
	if empty := h.GetSnapshot(Labels{"x": "y"}); empty.Count != 0 {
		t.Errorf("unknown labels count = %d", empty.Count)
	}
}

func TestExponentialBuckets(t *testing.T) {
	b := ExponentialBuckets(4, 2, 4)
	want := []float64{4, 8, 16, 32}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("buckets = %v, want %v", b, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("requests_total", "Total requests")
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewCounter("requests_total", "dup")); err == nil {
		t.Error("duplicate registration should fail")
	}
	if r.Get("requests_total") != c {
		t.Error("Get returned the wrong metric")
	}

	c.Add(Labels{"method": "GET"}, 100)
	g := NewGauge("temperature", "Current temperature")
	g.Set(nil, 25.5)
	r.MustRegister(g)
	h := NewHistogram("duration", "Duration", []float64{0.1, 1})
	h.Observe(Labels{"op": "a"}, 0.5)
	r.MustRegister(h)

	output := r.Gather()
	for _, want := range []string{
		"# HELP requests_total Total requests\n# TYPE requests_total counter\n",
		`requests_total{method="GET"} 100`,
		"# TYPE temperature gauge",
		"temperature 25.5",
		`duration_bucket{op="a",le="0.1"} 0`,
		`duration_bucket{op="a",le="1"} 1`,
		`duration_bucket{op="a",le="+Inf"} 1`,
		`duration_sum{op="a"} 0.5`,
		`duration_count{op="a"} 1`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("missing %q in:\n%s", want, output)
		}
	}
	if strings.Index(output, "requests_total") > strings.Index(output, "temperature") {
		t.Error("metrics not in registration order")
	}
}

func TestLabelEscaping(t *testing.T) {
	c := NewCounter("esc_total", "")
	c.Inc(Labels{"path": "a\"b\\c\nd"})
	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), `path="a\"b\\c\nd"`) {
		t.Errorf("bad escaping: %s", sb.String())
	}
}

func TestLabelsCopied(t *testing.T) {
	c := NewCounter("copy_total", "")
	l := Labels{"ring": "0"}
	c.Inc(l)
	l["ring"] = "1"
	var sb strings.Builder
	c.Write(&sb)
	if !strings.Contains(sb.String(), `copy_total{ring="0"} 1`) {
		t.Errorf("caller label change leaked: %s", sb.String())
	}
}

func TestMotionMetrics(t *testing.T) {
	mm := NewMotionMetrics()
	mm.RecordRing(0, RingStats{Scheduled: 3, Completed: 3, LookaheadUnderruns: 1, Depth: 0})
	mm.RecordRing(0, RingStats{Scheduled: 2, Completed: 1, Depth: 1})
	mm.RecordStepError(6)
	mm.RecordHiccups(0)
	mm.RecordHiccups(2)
	mm.SetMaxStepsLate(4)
	mm.SetMaxStepsLate(1)
	mm.AddSteps(0, -200)
	mm.AddSteps(0, 50)
	mm.ObserveISR(12)

	ring0 := Labels{"ring": "0"}
	if got := mm.MovesScheduled.Get(ring0); got != 5 {
		t.Errorf("scheduled = %d", got)
	}
	if got := mm.MovesCompleted.Get(ring0); got != 4 {
		t.Errorf("completed = %d", got)
	}
	if got := mm.RingDepth.Get(ring0); got != 1 {
		t.Errorf("depth = %v", got)
	}
	if got := mm.StepErrors.Get(Labels{"code": "6"}); got != 1 {
		t.Errorf("step errors = %d", got)
	}
	if got := mm.InterruptHiccups.Get(nil); got != 2 {
		t.Errorf("hiccups = %d", got)
	}
	if got := mm.MaxStepsLate.Get(nil); got != 4 {
		t.Errorf("max steps late = %v", got)
	}
	if got := mm.StepsTotal.Get(Labels{"drive": "0"}); got != 250 {
		t.Errorf("steps = %d", got)
	}
	if !strings.Contains(mm.Gather(), "motion_isr_clocks_count 1") {
		t.Error("missing isr histogram")
	}
}
