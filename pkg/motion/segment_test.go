package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segSpec struct {
	start, duration uint32
	distance        float64
}

func collectSegments(list *MoveSegment) []segSpec {
	var out []segSpec
	for s := list; s != nil; s = s.Next() {
		out = append(out, segSpec{s.StartTime(), s.Duration(), s.Distance()})
	}
	return out
}

func assertSegments(t *testing.T, want []segSpec, list *MoveSegment) {
	t.Helper()
	got := collectSegments(list)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].start, got[i].start, "segment %d start", i)
		assert.Equal(t, want[i].duration, got[i].duration, "segment %d duration", i)
		assert.InDelta(t, want[i].distance, got[i].distance, 1e-9, "segment %d distance", i)
	}
}

func TestAddSegmentOverlapSplits(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m

	list := m.AddSegment(nil, 1000, 1000, 100, 0, 0, 0)
	list = m.AddSegment(list, 1500, 1000, 100, 0, 0, 0)

	assertSegments(t, []segSpec{
		{1000, 500, 50},
		{1500, 500, 100},
		{2000, 500, 50},
	}, list)
}

func TestAddSegmentOverlapSuperimposesAcceleration(t *testing.T) {
	type want struct {
		start, duration uint32
		distance, a     float64
	}
	tests := []struct {
		name   string
		second [2]float64 // distance, acceleration over [1500,2500)
		want   []want
	}{
		{
			name:   "same acceleration",
			second: [2]float64{100, 1e-4},
			want: []want{
				{1000, 500, 37.5, 1e-4},
				{1500, 500, 100, 2e-4},
				{2000, 500, 62.5, 1e-4},
			},
		},
		{
			name:   "opposite acceleration",
			second: [2]float64{50, -1e-4},
			want: []want{
				{1000, 500, 37.5, 1e-4},
				{1500, 500, 100, 0},
				{2000, 500, 12.5, -1e-4},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, Options{})
			m := rig.m

			// u = 0.05 steps/clock over [1000,2000)
			list := m.AddSegment(nil, 1000, 1000, 100, 1e-4, 0, 0)
			secondU := CalcInitialSpeed(1000, tt.second[0], tt.second[1])
			list = m.AddSegment(list, 1500, 1000, tt.second[0], tt.second[1], 0, 0)

			var got []*MoveSegment
			for s := list; s != nil; s = s.Next() {
				got = append(got, s)
			}
			require.Len(t, got, len(tt.want))
			var total float64
			for i, w := range tt.want {
				assert.Equal(t, w.start, got[i].StartTime(), "segment %d start", i)
				assert.Equal(t, w.duration, got[i].Duration(), "segment %d duration", i)
				assert.InDelta(t, w.distance, got[i].Distance(), 1e-9, "segment %d distance", i)
				assert.InDelta(t, w.a, got[i].Acceleration(), 1e-15, "segment %d acceleration", i)
				total += got[i].Distance()
			}
			assert.InDelta(t, 100+tt.second[0], total, 1e-9)

			// Speeds add where the motions overlap and carry on from there
			assert.InDelta(t, 0.05+1e-4*500+secondU, got[1].CalcU(), 1e-12)
			assert.InDelta(t, secondU+tt.second[1]*500, got[2].CalcU(), 1e-12)
		})
	}
}

func TestAddSegmentKeepsStartOrder(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m

	list := m.AddSegment(nil, 5000, 1000, 10, 0, 0, 0)
	list = m.AddSegment(list, 1000, 500, 5, 0, 0, 0)
	list = m.AddSegment(list, 3000, 500, 5, 0, 0, 0)

	assertSegments(t, []segSpec{
		{1000, 500, 5},
		{3000, 500, 5},
		{5000, 1000, 10},
	}, list)
}

func TestAddSegmentPostponesNearBoundary(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m

	// Starting 5 clocks before the end would leave a sliver, so the new
	// segment starts where the old one ends
	list := m.AddSegment(nil, 1000, 1000, 100, 0, 0, 0)
	list = m.AddSegment(list, 1995, 1000, 50, 0, 0, 0)

	assertSegments(t, []segSpec{
		{1000, 1000, 100},
		{2000, 995, 50},
	}, list)
}

func TestAddSegmentIdenticalIntervalsMerge(t *testing.T) {
	rig := newTestRig(t, Options{})
	m := rig.m

	list := m.AddSegment(nil, 1000, 1000, 100, 1e-5, FlagNoShaping, 0)
	list = m.AddSegment(list, 1000, 1000, -40, -1e-5, FlagIsExtruder, 0)

	require.NotNil(t, list)
	assert.Nil(t, list.Next())
	assert.InDelta(t, 60, list.Distance(), 1e-9)
	assert.InDelta(t, 0, list.Acceleration(), 1e-15)
	assert.True(t, list.Flags().Has(FlagNoShaping))
	assert.True(t, list.Flags().Has(FlagIsExtruder))
}

func TestAddSegmentPressureAdvance(t *testing.T) {
	rig := newTestRig(t, Options{})
	list := rig.m.AddSegment(nil, 0, 100, 10, 0.001, 0, 500)
	assert.InDelta(t, 10.5, list.Distance(), 1e-9)
}

func TestSegmentSplitPreservesMotion(t *testing.T) {
	pool := NewSegmentPool(4)
	s := pool.Allocate(nil)
	s.SetParameters(0, 1000, 60, 1e-4, 0)
	u := s.CalcU()

	second := s.Split(400, pool)

	assert.Same(t, second, s.Next())
	assert.Equal(t, uint32(400), s.Duration())
	assert.Equal(t, uint32(400), second.StartTime())
	assert.Equal(t, uint32(600), second.Duration())
	assert.InDelta(t, 60, s.Distance()+second.Distance(), 1e-9)
	// The second part starts at the speed the first part ends at
	assert.InDelta(t, u+1e-4*400, second.CalcU(), 1e-12)
}

func TestSegmentPoolReleaseTwice(t *testing.T) {
	pool := NewSegmentPool(2)
	s := pool.Allocate(nil)
	assert.Equal(t, 1, pool.Stats().InUse)

	pool.Release(s)
	pool.Release(s)
	assert.Equal(t, 0, pool.Stats().InUse)

	a := pool.Allocate(nil)
	b := pool.Allocate(nil)
	assert.NotSame(t, a, b)
}

func TestNormaliseAndCheckLinear(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		a        float64
		linear   bool
	}{
		{"constant speed", 100, 0, true},
		{"negligible acceleration", 100, 1e-10, true},
		{"accelerating", 100, 1e-4, false},
		{"decelerating", 100, -1e-4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s MoveSegment
			s.SetParameters(0, 1000, tt.distance, tt.a, 0)
			_, linear := s.NormaliseAndCheckLinear(0)
			assert.Equal(t, tt.linear, linear)
			if linear {
				assert.Zero(t, s.Acceleration())
			}
		})
	}
}
