// Prometheus-compatible metric types
//
// Counter, Gauge and Histogram values are kept per label set and written in
// the Prometheus text exposition format by a Registry.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// key identifies a label set
func (l Labels) key() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// format writes labels as {k="v",...}, with extra appended last
func (l Labels) format(extraKey, extraValue string) string {
	if len(l) == 0 && extraKey == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	write := func(k, v string) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(escapeLabel(v))
		sb.WriteByte('"')
	}
	for _, k := range l.sortedKeys() {
		write(k, l[k])
	}
	if extraKey != "" {
		write(extraKey, extraValue)
	}
	sb.WriteByte('}')
	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

type desc struct {
	name string
	help string
}

func (d desc) Name() string { return d.name }
func (d desc) Help() string { return d.help }

func (d desc) writeHeader(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, t)
}

// sortedValues returns the values of m ordered by label key so output is stable
func sortedValues[V any](m *sync.Map) []V {
	type kv struct {
		k string
		v V
	}
	var all []kv
	m.Range(func(k, v any) bool {
		all = append(all, kv{k.(string), v.(V)})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].k < all[j].k })
	out := make([]V, len(all))
	for i := range all {
		out[i] = all[i].v
	}
	return out
}

func copyLabels(labels Labels) Labels {
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Counter is a monotonically increasing metric
type Counter struct {
	desc
	values sync.Map // label key -> *counterValue
}

type counterValue struct {
	labels Labels
	value  atomic.Uint64
}

func NewCounter(name, help string) *Counter {
	return &Counter{desc: desc{name, help}}
}

func (c *Counter) Type() MetricType { return TypeCounter }

func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

func (c *Counter) Add(labels Labels, delta uint64) {
	val, _ := c.values.LoadOrStore(labels.key(), &counterValue{labels: copyLabels(labels)})
	val.(*counterValue).value.Add(delta)
}

// Get returns the current value for labels
func (c *Counter) Get(labels Labels) uint64 {
	val, ok := c.values.Load(labels.key())
	if !ok {
		return 0
	}
	return val.(*counterValue).value.Load()
}

func (c *Counter) Write(sb *strings.Builder) {
	c.writeHeader(sb, TypeCounter)
	for _, cv := range sortedValues[*counterValue](&c.values) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, cv.labels.format("", ""), cv.value.Load())
	}
}

// Gauge is a metric that can go up and down
type Gauge struct {
	desc
	values sync.Map // label key -> *gaugeValue
}

type gaugeValue struct {
	labels Labels
	mu     sync.Mutex
	value  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{desc: desc{name, help}}
}

func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) value(labels Labels) *gaugeValue {
	val, _ := g.values.LoadOrStore(labels.key(), &gaugeValue{labels: copyLabels(labels)})
	return val.(*gaugeValue)
}

func (g *Gauge) Set(labels Labels, value float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.value = value
	gv.mu.Unlock()
}

func (g *Gauge) Add(labels Labels, delta float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	gv.value += delta
	gv.mu.Unlock()
}

// SetMax raises the gauge to value if it is larger
func (g *Gauge) SetMax(labels Labels, value float64) {
	gv := g.value(labels)
	gv.mu.Lock()
	if value > gv.value {
		gv.value = value
	}
	gv.mu.Unlock()
}

func (g *Gauge) Get(labels Labels) float64 {
	val, ok := g.values.Load(labels.key())
	if !ok {
		return 0
	}
	gv := val.(*gaugeValue)
	gv.mu.Lock()
	defer gv.mu.Unlock()
	return gv.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.writeHeader(sb, TypeGauge)
	for _, gv := range sortedValues[*gaugeValue](&g.values) {
		gv.mu.Lock()
		v := gv.value
		gv.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %s\n", g.name, gv.labels.format("", ""), formatFloat(v))
	}
}

// Histogram tracks the distribution of observations
type Histogram struct {
	desc
	buckets []float64
	values  sync.Map // label key -> *histogramValue
}

type histogramValue struct {
	labels Labels
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64 // per bucket, not cumulative
}

// NewHistogram creates a histogram with the given upper bounds
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{desc: desc{name, help}, buckets: sorted}
}

// ExponentialBuckets returns count bounds starting at start, each factor
// times the previous
func ExponentialBuckets(start, factor float64, count int) []float64 {
	buckets := make([]float64, count)
	for i := range buckets {
		buckets[i] = start
		start *= factor
	}
	return buckets
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

func (h *Histogram) Observe(labels Labels, value float64) {
	val, _ := h.values.LoadOrStore(labels.key(), &histogramValue{
		labels: copyLabels(labels),
		counts: make([]uint64, len(h.buckets)),
	})
	hv := val.(*histogramValue)
	hv.mu.Lock()
	hv.count++
	hv.sum += value
	if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
		hv.counts[i]++
	}
	hv.mu.Unlock()
}

// HistogramSnapshot holds cumulative bucket counts
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	val, ok := h.values.Load(labels.key())
	if !ok {
		return snap
	}
	hv := val.(*histogramValue)
	hv.mu.Lock()
	defer hv.mu.Unlock()
	snap.Count, snap.Sum = hv.count, hv.sum
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += hv.counts[i]
		snap.Buckets[bound] = cumulative
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.writeHeader(sb, TypeHistogram)
	for _, hv := range sortedValues[*histogramValue](&h.values) {
		hv.mu.Lock()
		count, sum := hv.count, hv.sum
		counts := append([]uint64(nil), hv.counts...)
		hv.mu.Unlock()

		var cumulative uint64
		for i, bound := range h.buckets {
			cumulative += counts[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, hv.labels.format("le", formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, hv.labels.format("le", "+Inf"), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, hv.labels.format("", ""), formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, hv.labels.format("", ""), count)
	}
}

// Registry holds metrics in registration order
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric; names must be unique
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather writes every metric in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
