// Package endstop provides endstop switches, Z probes, and the manager the
// step generator polls while a move that checks endstops is running.
package endstop

import (
	"errors"
	"sync/atomic"
)

var (
	ErrUnknownAxis = errors.New("endstop: no endstop configured for axis")
	ErrNoProbe     = errors.New("endstop: no Z probe configured")
)

// Config describes one switch input
type Config struct {
	Name string
	Axis int
	// HighEnd is set for an endstop at the maximum end of the axis
	HighEnd bool
	// Driver is the local driver this endstop stops on its own, or -1 to
	// stop the whole axis
	Driver   int
	IsZProbe bool
	Inverted bool
	// Debounce is the number of consecutive polls that must read triggered
	Debounce uint32
}

// DefaultConfig returns an axis-wide, non inverted endstop on axis 0
func DefaultConfig() Config {
	return Config{Name: "endstop", Driver: -1, Debounce: 1}
}

// Endstop is one switch or probe input. Triggered runs inside the step
// interrupt, so all run time state is atomic and nothing blocks.
//
// The input is either a sense function, read on every poll, or a latch set
// by Trip and cleared by Release.
type Endstop struct {
	cfg   Config
	sense func() bool

	latched atomic.Bool
	hits    atomic.Uint32 // consecutive triggered polls
	trips   atomic.Uint32
	clock   atomic.Uint32 // step clock of the last trip
}

// New creates an endstop
func New(cfg Config) *Endstop {
	if cfg.Debounce == 0 {
		cfg.Debounce = 1
	}
	return &Endstop{cfg: cfg}
}

// SetSense installs the input reader. It must not be changed while the
// endstop is being monitored.
func (e *Endstop) SetSense(fn func() bool) { e.sense = fn }

// Trip latches the endstop as triggered at step clock time clock
func (e *Endstop) Trip(clock uint32) {
	e.clock.Store(clock)
	e.trips.Add(1)
	e.latched.Store(true)
}

// Release clears the latch and the debounce count
func (e *Endstop) Release() {
	e.latched.Store(false)
	e.hits.Store(0)
}

// Triggered polls the input
func (e *Endstop) Triggered() bool {
	raw := e.latched.Load()
	if e.sense != nil {
		raw = e.sense() != e.cfg.Inverted
	}
	if !raw {
		e.hits.Store(0)
		return false
	}
	return e.hits.Add(1) >= e.cfg.Debounce
}

// LastTrip returns the step clock of the latest Trip and how many there
// have been
func (e *Endstop) LastTrip() (clock uint32, count uint32) {
	return e.clock.Load(), e.trips.Load()
}

func (e *Endstop) Name() string   { return e.cfg.Name }
func (e *Endstop) Axis() int      { return e.cfg.Axis }
func (e *Endstop) Driver() int    { return e.cfg.Driver }
func (e *Endstop) IsZProbe() bool { return e.cfg.IsZProbe }
func (e *Endstop) HighEnd() bool  { return e.cfg.HighEnd }

// Status is a reporting snapshot
type Status struct {
	Name      string `json:"name"`
	Axis      int    `json:"axis"`
	HighEnd   bool   `json:"high_end"`
	IsZProbe  bool   `json:"z_probe"`
	Latched   bool   `json:"latched"`
	Trips     uint32 `json:"trips"`
	LastClock uint32 `json:"last_clock"`
}

// GetStatus returns the endstop's reporting snapshot
func (e *Endstop) GetStatus() Status {
	clock, trips := e.LastTrip()
	return Status{
		Name:      e.cfg.Name,
		Axis:      e.cfg.Axis,
		HighEnd:   e.cfg.HighEnd,
		IsZProbe:  e.cfg.IsZProbe,
		Latched:   e.latched.Load(),
		Trips:     trips,
		LastClock: clock,
	}
}
