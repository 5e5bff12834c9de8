package endstop

import (
	"sync"

	"reprap-motion/pkg/log"
)

// HitAction is what the step generator must do about a triggered endstop
type HitAction uint8

const (
	ActionNone HitAction = iota
	ActionStopDriver
	ActionStopAxis
	ActionStopAll
)

func (a HitAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionStopDriver:
		return "stopDriver"
	case ActionStopAxis:
		return "stopAxis"
	case ActionStopAll:
		return "stopAll"
	default:
		return "unknown"
	}
}

// HitDetails is the result of one endstop check
type HitDetails struct {
	Action   HitAction
	Axis     int
	Driver   int
	IsZProbe bool
}

type monitored struct {
	es     *Endstop
	action HitAction
}

// Manager tracks the endstops that the current move is monitoring. Check is
// called from the step interrupt; Enable* are called by the task preparing
// an endstop-checking move.
type Manager struct {
	mu       sync.Mutex
	endstops map[int][]*Endstop
	probe    *Endstop
	active   []monitored
	log      *log.Logger
}

// NewManager creates a manager with no endstops
func NewManager() *Manager {
	return &Manager{
		endstops: make(map[int][]*Endstop),
		log:      log.GetLogger("endstop"),
	}
}

// Add registers an endstop. Probes replace any previous probe.
func (m *Manager) Add(e *Endstop) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IsZProbe() {
		m.probe = e
		return
	}
	m.endstops[e.Axis()] = append(m.endstops[e.Axis()], e)
}

// Endstops returns the endstops of axis
func (m *Manager) Endstops(axis int) []*Endstop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Endstop(nil), m.endstops[axis]...)
}

// Probe returns the Z probe, if any
func (m *Manager) Probe() *Endstop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probe
}

// EnableAxisEndstops starts monitoring the endstops of axes. With stopAll
// set, any trigger stops every drive; otherwise a trigger stops just its axis,
// or just its driver for per-motor endstops.
func (m *Manager) EnableAxisEndstops(axes []int, stopAll bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, axis := range axes {
		list := m.endstops[axis]
		if len(list) == 0 {
			return ErrUnknownAxis
		}
		for _, e := range list {
			action := ActionStopAxis
			switch {
			case stopAll:
				action = ActionStopAll
			case e.Driver() >= 0:
				action = ActionStopDriver
			}
			e.hits.Store(0)
			m.active = append(m.active, monitored{es: e, action: action})
		}
	}
	return nil
}

// EnableZProbe starts monitoring the Z probe; a trigger stops every drive
func (m *Manager) EnableZProbe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probe == nil {
		return ErrNoProbe
	}
	m.probe.hits.Store(0)
	m.active = append(m.active, monitored{es: m.probe, action: ActionStopAll})
	return nil
}

// DisableAll stops monitoring everything
func (m *Manager) DisableAll() {
	m.mu.Lock()
	m.active = m.active[:0]
	m.mu.Unlock()
}

// AnyEndstopsActive reports whether any endstop is still being monitored
func (m *Manager) AnyEndstopsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active) != 0
}

// CheckEndstops polls the monitored endstops and returns the first hit.
// A triggered endstop stops being monitored, so repeated calls report each
// hit once and then ActionNone.
func (m *Manager) CheckEndstops() HitDetails {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mon := range m.active {
		if !mon.es.Triggered() {
			continue
		}
		m.active = append(m.active[:i], m.active[i+1:]...)
		hd := HitDetails{
			Action:   mon.action,
			Axis:     mon.es.Axis(),
			Driver:   mon.es.Driver(),
			IsZProbe: mon.es.IsZProbe(),
		}
		if mon.action == ActionStopAxis && len(m.active) == 0 {
			// nothing else is being monitored, so this is the end of the move
			hd.Action = ActionStopAll
		}
		m.log.Debug("%s triggered: %s axis %d", mon.es.Name(), hd.Action, hd.Axis)
		return hd
	}
	return HitDetails{Action: ActionNone}
}
