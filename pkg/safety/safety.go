// Package safety holds the machine-wide halt state. A fatal step
// generation error turns the heaters off and stops motion until a reset;
// emergency stops and watchdog timeouts take the same path. Power-fail and
// stall pauses are recorded without shutting anything down.
package safety

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"reprap-motion/pkg/log"
)

// ShutdownState represents the machine's halt state.
type ShutdownState int

const (
	StateRunning ShutdownState = iota
	StateShuttingDown
	StateShutdown
	// StateError is entered after a step error or emergency stop
	StateError
)

func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason describes why motion was halted or paused.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonEmergencyStop   Reason = "emergency_stop"
	ReasonStepError       Reason = "step_error"
	ReasonWatchdogTimeout Reason = "watchdog_timeout"
	ReasonUserRequest     Reason = "user_request"
	ReasonLowPowerPause   Reason = "low_power_pause"
	ReasonStallPause      Reason = "stall_pause"
)

// halts that leave the manager in StateError
func (r Reason) isError() bool {
	return r == ReasonEmergencyStop || r == ReasonStepError
}

var ErrHalted = errors.New("safety: motion is halted")

// HeaterDisabler can turn a heater off.
type HeaterDisabler interface {
	DisableHeater() error
	HeaterName() string
}

// MotorDisabler can remove power from motors.
type MotorDisabler interface {
	DisableMotors() error
}

// PauseRecord describes a pause taken because of power loss or a stall.
type PauseRecord struct {
	Reason Reason
	Msg    string
	Time   time.Time
}

// Manager tracks whether the machine may move.
type Manager struct {
	mu sync.RWMutex

	state        ShutdownState
	reason       Reason
	msg          string
	shutdownTime time.Time
	lastPause    PauseRecord
	pauses       int

	heaters []HeaterDisabler
	motors  []MotorDisabler

	watchdogCancel  context.CancelFunc
	watchdogTimeout time.Duration
	lastHeartbeat   time.Time
	watchdogMu      sync.Mutex

	onShutdown []func(reason Reason, msg string)

	log *log.Logger
}

// New creates a Manager in the running state.
func New() *Manager {
	return &Manager{
		state:           StateRunning,
		watchdogTimeout: 5 * time.Second,
		log:             log.GetLogger("safety"),
	}
}

// SetWatchdogTimeout sets how long the move loop may go without a heartbeat.
func (m *Manager) SetWatchdogTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.watchdogMu.Lock()
	m.watchdogTimeout = d
	m.watchdogMu.Unlock()
}

// RegisterHeater registers a heater to be turned off on a halt.
func (m *Manager) RegisterHeater(h HeaterDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heaters = append(m.heaters, h)
}

// RegisterMotor registers motors to be disabled on a shutdown.
func (m *Manager) RegisterMotor(motor MotorDisabler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motors = append(m.motors, motor)
}

// OnShutdown registers a callback run after a halt completes.
func (m *Manager) OnShutdown(fn func(reason Reason, msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onShutdown = append(m.onShutdown, fn)
}

func (m *Manager) GetState() ShutdownState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetShutdownInfo returns the halt reason, message and time.
func (m *Manager) GetShutdownInfo() (Reason, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.msg, m.shutdownTime
}

// IsHalted returns true once a shutdown has started.
func (m *Manager) IsHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateRunning
}

// CheckOperational returns an error wrapping ErrHalted if motion is halted.
func (m *Manager) CheckOperational() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateRunning {
		return fmt.Errorf("%w: %s - %s", ErrHalted, m.reason, m.msg)
	}
	return nil
}

// StepError halts the machine after a fatal step generation error. Heaters
// are turned off but motors keep their holding current.
func (m *Manager) StepError(msg string) {
	m.halt(ReasonStepError, msg, false)
}

// EmergencyStop turns off heaters and motors.
func (m *Manager) EmergencyStop(msg string) {
	m.halt(ReasonEmergencyStop, msg, true)
}

// RequestShutdown halts by user request.
func (m *Manager) RequestShutdown(msg string) {
	m.halt(ReasonUserRequest, msg, true)
}

func (m *Manager) watchdogExpired() {
	m.halt(ReasonWatchdogTimeout, "move loop heartbeat timeout", true)
}

func (m *Manager) halt(reason Reason, msg string, disableMotors bool) {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateShuttingDown
	m.reason = reason
	m.msg = msg
	m.shutdownTime = time.Now()
	heaters := append([]HeaterDisabler(nil), m.heaters...)
	var motors []MotorDisabler
	if disableMotors {
		motors = append(motors, m.motors...)
	}
	m.mu.Unlock()

	m.StopWatchdog()
	m.log.Error("motion halted: %s: %s", reason, msg)

	for _, h := range heaters {
		if err := h.DisableHeater(); err != nil {
			m.log.Warn("failed to disable heater %s: %v", h.HeaterName(), err)
		}
	}
	for _, motor := range motors {
		_ = motor.DisableMotors()
	}

	m.mu.Lock()
	final := StateShutdown
	if reason.isError() {
		final = StateError
	}
	m.state = final
	callbacks := slices.Clone(m.onShutdown)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(reason, msg)
	}
}

// RecordPause records a power-fail or stall pause. Motion is not halted.
func (m *Manager) RecordPause(reason Reason, msg string) {
	m.mu.Lock()
	m.lastPause = PauseRecord{Reason: reason, Msg: msg, Time: time.Now()}
	m.pauses++
	m.mu.Unlock()
	m.log.Info("paused: %s: %s", reason, msg)
}

// LastPause returns the most recent pause and the number recorded.
func (m *Manager) LastPause() (PauseRecord, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPause, m.pauses
}

// StartWatchdog starts the watchdog. The move loop must call Heartbeat more
// often than the watchdog timeout.
func (m *Manager) StartWatchdog(ctx context.Context) {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	if m.watchdogCancel != nil {
		return
	}
	var wctx context.Context
	wctx, m.watchdogCancel = context.WithCancel(ctx)
	m.lastHeartbeat = time.Now()
	go m.watchdogLoop(wctx)
}

func (m *Manager) StopWatchdog() {
	m.watchdogMu.Lock()
	defer m.watchdogMu.Unlock()
	if m.watchdogCancel != nil {
		m.watchdogCancel()
		m.watchdogCancel = nil
	}
}

// Heartbeat resets the watchdog.
func (m *Manager) Heartbeat() {
	m.watchdogMu.Lock()
	m.lastHeartbeat = time.Now()
	m.watchdogMu.Unlock()
}

func (m *Manager) watchdogLoop(ctx context.Context) {
	m.watchdogMu.Lock()
	period := m.watchdogTimeout / 10
	m.watchdogMu.Unlock()
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.watchdogMu.Lock()
			expired := time.Since(m.lastHeartbeat) > m.watchdogTimeout
			m.watchdogMu.Unlock()
			if expired {
				go m.watchdogExpired()
				return
			}
		}
	}
}

// Reset returns a halted manager to the running state.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateRunning || m.state == StateShuttingDown {
		return errors.New("safety: cannot reset while running or shutting down")
	}
	m.state = StateRunning
	m.reason = ReasonNone
	m.msg = ""
	m.shutdownTime = time.Time{}
	return nil
}

// Status is a snapshot for reporting.
type Status struct {
	State        string
	Reason       string
	Msg          string
	ShutdownTime time.Time
	Pauses       int
}

func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:        m.state.String(),
		Reason:       string(m.reason),
		Msg:          m.msg,
		ShutdownTime: m.shutdownTime,
		Pauses:       m.pauses,
	}
}
