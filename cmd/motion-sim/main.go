// motion-sim runs a YAML move script through the motion engine and reports
// where the motors ended up.
//
// Usage:
//
//	motion-sim -config machine.cfg -script moves.yaml [options]
//
// Options:
//
//	-config string   Machine configuration file (required)
//	-script string   Move script (required)
//	-mode string     Simulation mode: off, debug, normal or partial (default "off")
//	-realtime        Run against the host clock instead of simulated time
//	-cpu int         Pin the step goroutine to this CPU in realtime mode (default -1)
//	-metrics string  Serve /metrics and /diagnostics on this address
//	-linger duration Keep the metrics server up after the script finishes
//	-debug string    Comma separated debug flags: moves, bad, segments, transforms, simulate
//	-limit duration  Give up after this much machine time (default 10m)
//	-json            Print the final diagnostics as JSON
//	-v               Debug logging
//
// Examples:
//
//	# Time a script without generating steps
//	motion-sim -config testdata/corexy.cfg -script testdata/square.yaml -mode normal
//
//	# Watch the engine while a script runs on the host clock
//	motion-sim -config machine.cfg -script square.yaml -realtime -metrics :9101 -linger 1m
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"reprap-motion/pkg/config"
	"reprap-motion/pkg/errors"
	"reprap-motion/pkg/kinematics"
	"reprap-motion/pkg/log"
	"reprap-motion/pkg/metrics"
	"reprap-motion/pkg/motion"
	"reprap-motion/pkg/safety"
	"reprap-motion/pkg/steptimer"
)

var debugFlagNames = map[string]motion.DebugFlags{
	"moves":      motion.DebugPrintAllMoves,
	"bad":        motion.DebugPrintBadMoves,
	"segments":   motion.DebugSegments,
	"transforms": motion.DebugPrintTransforms,
	"lookahead":  motion.DebugLookahead,
	"simulate":   motion.DebugSimulateSteppingDrivers,
}

func parseMode(s string) (motion.SimulationMode, error) {
	for _, mode := range []motion.SimulationMode{motion.SimOff, motion.SimDebug, motion.SimNormal, motion.SimPartial} {
		if strings.EqualFold(s, mode.String()) {
			return mode, nil
		}
	}
	return motion.SimOff, fmt.Errorf("unknown simulation mode %q", s)
}

func parseDebugFlags(s string) (motion.DebugFlags, error) {
	var flags motion.DebugFlags
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		f, ok := debugFlagNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown debug flag %q", name)
		}
		flags |= f
	}
	return flags, nil
}

func main() {
	configFile := flag.String("config", "", "Machine configuration file (required)")
	scriptFile := flag.String("script", "", "Move script (required)")
	modeName := flag.String("mode", "off", "Simulation mode: off, debug, normal or partial")
	realtime := flag.Bool("realtime", false, "Run against the host clock")
	cpu := flag.Int("cpu", -1, "Pin the step goroutine to this CPU in realtime mode")
	metricsAddr := flag.String("metrics", "", "Serve /metrics and /diagnostics on this address")
	linger := flag.Duration("linger", 0, "Keep the metrics server up after the script finishes")
	debug := flag.String("debug", "", "Comma separated debug flags")
	limit := flag.Duration("limit", 10*time.Minute, "Give up after this much machine time")
	jsonOut := flag.Bool("json", false, "Print the final diagnostics as JSON")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *configFile == "" || *scriptFile == "" {
		fmt.Fprintf(os.Stderr, "Error: -config and -script are required\n")
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		log.Root().SetLevel(log.DEBUG)
	}
	logger := log.GetLogger("motion-sim")

	mode, err := parseMode(*modeName)
	if err != nil {
		logger.WithError(err).Error("bad -mode")
		os.Exit(2)
	}
	debugFlags, err := parseDebugFlags(*debug)
	if err != nil {
		logger.WithError(err).Error("bad -debug")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, options{
		configFile:  *configFile,
		scriptFile:  *scriptFile,
		mode:        mode,
		debugFlags:  debugFlags,
		realtime:    *realtime,
		cpu:         *cpu,
		metricsAddr: *metricsAddr,
		linger:      *linger,
		limit:       *limit,
		jsonOut:     *jsonOut,
	}))
}

type options struct {
	configFile  string
	scriptFile  string
	mode        motion.SimulationMode
	debugFlags  motion.DebugFlags
	realtime    bool
	cpu         int
	metricsAddr string
	linger      time.Duration
	limit       time.Duration
	jsonOut     bool
}

func run(ctx context.Context, logger *log.Logger, o options) int {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		logger.WithError(err).Error("cannot load machine config")
		return 1
	}
	sc, err := LoadScript(o.scriptFile)
	if err != nil {
		logger.WithError(err).Error("cannot load script")
		return 1
	}

	var (
		src     steptimer.Source
		simSrc  *steptimer.SimSource
		drivers = motion.NewSimulatedDrivers(motion.MaxPhysicalDrives)
		qs      = motion.NewQueueSource()
		guard   = safety.New()
		mm      = metrics.NewMotionMetrics()
	)
	guard.RegisterMotor(motorCutoff{drivers})
	if o.realtime {
		src = steptimer.NewMonotonicSource()
	} else {
		simSrc = steptimer.NewSimSource(0)
		src = simSrc
	}

	m, err := motion.LoadMachineConfig(cfg, motion.Options{
		Timer:          steptimer.New(src),
		Drivers:        drivers,
		Source:         qs,
		Safety:         guard,
		Metrics:        mm,
		SimulationMode: o.mode,
		DebugFlags:     o.debugFlags,
	})
	if err != nil {
		if errors.IsConfig(err) {
			logger.WithError(err).Error("invalid machine config")
		} else {
			logger.WithError(err).Error("cannot build motion system")
		}
		return 1
	}
	defer m.Exit()

	logger.WithFields(log.Fields{
		"script":     sc.Name,
		"steps":      len(sc.Steps),
		"kinematics": m.Kinematics().Name(),
		"mode":       m.SimulationMode().String(),
		"realtime":   o.realtime,
	}).Info("starting")

	var srv *metrics.Server
	if o.metricsAddr != "" {
		srv = metrics.NewServer(mm, o.metricsAddr)
		srv.SetDiagnosticsSource(func() any { return m.Snapshot() })
		errCh := srv.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if o.mode == motion.SimOff {
		n := senseEndstops(m, drivers)
		logger.Debug("%d endstop inputs follow the simulated motors", n)
	}

	r := newRunner(m, qs, sc)
	start := time.Now()
	if o.realtime {
		guard.SetWatchdogTimeout(2 * time.Second)
		guard.StartWatchdog(ctx)
		err = r.runRealtime(ctx, o.cpu)
		guard.StopWatchdog()
	} else {
		err = r.runSimulated(ctx, simSrc, o.limit)
	}

	code := report(logger, m, guard, drivers, r, err, time.Since(start))
	if o.jsonOut {
		out, _ := json.MarshalIndent(m.Diagnostics(), "", "  ")
		fmt.Println(string(out))
	}
	if srv != nil && o.linger > 0 && ctx.Err() == nil {
		logger.Info("serving metrics on %s for %s", o.metricsAddr, o.linger)
		select {
		case <-ctx.Done():
		case <-time.After(o.linger):
		}
	}
	return code
}

// motorCutoff removes power from every simulated driver when motion halts
type motorCutoff struct{ drivers *motion.SimulatedDrivers }

func (c motorCutoff) DisableMotors() error {
	for d := 0; d < motion.MaxPhysicalDrives; d++ {
		c.drivers.DisableDriver(d)
	}
	return nil
}

func report(logger *log.Logger, m *motion.Move, guard *safety.Manager, drivers *motion.SimulatedDrivers, r *runner, err error, wall time.Duration) int {
	code := 0
	var stepErr *motion.StepError
	switch {
	case err == nil:
	case stderrors.As(err, &stepErr):
		logger.WithError(err).Error("step error")
		fmt.Fprint(os.Stderr, m.GenerateMovementErrorDebug())
		code = 3
	case stderrors.Is(err, safety.ErrHalted):
		reason, msg, _ := guard.GetShutdownInfo()
		logger.WithFields(log.Fields{"reason": reason, "msg": msg}).Error("motion halted")
		code = 3
	case stderrors.Is(err, context.Canceled):
		logger.Warn("interrupted")
		code = 130
	default:
		logger.WithError(err).Error("simulation failed")
		code = 1
	}

	coords := m.GetLiveMachineCoordinates()
	fields := log.Fields{
		"wall":   wall.Round(time.Millisecond).String(),
		"pauses": r.pauses,
	}
	for axis := 0; axis < m.NumAxes(); axis++ {
		fields[strings.ToLower(kinematics.AxisLetters[axis:axis+1])] = fmt.Sprintf("%.3f", coords[axis])
	}
	logger.WithFields(fields).Info("finished")

	if m.SimulationMode() == motion.SimOff || m.SimulationMode() == motion.SimDebug {
		pulses, glitches := drivers.Pulses()
		logger.WithFields(log.Fields{"pulses": pulses, "glitches": glitches}).Info("drivers")
		fmt.Println(drivers.String())
	}
	for n := 0; n < m.NumRings(); n++ {
		d := m.Ring(n).Snapshot()
		fmt.Printf("ring %d: %d scheduled, %d completed\n", n, d.ScheduledMoves, d.CompletedMoves)
	}
	return code
}
