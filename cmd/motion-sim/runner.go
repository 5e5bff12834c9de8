package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"reprap-motion/pkg/log"
	"reprap-motion/pkg/motion"
	"reprap-motion/pkg/safety"
	"reprap-motion/pkg/steptimer"
)

// runner feeds a script into the move engine and drives the step clock
type runner struct {
	m      *motion.Move
	qs     *motion.QueueSource
	feeder *feeder
	ms     *motion.MovementState
	log    *log.Logger

	mu     sync.Mutex // pump is called from the simulated loop or a ticker
	pauses int
}

func newRunner(m *motion.Move, qs *motion.QueueSource, sc *Script) *runner {
	ms := motion.NewMovementState()
	ms.FeedRate = sc.Feed
	return &runner{
		m:      m,
		qs:     qs,
		feeder: newFeeder(sc, m.NumAxes()),
		ms:     ms,
		log:    log.GetLogger("sim"),
	}
}

// pump hands script steps to the engine while the source queue of ring 0
// is empty, so that a pause or stall step runs once every earlier move
// has reached the ring
func (r *runner) pump() {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.feeder
	for !f.done() && r.qs.Len(0) == 0 {
		i := f.next
		st := &f.script.Steps[i]
		f.next++
		switch st.Type {
		case stepPause:
			if !f.fired[i] {
				f.fired[i] = true
				r.pause()
			}
		case stepStall:
			if !f.fired[i] {
				f.fired[i] = true
				r.stall()
			}
		case stepSpecial:
			r.m.QueueSpecialMove(f.feed(st), f.amounts(st))
		case stepAsync:
			if r.m.NumRings() < 2 {
				r.log.Warn("step %d: async move needs aux_ring_size in [move]", i+1)
				continue
			}
			am := motion.AsyncMove{
				Movements:      f.amounts(st),
				StartSpeed:     st.StartSpeed,
				EndSpeed:       st.EndSpeed,
				RequestedSpeed: f.feed(st),
				Acceleration:   f.script.Accel,
			}
			r.qs.PushAsync(am)
		default:
			var rm motion.RawMove
			f.rawMove(i, &rm)
			r.qs.Push(0, rm)
		}
	}
}

func (r *runner) pause() {
	if !r.m.Ring(0).PauseMoves(r.ms) {
		r.log.Info("pause: no queued moves to skip")
		return
	}
	rp := r.ms.PauseRestorePoint
	r.pauses++
	r.log.WithFields(log.Fields{
		"file_pos": rp.FilePos,
		"coords":   rp.MoveCoords[:r.m.NumAxes()],
		"feed":     rp.FeedRate,
	}).Info("paused, resuming")
	r.feeder.resume(&rp)
}

func (r *runner) stall() {
	var rp motion.RestorePoint
	if !r.m.LowPowerOrStallPause(safety.ReasonStallPause, &rp) {
		r.log.Info("stall: no queued moves to skip")
		return
	}
	r.pauses++
	r.log.WithFields(log.Fields{
		"file_pos": rp.FilePos,
		"coords":   rp.MoveCoords[:r.m.NumAxes()],
	}).Warn("stall pause, resuming")
	r.feeder.resume(&rp)
}

// finished reports that the script has been read and every move executed
func (r *runner) finished() bool {
	r.mu.Lock()
	done := r.feeder.done()
	r.mu.Unlock()
	if !done || r.qs.Len(0) != 0 {
		return false
	}
	for n := 0; n < r.m.NumRings(); n++ {
		if !r.m.WaitingForAllMovesFinished(n) {
			return false
		}
	}
	return true
}

// runSimulated owns the clock: each pass runs the move task once, then
// fires every step interrupt due before the next pass
func (r *runner) runSimulated(ctx context.Context, src *steptimer.SimSource, limit time.Duration) error {
	timer := r.m.Timer()
	maxTicks := uint64(limit.Seconds() * motion.StepClockRate)
	var elapsed uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e := r.m.LastStepError(); e != nil {
			return e
		}
		r.pump()
		delay, moveRead := r.m.SpinOnce()
		if !moveRead && r.finished() {
			return nil
		}
		if moveRead {
			delay = 0
		}

		step := max(delay, 1) * (motion.StepClockRate / 1000)
		end := src.Now() + step
		for {
			when, armed := timer.Scheduled()
			if !armed {
				break
			}
			due := when + timer.MovementDelay()
			if int32(due-end) > 0 {
				break
			}
			src.Set(due)
			timer.Fire()
		}
		src.Set(end)

		elapsed += uint64(step)
		if elapsed > maxTicks {
			return fmt.Errorf("script still running after %s of machine time", limit)
		}
	}
}

// runRealtime runs the step timer and the move task on their own
// goroutines against the host clock. cpu >= 0 pins the step goroutine.
func (r *runner) runRealtime(ctx context.Context, cpu int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if cpu >= 0 {
			if err := steptimer.PinCurrentThread(cpu); err != nil {
				r.log.WithError(err).Warn("cannot pin step thread")
			}
		}
		r.m.Timer().Run(ctx)
	}()

	loopErr := make(chan error, 1)
	go func() { loopErr <- r.m.MoveLoop(ctx) }()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	var err error
	for err == nil {
		select {
		case err = <-loopErr:
		case <-ticker.C:
			r.pump()
			if !r.finished() {
				continue
			}
			cancel()
			if err = <-loopErr; stderrors.Is(err, context.Canceled) {
				err = nil
			}
			wg.Wait()
			return err
		}
	}
	cancel()
	wg.Wait()
	return err
}
