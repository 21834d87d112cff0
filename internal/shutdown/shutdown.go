// Package shutdown drains the service on termination signals.
//
// The Coordinator is driven by a channel of os.Signal values so that the
// drain sequence can be exercised without delivering real signals:
//
//  1. first signal: readiness moves to Draining
//  2. optional drain delay, so load balancers see the not-ready state
//  3. listeners stop accepting connections while in-flight requests finish
//  4. after the grace period (or a second signal) listeners are force closed
//     and the requests still running are counted as abandoned
//  5. readiness moves to Stopped
package shutdown

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/wudi/analyzer/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultGracePeriod is used when no grace period is configured.
const DefaultGracePeriod = 30 * time.Second

// Readiness is the part of the health controller the coordinator drives.
type Readiness interface {
	BeginDrain() bool
	MarkStopped() bool
}

// Drainer reports in-flight work.
type Drainer interface {
	InFlight() int64
	WaitIdle(ctx context.Context) error
}

// Listeners stops the network listeners.
type Listeners interface {
	StopAll(ctx context.Context) error
	CloseAll() error
}

// AbandonRecorder counts requests dropped by a forced stop.
type AbandonRecorder interface {
	AddAbandoned(n int64)
}

// Config holds the drain timings.
type Config struct {
	GracePeriod time.Duration
	DrainDelay  time.Duration
}

// Result describes how the drain ended.
type Result struct {
	Signal    os.Signal
	Forced    bool
	Abandoned int64
	Elapsed   time.Duration
}

// Coordinator runs the drain sequence once.
type Coordinator struct {
	readiness Readiness
	drainer   Drainer
	listeners Listeners
	recorder  AbandonRecorder

	gracePeriod atomic.Int64
	drainDelay  atomic.Int64
}

// New creates a Coordinator. recorder may be nil.
func New(cfg Config, readiness Readiness, drainer Drainer, listeners Listeners, recorder AbandonRecorder) *Coordinator {
	c := &Coordinator{
		readiness: readiness,
		drainer:   drainer,
		listeners: listeners,
		recorder:  recorder,
	}
	c.SetTimings(cfg)
	return c
}

// SetTimings replaces the grace period and drain delay. It only affects
// drains that have not started yet.
func (c *Coordinator) SetTimings(cfg Config) {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	delay := cfg.DrainDelay
	if delay < 0 {
		delay = 0
	}
	c.gracePeriod.Store(int64(grace))
	c.drainDelay.Store(int64(delay))
}

// GracePeriod returns the configured grace period.
func (c *Coordinator) GracePeriod() time.Duration {
	return time.Duration(c.gracePeriod.Load())
}

// Run blocks until the first signal arrives or ctx is done, then drains.
// Signals received during the drain escalate to a forced stop.
func (c *Coordinator) Run(ctx context.Context, signals <-chan os.Signal) Result {
	var sig os.Signal
	select {
	case sig = <-signals:
		logging.Info("received shutdown signal", zap.Stringer("signal", sig))
	case <-ctx.Done():
		logging.Warn("shutting down", zap.Error(context.Cause(ctx)))
	}

	res := c.drain(signals)
	res.Signal = sig
	return res
}

func (c *Coordinator) drain(signals <-chan os.Signal) Result {
	start := time.Now()
	grace := c.GracePeriod()
	delay := time.Duration(c.drainDelay.Load())

	c.readiness.BeginDrain()
	logging.Info("draining",
		zap.Duration("grace_period", grace),
		zap.Duration("drain_delay", delay),
		zap.Int64("in_flight", c.drainer.InFlight()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var escalated atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-signals:
			escalated.Store(true)
			logging.Warn("second signal received, forcing shutdown", zap.Stringer("signal", sig))
			cancel()
		case <-done:
		}
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	var g errgroup.Group
	g.Go(func() error { return c.listeners.StopAll(ctx) })
	g.Go(func() error { return c.drainer.WaitIdle(ctx) })
	err := g.Wait()

	res := Result{}
	if ctx.Err() != nil {
		res.Forced = true
		res.Abandoned = c.drainer.InFlight()
		if cerr := c.listeners.CloseAll(); cerr != nil {
			logging.Error("force close failed", zap.Error(cerr))
		}
		if c.recorder != nil {
			c.recorder.AddAbandoned(res.Abandoned)
		}
		reason := "grace period expired"
		if escalated.Load() {
			reason = "second signal"
		}
		logging.Warn("forced shutdown",
			zap.String("reason", reason),
			zap.Int64("abandoned_requests", res.Abandoned),
		)
	} else if err != nil {
		logging.Error("error stopping listeners", zap.Error(err))
	}

	c.readiness.MarkStopped()
	res.Elapsed = time.Since(start)
	logging.Info("shutdown complete",
		zap.Bool("forced", res.Forced),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}
