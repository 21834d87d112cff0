// Package health tracks the service lifecycle (starting, ready, draining,
// stopped) and renders the liveness and readiness reports served on the
// probe endpoints. Transitions only move forward and observers registered
// with OnChange see each one exactly once.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusReady     Status = "ready"
	StatusNotReady  Status = "not_ready"
)

// State is the lifecycle state of the service. States only move forward.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Controller is the liveness/readiness state machine.
type Controller struct {
	state   atomic.Int32
	started time.Time

	mu        sync.Mutex
	changed   chan struct{} // closed and replaced on every transition
	listeners []func(State)
}

// NewController returns a controller in the Starting state.
func NewController() *Controller {
	return &Controller{
		started: time.Now(),
		changed: make(chan struct{}),
	}
}

// OnChange registers fn to run after every transition with the new state.
// Callbacks run synchronously and must not trigger transitions.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Live reports whether the process should be considered alive.
func (c *Controller) Live() bool {
	return c.State() != StateStopped
}

// Ready reports whether the service should receive new traffic.
func (c *Controller) Ready() bool {
	return c.State() == StateReady
}

// Uptime returns the time since the controller was created.
func (c *Controller) Uptime() time.Duration {
	return time.Since(c.started)
}

// MarkReady moves Starting to Ready. It returns false if the service has
// already left Starting.
func (c *Controller) MarkReady() bool {
	return c.transition(StateReady, func(cur State) bool { return cur == StateStarting })
}

// BeginDrain moves Starting or Ready to Draining. Only the call that
// performed the transition gets true.
func (c *Controller) BeginDrain() bool {
	return c.transition(StateDraining, func(cur State) bool { return cur < StateDraining })
}

// MarkStopped moves any earlier state to Stopped.
func (c *Controller) MarkStopped() bool {
	return c.transition(StateStopped, func(cur State) bool { return cur < StateStopped })
}

func (c *Controller) transition(to State, allowed func(State) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.State()
	if !allowed(cur) {
		return false
	}
	c.state.Store(int32(to))
	close(c.changed)
	c.changed = make(chan struct{})

	for _, fn := range c.listeners {
		fn(to)
	}
	return true
}

// Wait blocks until the state reaches at least s or ctx is done.
func (c *Controller) Wait(ctx context.Context, s State) error {
	for {
		c.mu.Lock()
		if c.State() >= s {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Report is the JSON body of the probe endpoints.
type Report struct {
	Status    Status `json:"status"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Uptime    string `json:"uptime"`
	InFlight  int64  `json:"in_flight"`
}

// Liveness builds the liveness report.
func (c *Controller) Liveness(version string, inFlight int64) Report {
	status := StatusHealthy
	if !c.Live() {
		status = StatusUnhealthy
	}
	return c.report(status, version, inFlight)
}

// Readiness builds the readiness report.
func (c *Controller) Readiness(version string, inFlight int64) Report {
	status := StatusReady
	if !c.Ready() {
		status = StatusNotReady
	}
	return c.report(status, version, inFlight)
}

func (c *Controller) report(status Status, version string, inFlight int64) Report {
	return Report{
		Status:    status,
		State:     c.State().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
		Uptime:    c.Uptime().Truncate(time.Second).String(),
		InFlight:  inFlight,
	}
}
