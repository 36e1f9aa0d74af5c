package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/carbon-gate/internal/actuator"
	"github.com/oshokin/carbon-gate/internal/decide"
	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/metrics"
	"github.com/oshokin/carbon-gate/internal/render"
	"github.com/oshokin/carbon-gate/internal/status"
)

// CarbonSource returns the latest carbon intensity of the configured region.
type CarbonSource interface {
	Latest(ctx context.Context) (float64, error)
}

// Meter returns the current per-device power draw.
type Meter interface {
	Draws(ctx context.Context) ([]gate.DeviceDraw, error)
}

// Reporter receives the decisions of every cycle, e.g. to print them.
type Reporter func(ctx context.Context, decisions []gate.Decision)

// Deps are the collaborators of a Controller.
type Deps struct {
	Carbon  CarbonSource
	Meter   Meter
	Engine  *decide.ThresholdEngine
	Draw    *decide.DrawDecider
	Machine *actuator.StateMachine
	// Metrics, Board and Reporter are optional.
	Metrics  *metrics.Metrics
	Board    *status.Board
	Reporter Reporter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Timing holds the loop intervals.
type Timing struct {
	// UpdateInterval is the minimum time between carbon fetches.
	UpdateInterval time.Duration
	// ShortDelay follows cycles whose carbon verdict did not fail.
	ShortDelay time.Duration
	// LongDelay follows cycles whose carbon verdict failed.
	LongDelay time.Duration
}

// Outcome is the result of one cycle.
type Outcome struct {
	// CycleID correlates the outcome with its log lines.
	CycleID string
	// Carbon is the current carbon verdict, nil while absent or initializing.
	Carbon *gate.Decision
	// Device is the device draw verdict.
	Device gate.Decision
	// Open is the combined verdict fed to the state machine.
	Open bool
	// Command is the command implied by Open; Sent tells whether it went out this cycle.
	Command gate.Command
	Sent    bool
	// Delay is the time to wait before the next cycle.
	Delay time.Duration
}

// Decisions returns the verdicts of the cycle in display order.
func (o Outcome) Decisions() []gate.Decision {
	decisions := make([]gate.Decision, 0, 2)
	if o.Carbon != nil {
		decisions = append(decisions, *o.Carbon)
	}

	return append(decisions, o.Device)
}

// Controller owns all state of the control loop. It is driven by a single
// goroutine; only the status board is shared with readers.
type Controller struct {
	deps   Deps
	timing Timing

	// carbon is the most recent carbon verdict, nil until one exists.
	carbon *gate.Decision
	// initializing is true while the window holds fewer than two readings.
	initializing bool
	// nextFetch is the earliest time the carbon provider may be called again.
	nextFetch time.Time
}

// New creates a controller. The first cycle always fetches carbon data.
func New(deps Deps, timing Timing) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Controller{
		deps:         deps,
		timing:       timing,
		initializing: true,
	}
}

// Loop runs cycles until ctx is cancelled.
func (c *Controller) Loop(ctx context.Context) error {
	for {
		outcome := c.Cycle(ctx)

		timer := time.NewTimer(outcome.Delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "Context canceled, exiting")

			return nil
		case <-timer.C:
		}
	}
}

// Cycle runs one iteration: fetch, decide, command, pick the next delay.
func (c *Controller) Cycle(ctx context.Context) Outcome {
	outcome := Outcome{CycleID: uuid.NewString()}
	ctx = logger.WithKV(ctx, "cycle", outcome.CycleID)

	c.refreshCarbon(ctx)

	outcome.Carbon = c.carbon
	outcome.Device = c.readDevice(ctx)
	outcome.Open = Combine(outcome.Carbon, outcome.Device)

	var err error

	outcome.Command, outcome.Sent, err = c.deps.Machine.Apply(ctx, outcome.Open)

	switch {
	case err != nil:
		logger.ErrorKV(ctx, "Failed to command appliance, will retry next cycle", "command", outcome.Command.String(), "error", err)
		c.countCommandFailure()
	case outcome.Sent:
		c.countCommand(outcome.Command)
	}

	outcome.Delay = NextDelay(outcome.Carbon, c.timing.ShortDelay, c.timing.LongDelay)
	if outcome.Carbon != nil && !outcome.Carbon.Pass {
		logger.Infof(ctx, "CO2 is high. Will pause and check back in %s", outcome.Delay)
	}

	c.publish(ctx, outcome)

	return outcome
}

// refreshCarbon fetches and evaluates a new carbon sample when one is due.
// A failed fetch leaves the window, the verdict and the schedule untouched.
func (c *Controller) refreshCarbon(ctx context.Context) {
	now := c.deps.Now()
	if now.Before(c.nextFetch) {
		logger.DebugKV(ctx, "Carbon data is fresh, skipping fetch", "next_fetch", c.nextFetch)
		return
	}

	sample, err := c.deps.Carbon.Latest(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Failed to fetch carbon intensity, keeping previous verdict", "error", err)

		if c.deps.Metrics != nil {
			c.deps.Metrics.FetchFailed(metrics.SourceCarbon)
		}

		return
	}

	c.nextFetch = now.Add(c.timing.UpdateInterval)

	decision, ok := c.deps.Engine.Evaluate(ctx, sample)

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveSample(sample, c.deps.Engine.Stats().Len)
	}

	if !ok {
		c.carbon = nil
		c.initializing = true

		return
	}

	c.carbon = &decision
	c.initializing = false

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveCarbon(decision)
	}

	logger.InfoKV(
		ctx,
		fmt.Sprintf("%s Current %s (%.1f) should be less than threshold %.1f",
			render.Mark(decision.Pass), decision.Units, decision.Measurement, decision.Threshold),
		"measurement", decision.Measurement,
		"threshold", decision.Threshold,
		"pass", decision.Pass,
	)
}

// readDevice reads the meter and judges the watched device.
func (c *Controller) readDevice(ctx context.Context) gate.Decision {
	report, err := c.deps.Meter.Draws(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Failed to read device draw, treating device as off", "error", err)

		if c.deps.Metrics != nil {
			c.deps.Metrics.FetchFailed(metrics.SourceMeter)
		}
	}

	decision, present := c.deps.Draw.FromReport(report, err)

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveDraw(decision)
	}

	if present {
		logger.Infof(ctx, "%s %s (%.1f Watts) should be less than %g Watts",
			render.Mark(decision.Pass), decision.Name, decision.Measurement, decision.Threshold)
	} else {
		logger.Infof(ctx, "%s %s missing, inferred (0W) < %gW",
			render.Mark(decision.Pass), decision.Name, decision.Threshold)
	}

	return decision
}

func (c *Controller) countCommand(command gate.Command) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.CommandSent(command)
	}
}

func (c *Controller) countCommandFailure() {
	if c.deps.Metrics != nil {
		c.deps.Metrics.CommandFailed()
	}
}

// publish hands the outcome to the optional presentation layers.
func (c *Controller) publish(ctx context.Context, outcome Outcome) {
	state := c.deps.Machine.State()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveCycle(outcome.Open, state)
	}

	if c.deps.Board != nil {
		c.deps.Board.Publish(status.Snapshot{
			CycleID:      outcome.CycleID,
			At:           c.deps.Now(),
			Decisions:    outcome.Decisions(),
			Open:         outcome.Open,
			State:        state.String(),
			NextCheck:    c.deps.Now().Add(outcome.Delay),
			Initializing: c.initializing,
		})
	}

	if c.deps.Reporter != nil {
		c.deps.Reporter(ctx, outcome.Decisions())
	}
}
