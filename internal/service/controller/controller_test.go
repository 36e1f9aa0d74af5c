package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/carbon-gate/internal/actuator"
	"github.com/oshokin/carbon-gate/internal/decide"
	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/status"
)

const (
	testDevice     = "Dryer"
	testShortDelay = 120 * time.Second
	testLongDelay  = 1800 * time.Second
	testInterval   = 30 * time.Minute
)

var (
	errTestFetch = errors.New("provider unavailable")
	errTestSend  = errors.New("webhook unavailable")
)

// fakeCarbon returns queued samples; an empty queue repeats the last one.
type fakeCarbon struct {
	mu      sync.Mutex
	samples []float64
	err     error
	calls   atomic.Int32
}

func (f *fakeCarbon) Latest(context.Context) (float64, error) {
	f.calls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return 0, f.err
	}

	sample := f.samples[0]
	if len(f.samples) > 1 {
		f.samples = f.samples[1:]
	}

	return sample, nil
}

func (f *fakeCarbon) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

// fakeMeter returns a fixed report.
type fakeMeter struct {
	report []gate.DeviceDraw
	err    error
	calls  atomic.Int32
}

func (f *fakeMeter) Draws(context.Context) ([]gate.DeviceDraw, error) {
	f.calls.Add(1)

	return f.report, f.err
}

// recordingSender records delivered commands and can be told to fail.
type recordingSender struct {
	mu       sync.Mutex
	commands []gate.Command
	failures int
}

func (r *recordingSender) Send(_ context.Context, command gate.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures > 0 {
		r.failures--
		return errTestSend
	}

	r.commands = append(r.commands, command)

	return nil
}

func (r *recordingSender) sent() []gate.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]gate.Command(nil), r.commands...)
}

// seedStore serves a fixed window to Restore.
type seedStore struct {
	readings []float64
}

func (s *seedStore) Load(context.Context) ([]float64, error) {
	return s.readings, nil
}

func (*seedStore) Save(context.Context, []float64) error {
	return nil
}

// clock is a manually advanced time source.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fixture bundles a controller with its fakes.
type fixture struct {
	ctrl    *Controller
	carbon  *fakeCarbon
	meter   *fakeMeter
	sender  *recordingSender
	machine *actuator.StateMachine
	board   *status.Board
	clock   *clock
}

func newFixture(t *testing.T, seed []float64, samples ...float64) *fixture {
	t.Helper()

	engine := decide.NewThresholdEngine(336, "CO2eq/kWh", &seedStore{readings: seed})
	engine.Restore(t.Context())

	f := &fixture{
		carbon: &fakeCarbon{samples: samples},
		meter:  new(fakeMeter),
		sender: new(recordingSender),
		board:  status.NewBoard(),
		clock:  &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	f.machine = actuator.NewStateMachine(f.sender)
	f.ctrl = New(Deps{
		Carbon:  f.carbon,
		Meter:   f.meter,
		Engine:  engine,
		Draw:    decide.NewDrawDecider(testDevice, 50),
		Machine: f.machine,
		Board:   f.board,
		Now:     f.clock.Now,
	}, Timing{
		UpdateInterval: testInterval,
		ShortDelay:     testShortDelay,
		LongDelay:      testLongDelay,
	})

	return f
}

// TestCycle_InitializingTurnsOff sends off on the very first cycle of an empty window.
func TestCycle_InitializingTurnsOff(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, 100)

	outcome := f.ctrl.Cycle(t.Context())

	require.Nil(t, outcome.Carbon)
	require.False(t, outcome.Open)
	require.True(t, outcome.Sent)
	require.Equal(t, gate.CommandTurnOff, outcome.Command)
	require.Equal(t, testShortDelay, outcome.Delay)
	require.Equal(t, []gate.Command{gate.CommandTurnOff}, f.sender.sent())
	require.Equal(t, gate.StateOff, f.machine.State())

	snapshot, ok := f.board.Latest()
	require.True(t, ok)
	require.True(t, snapshot.Initializing)
	require.Equal(t, outcome.CycleID, snapshot.CycleID)
	require.Len(t, snapshot.Decisions, 1)
}

// TestCycle_LowCarbonAbsentDeviceTurnsOn passes both verdicts once the window is warm.
func TestCycle_LowCarbonAbsentDeviceTurnsOn(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)

	outcome := f.ctrl.Cycle(t.Context())

	require.NotNil(t, outcome.Carbon)
	require.InDelta(t, 120.0, outcome.Carbon.Threshold, 1e-9)
	require.True(t, outcome.Carbon.Pass)
	require.True(t, outcome.Device.Pass)
	require.Zero(t, outcome.Device.Measurement)
	require.True(t, outcome.Open)
	require.Equal(t, testShortDelay, outcome.Delay)
	require.Equal(t, []gate.Command{gate.CommandTurnOn}, f.sender.sent())
	require.Len(t, outcome.Decisions(), 2)
}

// TestCycle_HighCarbonBacksOff turns the appliance off and picks the long delay.
func TestCycle_HighCarbonBacksOff(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 500)

	outcome := f.ctrl.Cycle(t.Context())

	require.NotNil(t, outcome.Carbon)
	require.False(t, outcome.Carbon.Pass)
	require.False(t, outcome.Open)
	require.Equal(t, testLongDelay, outcome.Delay)
	require.Equal(t, []gate.Command{gate.CommandTurnOff}, f.sender.sent())
}

// TestCycle_DeviceDrawBlocks keeps the appliance off while the device draws too much.
func TestCycle_DeviceDrawBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)
	f.meter.report = []gate.DeviceDraw{{Name: "Fridge", Watts: 300}, {Name: testDevice, Watts: 60}}

	outcome := f.ctrl.Cycle(t.Context())

	require.True(t, outcome.Carbon.Pass)
	require.False(t, outcome.Device.Pass)
	require.InDelta(t, 60.0, outcome.Device.Measurement, 1e-9)
	require.False(t, outcome.Open)
	require.Equal(t, testShortDelay, outcome.Delay)
	require.Equal(t, []gate.Command{gate.CommandTurnOff}, f.sender.sent())
}

// TestCycle_MeterErrorCountsAsAbsent lets a failing meter pass the device verdict.
func TestCycle_MeterErrorCountsAsAbsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)
	f.meter.err = errTestFetch

	outcome := f.ctrl.Cycle(t.Context())

	require.True(t, outcome.Device.Pass)
	require.True(t, outcome.Open)
}

// TestCycle_ReusesCarbonUntilIntervalElapses fetches at most once per update interval.
func TestCycle_ReusesCarbonUntilIntervalElapses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110, 500)

	first := f.ctrl.Cycle(t.Context())
	f.clock.advance(testShortDelay)
	second := f.ctrl.Cycle(t.Context())

	require.Equal(t, int32(1), f.carbon.calls.Load())
	require.Equal(t, first.Carbon, second.Carbon)
	require.False(t, second.Sent)

	f.clock.advance(testInterval)
	third := f.ctrl.Cycle(t.Context())

	require.Equal(t, int32(2), f.carbon.calls.Load())
	require.False(t, third.Carbon.Pass)
	require.Equal(t, []gate.Command{gate.CommandTurnOn, gate.CommandTurnOff}, f.sender.sent())
	require.Equal(t, 3, int(f.meter.calls.Load()))
}

// TestCycle_FetchErrorKeepsPreviousVerdict leaves the verdict and schedule untouched.
func TestCycle_FetchErrorKeepsPreviousVerdict(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)

	first := f.ctrl.Cycle(t.Context())
	require.True(t, first.Open)

	f.carbon.fail(errTestFetch)
	f.clock.advance(testInterval)

	second := f.ctrl.Cycle(t.Context())
	require.Equal(t, first.Carbon, second.Carbon)
	require.True(t, second.Open)
	require.False(t, second.Sent)

	// The schedule did not move, so the next cycle tries again immediately.
	third := f.ctrl.Cycle(t.Context())
	require.Equal(t, int32(3), f.carbon.calls.Load())
	require.Equal(t, first.Carbon, third.Carbon)
}

// TestCycle_FetchErrorBeforeFirstReading never opens the gate.
func TestCycle_FetchErrorBeforeFirstReading(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)
	f.carbon.fail(errTestFetch)

	outcome := f.ctrl.Cycle(t.Context())

	require.Nil(t, outcome.Carbon)
	require.False(t, outcome.Open)
	require.Equal(t, testShortDelay, outcome.Delay)
	require.Equal(t, []gate.Command{gate.CommandTurnOff}, f.sender.sent())
}

// TestCycle_SendFailureRetriesNextCycle keeps the state so the command is fired again.
func TestCycle_SendFailureRetriesNextCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)
	f.sender.failures = 1

	first := f.ctrl.Cycle(t.Context())
	require.False(t, first.Sent)
	require.Equal(t, gate.StateUnknown, f.machine.State())

	second := f.ctrl.Cycle(t.Context())
	require.True(t, second.Sent)
	require.Equal(t, gate.StateOn, f.machine.State())
	require.Equal(t, []gate.Command{gate.CommandTurnOn}, f.sender.sent())
}

// TestCycle_ReportsDecisions hands every cycle's decisions to the reporter.
func TestCycle_ReportsDecisions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, []float64{100, 120}, 110)

	var reported [][]gate.Decision

	f.ctrl.deps.Reporter = func(_ context.Context, decisions []gate.Decision) {
		reported = append(reported, decisions)
	}

	f.ctrl.Cycle(t.Context())

	require.Len(t, reported, 1)
	require.Equal(t, decide.CarbonDecisionName, reported[0][0].Name)
	require.Equal(t, testDevice, reported[0][1].Name)
}

// TestLoop_WaitsBetweenCycles runs a cycle per short delay and stops on cancel.
func TestLoop_WaitsBetweenCycles(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		carbon := &fakeCarbon{samples: []float64{100}}
		meter := new(fakeMeter)
		sender := new(recordingSender)

		ctrl := New(Deps{
			Carbon:  carbon,
			Meter:   meter,
			Engine:  decide.NewThresholdEngine(72, "CO2eq/kWh", nil),
			Draw:    decide.NewDrawDecider(testDevice, 50),
			Machine: actuator.NewStateMachine(sender),
		}, Timing{
			UpdateInterval: testInterval,
			ShortDelay:     testShortDelay,
			LongDelay:      testLongDelay,
		})

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)

		go func() {
			done <- ctrl.Loop(ctx)
		}()

		// Cycles run at 0, 2, 4 and 6 minutes.
		time.Sleep(3*testShortDelay + time.Second)
		synctest.Wait()

		require.Equal(t, int32(4), meter.calls.Load())
		require.Equal(t, int32(1), carbon.calls.Load())
		require.Equal(t, []gate.Command{gate.CommandTurnOff}, sender.sent())

		cancel()
		require.NoError(t, <-done)
	})
}
