package decide

import (
	"context"
	"errors"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/repository/readings"
)

const (
	// CarbonDecisionName labels carbon verdicts.
	CarbonDecisionName = "Carbon Cost"
	// CarbonCriteria describes the carbon rule.
	CarbonCriteria = "Local carbon cost should be less than x̅ + σ"
	// minSamples is the number of readings needed before a threshold exists.
	minSamples = 2
)

// Store loads and saves the reading window snapshot.
type Store interface {
	Load(ctx context.Context) ([]float64, error)
	Save(ctx context.Context, values []float64) error
}

// Stats summarises the window for status output.
type Stats struct {
	// Len and Cap describe the window fill.
	Len int
	Cap int
	// Mean and StdDev are computed over the whole window.
	Mean   float64
	StdDev float64
	// Threshold is Mean+StdDev, valid only when Ready.
	Threshold float64
	// Last is the newest reading.
	Last float64
	// Ready is true once a threshold can be computed.
	Ready bool
}

// ThresholdEngine owns the reading window and produces carbon verdicts.
type ThresholdEngine struct {
	window *gate.Window
	store  Store
	units  string
}

// NewThresholdEngine creates an engine with an empty window of the given capacity.
// store may be nil, in which case readings live only in memory.
func NewThresholdEngine(capacity int, units string, store Store) *ThresholdEngine {
	return &ThresholdEngine{
		window: gate.NewWindow(capacity),
		store:  store,
		units:  units,
	}
}

// Restore loads the persisted window. Every failure leaves the window empty
// and is only logged; it never stops the controller.
func (e *ThresholdEngine) Restore(ctx context.Context) {
	if e.store == nil {
		return
	}

	values, err := e.store.Load(ctx)
	if err != nil {
		var stateErr *gate.PersistedStateError

		switch {
		case errors.As(err, &stateErr):
			logger.ErrorKV(ctx, "Persisted readings are corrupt, starting empty", "error", err)
		case errors.Is(err, readings.ErrNotFound):
			logger.Info(ctx, "No persisted readings, starting empty")
		default:
			logger.ErrorKV(ctx, "Failed to load persisted readings, starting empty", "error", err)
		}

		return
	}

	if err = e.window.Load(values); err != nil {
		logger.ErrorKV(ctx, "Persisted readings are corrupt, starting empty", "error", err)
		return
	}

	logger.InfoKV(ctx, "Restored persisted readings", "count", e.window.Len(), "capacity", e.window.Cap())
}

// Evaluate appends sample to the window, persists it and judges it against the
// threshold computed over the window including the sample itself.
// ok is false while fewer than two readings are available.
func (e *ThresholdEngine) Evaluate(ctx context.Context, sample float64) (gate.Decision, bool) {
	e.window.Append(sample)

	if e.store != nil {
		if err := e.store.Save(ctx, e.window.Snapshot()); err != nil {
			logger.ErrorKV(ctx, "Failed to persist readings", "error", err)
		}
	}

	if e.window.Len() < minSamples {
		logger.Info(ctx, "Still initializing CO2 thresholds")
		return gate.Decision{}, false
	}

	values := e.window.Snapshot()
	threshold := Mean(values) + SampleStdDev(values)

	return gate.Decision{
		Name:        CarbonDecisionName,
		Criteria:    CarbonCriteria,
		Units:       e.units,
		Threshold:   threshold,
		Measurement: sample,
		Pass:        sample < threshold,
	}, true
}

// Stats reports the current window statistics without modifying it.
func (e *ThresholdEngine) Stats() Stats {
	values := e.window.Snapshot()
	last, _ := e.window.Last()

	stats := Stats{
		Len:    len(values),
		Cap:    e.window.Cap(),
		Mean:   Mean(values),
		StdDev: SampleStdDev(values),
		Last:   last,
		Ready:  len(values) >= minSamples,
	}

	if stats.Ready {
		stats.Threshold = stats.Mean + stats.StdDev
	}

	return stats
}

// Snapshot returns the readings, oldest first.
func (e *ThresholdEngine) Snapshot() []float64 {
	return e.window.Snapshot()
}
