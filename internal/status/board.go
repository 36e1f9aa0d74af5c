// Package status keeps the latest cycle outcome for presentation layers.
//
// The control loop publishes into a Board after every cycle; HTTP and gRPC
// surfaces read snapshots from it concurrently.
package status

import (
	"sync"
	"time"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

// Snapshot is what the presentation layers render.
type Snapshot struct {
	// CycleID correlates the snapshot with log lines.
	CycleID string `json:"cycle_id"`
	// At is when the cycle finished.
	At time.Time `json:"at"`
	// Decisions holds zero, one or two verdicts of the cycle.
	Decisions []gate.Decision `json:"decisions"`
	// Open is the combined go/no-go verdict.
	Open bool `json:"open"`
	// State is the last successfully commanded appliance state.
	State string `json:"state"`
	// NextCheck is when the next cycle starts.
	NextCheck time.Time `json:"next_check"`
	// Initializing is true while the carbon window is warming up.
	Initializing bool `json:"initializing"`
}

// Board stores the latest Snapshot.
type Board struct {
	mu       sync.RWMutex
	snapshot Snapshot
	ready    bool
	watchers []func(Snapshot)
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return new(Board)
}

// Publish replaces the snapshot and notifies watchers.
func (b *Board) Publish(s Snapshot) {
	b.mu.Lock()
	s.Decisions = append([]gate.Decision(nil), s.Decisions...)
	b.snapshot = s
	b.ready = true
	watchers := append([]func(Snapshot)(nil), b.watchers...)
	b.mu.Unlock()

	for _, watch := range watchers {
		watch(s)
	}
}

// Latest returns the last snapshot and whether any cycle has completed.
func (b *Board) Latest() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.snapshot
	s.Decisions = append([]gate.Decision(nil), s.Decisions...)

	return s, b.ready
}

// Watch registers fn to be called after every Publish.
func (b *Board) Watch(fn func(Snapshot)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.watchers = append(b.watchers, fn)
}
