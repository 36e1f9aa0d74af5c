package actuator

import (
	"context"
	"fmt"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
)

// Sender delivers a single command. Implementations must be safe to call
// again with the same command after a failure.
type Sender interface {
	Send(ctx context.Context, command gate.Command) error
}

// StateMachine debounces verdicts into commands.
// It is owned by a single goroutine and is not safe for concurrent use.
type StateMachine struct {
	sender Sender
	state  gate.DeviceState
}

// NewStateMachine creates a machine in the Unknown state.
func NewStateMachine(sender Sender) *StateMachine {
	return &StateMachine{sender: sender}
}

// State returns the last successfully commanded state.
func (m *StateMachine) State() gate.DeviceState {
	return m.state
}

// Next returns the command implied by shouldBeOn and whether it has to be sent.
// The first call after start always needs a command.
func (m *StateMachine) Next(shouldBeOn bool) (gate.Command, bool) {
	command := gate.CommandFor(shouldBeOn)

	return command, m.state == gate.StateUnknown || m.state != command.State()
}

// Apply sends the command implied by shouldBeOn when needed. sent reports
// whether a command was delivered. On error the stored state is unchanged, so
// the next call with the same verdict tries again.
func (m *StateMachine) Apply(ctx context.Context, shouldBeOn bool) (command gate.Command, sent bool, err error) {
	command, needed := m.Next(shouldBeOn)
	if !needed {
		return command, false, nil
	}

	if err = m.sender.Send(ctx, command); err != nil {
		return command, false, fmt.Errorf("send %s command: %w", command, err)
	}

	logger.InfoKV(
		ctx,
		fmt.Sprintf("Appliance should be %s, but was %s, so fired event", command, m.state),
		"command", command.String(),
		"previous_state", m.state.String(),
	)

	m.state = command.State()

	return command, true, nil
}
