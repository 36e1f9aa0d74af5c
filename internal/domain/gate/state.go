package gate

// DeviceState is the last state the actuator was successfully commanded into.
type DeviceState int

const (
	// StateUnknown is the initial state; it is never re-entered.
	StateUnknown DeviceState = iota
	// StateOn means the appliance was last told to turn on.
	StateOn
	// StateOff means the appliance was last told to turn off.
	StateOff
)

// String implements fmt.Stringer.
func (s DeviceState) String() string {
	switch s {
	case StateOn:
		return "on"
	case StateOff:
		return "off"
	default:
		return "unknown"
	}
}

// Command is an outbound instruction to the actuator.
type Command int

const (
	// CommandTurnOff asks the actuator to switch the appliance off.
	CommandTurnOff Command = iota
	// CommandTurnOn asks the actuator to switch the appliance on.
	CommandTurnOn
)

// CommandFor returns the command implied by a "should be on" verdict.
func CommandFor(on bool) Command {
	if on {
		return CommandTurnOn
	}

	return CommandTurnOff
}

// State returns the device state reached once the command succeeds.
func (c Command) State() DeviceState {
	if c == CommandTurnOn {
		return StateOn
	}

	return StateOff
}

// String implements fmt.Stringer.
func (c Command) String() string {
	if c == CommandTurnOn {
		return "on"
	}

	return "off"
}
