// Package gate contains the core domain types of the carbon gate.
//
// It defines Decision (a pass/fail verdict with its evidence), DeviceState and
// Command (what the actuator was last told), and Window, the bounded history of
// carbon-intensity readings. Nothing here performs I/O.
package gate
