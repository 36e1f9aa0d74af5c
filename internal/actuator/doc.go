// Package actuator delivers on/off commands to the controlled appliance.
//
// StateMachine remembers the last command that was delivered and only sends a
// new one when the desired state changes, so the outbound channel sees one
// event per real transition. Senders implement the channel itself: a maker
// webhook, an MQTT topic, or the log for dry runs.
package actuator
