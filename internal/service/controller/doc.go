// Package controller runs the carbon gate control loop.
//
// Each cycle optionally refreshes the carbon reading, reads the watched
// device's draw, combines both verdicts and lets the command state machine
// decide whether the actuator needs a new command. Failures never stop the
// loop: a failed fetch leaves state untouched and the next cycle simply tries
// again; there is no retry timer besides the cycle delay itself.
package controller
