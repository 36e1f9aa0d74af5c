package controller

import (
	"time"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

// Combine returns the go/no-go verdict. A missing carbon decision never passes.
func Combine(carbon *gate.Decision, device gate.Decision) bool {
	return carbon != nil && carbon.Pass && device.Pass
}

// NextDelay picks the long delay while the carbon verdict fails and the short
// one otherwise, regardless of the device verdict.
func NextDelay(carbon *gate.Decision, short, long time.Duration) time.Duration {
	if carbon != nil && !carbon.Pass {
		return long
	}

	return short
}
