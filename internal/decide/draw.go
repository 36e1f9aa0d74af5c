package decide

import (
	"fmt"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

// DrawUnits is the unit label of draw verdicts.
const DrawUnits = "W"

// DrawDecider judges whether a named device is drawing enough power to block the appliance.
type DrawDecider struct {
	device    string
	threshold float64
}

// NewDrawDecider creates a decider for device with a fixed watt threshold.
func NewDrawDecider(device string, threshold float64) *DrawDecider {
	return &DrawDecider{
		device:    device,
		threshold: threshold,
	}
}

// Device returns the watched device name.
func (d *DrawDecider) Device() string {
	return d.device
}

// Evaluate judges a draw. A device that is not present counts as drawing 0 W,
// so an unobservable device never blocks the appliance.
func (d *DrawDecider) Evaluate(watts float64, present bool) gate.Decision {
	if !present {
		watts = 0
	}

	return gate.Decision{
		Name:        d.device,
		Criteria:    fmt.Sprintf("%s should draw less than %g W", d.device, d.threshold),
		Units:       DrawUnits,
		Threshold:   d.threshold,
		Measurement: watts,
		Pass:        watts < d.threshold,
	}
}

// FromReport finds the watched device in a meter report. A failed report
// (timeout or otherwise) and a report without the device are both absent.
// present tells the caller which case applied.
func (d *DrawDecider) FromReport(report []gate.DeviceDraw, err error) (decision gate.Decision, present bool) {
	if err == nil {
		for _, draw := range report {
			if draw.Name == d.device {
				return d.Evaluate(draw.Watts, true), true
			}
		}
	}

	return d.Evaluate(0, false), false
}
