package gate

// Decision is an immutable verdict produced by a decision engine.
type Decision struct {
	// Name labels what was evaluated.
	Name string `json:"name"`
	// Criteria describes the rule in human terms.
	Criteria string `json:"criteria"`
	// Units is the unit label of Threshold and Measurement.
	Units string `json:"units"`
	// Threshold is the computed or fixed cutoff.
	Threshold float64 `json:"threshold"`
	// Measurement is the observed value.
	Measurement float64 `json:"measurement"`
	// Pass is true when the appliance may run as far as this verdict is concerned.
	Pass bool `json:"decision"`
}

// DeviceDraw is one entry of a power-metering report.
type DeviceDraw struct {
	// Name is the device name as reported by the meter.
	Name string `json:"name"`
	// Watts is the instantaneous draw.
	Watts float64 `json:"w"`
}
