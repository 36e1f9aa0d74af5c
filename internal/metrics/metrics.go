// Package metrics exposes controller gauges and counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oshokin/carbon-gate/internal/domain/gate"
)

const namespace = "carbon_gate"

// Fetch sources used as label values.
const (
	SourceCarbon = "carbon"
	SourceMeter  = "meter"
)

// Metrics holds every collector of the controller on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	carbonIntensity prometheus.Gauge
	carbonThreshold prometheus.Gauge
	deviceDraw      prometheus.Gauge
	gateOpen        prometheus.Gauge
	windowSize      prometheus.Gauge
	deviceState     *prometheus.GaugeVec
	fetchFailures   *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandFailures prometheus.Counter
	cycles          prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		carbonIntensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carbon_intensity",
			Help:      "Latest carbon intensity reading.",
		}),
		carbonThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "carbon_threshold",
			Help:      "Current adaptive carbon threshold (mean + sample standard deviation).",
		}),
		deviceDraw: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_draw_watts",
			Help:      "Latest draw of the watched device, 0 when unobservable.",
		}),
		gateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_open",
			Help:      "1 when the appliance is allowed to run, 0 otherwise.",
		}),
		windowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_readings",
			Help:      "Number of readings in the carbon window.",
		}),
		deviceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_state",
			Help:      "1 for the state the appliance was last commanded into.",
		}, []string{"state"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Failed upstream fetches by source.",
		}, []string{"source"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands delivered to the actuator.",
		}, []string{"command"}),
		commandFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Commands the actuator failed to accept.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed control loop iterations.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.carbonIntensity,
		m.carbonThreshold,
		m.deviceDraw,
		m.gateOpen,
		m.windowSize,
		m.deviceState,
		m.fetchFailures,
		m.commands,
		m.commandFailures,
		m.cycles,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCarbon records a carbon verdict.
func (m *Metrics) ObserveCarbon(decision gate.Decision) {
	m.carbonIntensity.Set(decision.Measurement)
	m.carbonThreshold.Set(decision.Threshold)
}

// ObserveSample records a raw carbon reading and the resulting window fill.
func (m *Metrics) ObserveSample(value float64, windowLen int) {
	m.carbonIntensity.Set(value)
	m.windowSize.Set(float64(windowLen))
}

// ObserveDraw records a device verdict.
func (m *Metrics) ObserveDraw(decision gate.Decision) {
	m.deviceDraw.Set(decision.Measurement)
}

// ObserveCycle records the combined verdict and the stored device state.
func (m *Metrics) ObserveCycle(open bool, state gate.DeviceState) {
	m.cycles.Inc()

	if open {
		m.gateOpen.Set(1)
	} else {
		m.gateOpen.Set(0)
	}

	for _, s := range []gate.DeviceState{gate.StateUnknown, gate.StateOn, gate.StateOff} {
		value := 0.0
		if s == state {
			value = 1
		}

		m.deviceState.WithLabelValues(s.String()).Set(value)
	}
}

// FetchFailed counts a failed upstream fetch.
func (m *Metrics) FetchFailed(source string) {
	m.fetchFailures.WithLabelValues(source).Inc()
}

// CommandSent counts a delivered command.
func (m *Metrics) CommandSent(command gate.Command) {
	m.commands.WithLabelValues(command.String()).Inc()
}

// CommandFailed counts a rejected command.
func (m *Metrics) CommandFailed() {
	m.commandFailures.Inc()
}
