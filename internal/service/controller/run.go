package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/oshokin/carbon-gate/internal/actuator"
	"github.com/oshokin/carbon-gate/internal/api/grpc/health"
	"github.com/oshokin/carbon-gate/internal/api/http/statusapi"
	"github.com/oshokin/carbon-gate/internal/config"
	"github.com/oshokin/carbon-gate/internal/decide"
	"github.com/oshokin/carbon-gate/internal/domain/gate"
	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/metrics"
	"github.com/oshokin/carbon-gate/internal/provider/co2signal"
	"github.com/oshokin/carbon-gate/internal/provider/sense"
	"github.com/oshokin/carbon-gate/internal/render"
	"github.com/oshokin/carbon-gate/internal/repository/lock"
	"github.com/oshokin/carbon-gate/internal/repository/readings"
	"github.com/oshokin/carbon-gate/internal/status"
)

// Options controls the controller process.
type Options struct {
	// DryRun logs commands instead of sending them.
	DryRun bool
	// Table prints the decisions of every cycle to Output.
	Table bool
	// Output receives the decision tables. Nil disables them.
	Output io.Writer
}

// errNilConfig is returned when Run is called without configuration.
var errNilConfig = errors.New("configuration is not set")

// Run wires every component from cfg and drives the control loop until ctx is cancelled.
// The configuration must already be validated.
func Run(ctx context.Context, cfg *config.Config, opts *Options) error {
	if cfg == nil {
		return errNilConfig
	}

	if opts == nil {
		opts = new(Options)
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "carbon-gate")

	// Only one controller may own the state file.
	instanceLock, err := lock.Acquire(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.LockFile, err)
	}

	defer func() {
		if releaseErr := instanceLock.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Failed to release lock", "path", cfg.LockFile, "error", releaseErr)
		}
	}()

	capacity, err := cfg.Carbon.Capacity()
	if err != nil {
		return fmt.Errorf("window capacity: %w", err)
	}

	// Restore the reading window, a broken or missing file starts it empty.
	engine := decide.NewThresholdEngine(capacity, cfg.Carbon.Units, readings.NewFileRepository(cfg.StateFile))
	engine.Restore(ctx)

	// An unreachable command channel is not fatal, sends fail until it recovers.
	sender, closeSender := newSender(ctx, cfg, opts.DryRun)
	defer closeSender()

	var (
		collectors = metrics.New()
		board      = status.NewBoard()
	)

	deps := Deps{
		Carbon: co2signal.New(co2signal.Options{
			BaseURL: cfg.Carbon.BaseURL,
			APIKey:  cfg.Carbon.APIKey,
			Region:  cfg.Carbon.Region,
			Timeout: cfg.Carbon.Timeout,
		}),
		Meter: sense.New(sense.Options{
			AuthURL:     cfg.Meter.AuthURL,
			RealtimeURL: cfg.Meter.RealtimeURL,
			Username:    cfg.Meter.Username,
			Password:    cfg.Meter.Password,
			Timeout:     cfg.Meter.Timeout,
		}),
		Engine:  engine,
		Draw:    decide.NewDrawDecider(cfg.Meter.Device, cfg.Meter.DrawThreshold),
		Machine: actuator.NewStateMachine(sender),
		Metrics: collectors,
		Board:   board,
	}

	if opts.Table && opts.Output != nil {
		deps.Reporter = tableReporter(opts.Output)
	}

	ctrl := New(deps, Timing{
		UpdateInterval: cfg.Carbon.UpdateInterval,
		ShortDelay:     cfg.Loop.ShortDelay,
		LongDelay:      cfg.Loop.LongDelay,
	})

	// Surfaces share the loop's lifetime; a surface that fails stops the loop.
	surfaceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failures = make(chan error, 2)
	)

	if cfg.HTTPAddress != "" {
		router := statusapi.NewRouter(board, collectors.Handler())

		wg.Go(func() {
			if serveErr := statusapi.Serve(surfaceCtx, cfg.HTTPAddress, router); serveErr != nil {
				failures <- fmt.Errorf("status api: %w", serveErr)

				cancel()
			}
		})
	}

	if cfg.GRPCAddress != "" {
		server := health.NewServer(board)

		wg.Go(func() {
			if serveErr := server.Serve(surfaceCtx, cfg.GRPCAddress); serveErr != nil {
				failures <- fmt.Errorf("grpc health: %w", serveErr)

				cancel()
			}
		})
	}

	logger.InfoKV(ctx, "Controller started",
		"region", cfg.Carbon.Region,
		"device", cfg.Meter.Device,
		"actuator", actuatorName(cfg, opts.DryRun),
		"window_capacity", capacity,
		"state_file", cfg.StateFile,
	)

	loopErr := ctrl.Loop(surfaceCtx)

	cancel()
	wg.Wait()
	close(failures)

	errs := []error{loopErr}
	for failure := range failures {
		errs = append(errs, failure)
	}

	return errors.Join(errs...)
}

// newSender builds the configured actuator and a function releasing it.
func newSender(ctx context.Context, cfg *config.Config, dryRun bool) (actuator.Sender, func()) {
	noop := func() {}

	if dryRun {
		return actuator.LogSender{}, noop
	}

	switch cfg.Actuator.Kind {
	case config.ActuatorLog:
		return actuator.LogSender{}, noop
	case config.ActuatorMQTT:
		client := actuator.DialMQTT(ctx, actuator.MQTTOptions{
			Broker:   cfg.Actuator.MQTTBroker,
			ClientID: cfg.Actuator.MQTTClientID,
			Username: cfg.Actuator.MQTTUsername,
			Password: cfg.Actuator.MQTTPassword,
			Topic:    cfg.Actuator.MQTTTopic,
			Timeout:  cfg.Actuator.Timeout,
		})

		return client, func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.WarnKV(ctx, "Failed to close MQTT client", "error", closeErr)
			}
		}
	default:
		return actuator.NewWebhook(actuator.WebhookOptions{
			URLTemplate: cfg.Actuator.WebhookURL,
			Key:         cfg.Actuator.WebhookKey,
			OnEvent:     cfg.Actuator.OnEvent,
			OffEvent:    cfg.Actuator.OffEvent,
			Timeout:     cfg.Actuator.Timeout,
		}), noop
	}
}

func actuatorName(cfg *config.Config, dryRun bool) string {
	if dryRun {
		return "dry-run"
	}

	return cfg.Actuator.Kind
}

// tableReporter prints every cycle's decisions as a table.
func tableReporter(w io.Writer) Reporter {
	return func(ctx context.Context, decisions []gate.Decision) {
		if err := render.Table(w, decisions); err != nil {
			logger.WarnKV(ctx, "Failed to print decisions", "error", err)
		}
	}
}
