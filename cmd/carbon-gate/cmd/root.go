package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/carbon-gate/internal/config"
	"github.com/oshokin/carbon-gate/internal/logger"
	"github.com/oshokin/carbon-gate/internal/service/controller"
	"github.com/oshokin/carbon-gate/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// envFile stores the path to the dotenv file with secrets.
	envFile string
	// stateFile overrides the reading window file from the configuration.
	stateFile string
	// logLevel overrides the log level from the configuration.
	logLevel string
	// dryRun logs commands instead of sending them.
	dryRun bool
	// table prints the decisions of every cycle.
	table bool

	// rootCmd represents the controller loop.
	rootCmd = &cobra.Command{
		Use:   "carbon-gate",
		Short: "Run an appliance only when grid carbon intensity is low.",
		Long: `Controller that turns a deferrable appliance on and off based on grid carbon intensity.

Every cycle compares the latest carbon reading of the configured region with
the mean plus one standard deviation of recent readings, and checks that the
watched device draws less than its threshold. When both pass the appliance is
turned on, otherwise off. A command is only sent when the desired state changes.

Readings are persisted between runs, secrets can come from a .env file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			return controller.Run(ctx, cfg, &controller.Options{
				DryRun: dryRun,
				Table:  table,
				Output: cmd.OutOrStdout(),
			})
		},
	}
)

// Execute runs the carbon-gate CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file and the configuration, applies flag
// overrides and configures the global logger. strict enables validation.
func loadConfig(strict bool) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	load := config.Read
	if strict {
		load = config.Load
	}

	cfg, err := load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if stateFile != "" {
		cfg.StateFile = stateFile
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	logger.Configure(level, logger.Encoding(cfg.LogFormat))

	return cfg, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Flags shared by every subcommand.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFilename, "path to dotenv file with secrets")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "", "path to persisted carbon readings (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log commands instead of sending them")
	rootCmd.Flags().BoolVar(&table, "table", false, "print the decisions of every cycle as a table")

	rootCmd.AddCommand(statusCmd, initConfigCmd)
}
