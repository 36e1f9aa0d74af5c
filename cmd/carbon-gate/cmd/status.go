package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/carbon-gate/internal/decide"
	"github.com/oshokin/carbon-gate/internal/render"
	"github.com/oshokin/carbon-gate/internal/repository/readings"
)

// statusCmd prints the persisted carbon window without contacting any service.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted carbon readings and the current threshold.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		capacity, err := cfg.Carbon.Capacity()
		if err != nil {
			return fmt.Errorf("window capacity: %w", err)
		}

		engine := decide.NewThresholdEngine(capacity, cfg.Carbon.Units, readings.NewFileRepository(cfg.StateFile))
		engine.Restore(cmd.Context())

		return render.Stats(cmd.OutOrStdout(), engine.Stats(), cfg.Carbon.Units)
	},
}
