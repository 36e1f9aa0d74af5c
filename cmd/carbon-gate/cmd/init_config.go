package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/carbon-gate/internal/config"
)

// forceInit allows overwriting an existing configuration file.
var forceInit bool

// initConfigCmd writes a configuration template with every default filled in.
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a configuration template.",
	Long: `Write a configuration file with every optional setting at its default.

Secrets are left empty; put them into the file or into the .env file
(CO2SIGNAL_KEY, CO2SIGNAL_REGION, SENSE_USERNAME, SENSE_PASSWORD,
TRIGGER_DEVICE, WEBHOOK_KEY, MQTT_BROKER).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := os.Stat(configPath); err == nil && !forceInit {
			return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", configPath, err)
		}

		if err := config.Save(configPath, config.Default()); err != nil {
			return err
		}

		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initConfigCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")
}
