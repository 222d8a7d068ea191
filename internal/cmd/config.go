package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pixelbot/pixelbot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return invalidConfig(err)
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printConfig(cmd, cfg, asJSON)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configuration is complete enough to serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context(), nil)
		if err != nil {
			return invalidConfig(err)
		}
		if err := cfg.Validate(); err != nil {
			return invalidConfig(err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)

	configShowCmd.Flags().Bool("json", false, "Output JSON instead of YAML")
}

func printConfig(cmd *cobra.Command, cfg *config.Config, asJSON bool) error {
	redacted := cfg.Redacted()
	var (
		payload []byte
		err     error
	)
	if asJSON {
		payload, err = json.MarshalIndent(redacted, "", "  ")
	} else {
		payload, err = yaml.Marshal(redacted)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
	return err
}
