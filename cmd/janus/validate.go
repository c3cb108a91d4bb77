package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/janus/pkg/cli"
	"mercator-hq/janus/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the proxy.

Examples:
  janus validate
  janus validate --config /etc/janus/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
		}
		if err := config.Validate(cfg); err != nil {
			return cli.NewConfigError("", err.Error())
		}

		fmt.Printf("configuration valid: %s\n", cfgFile)
		fmt.Printf("  http listener:   %s\n", cfg.Proxy.HTTPAddress)
		fmt.Printf("  https listener:  %s\n", cfg.Proxy.HTTPSAddress)
		fmt.Printf("  admin listener:  %s\n", cfg.Proxy.AdminAddress)
		fmt.Printf("  registry:        %s (%s)\n", cfg.Registry.Path, cfg.Registry.Source)
		fmt.Printf("  acme enabled:    %t\n", cfg.ACME.Enabled)
		if cfg.ACME.Enabled {
			fmt.Printf("  acme directory:  %s\n", cfg.ACME.DirectoryURL)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
