package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/janus/pkg/cli"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/server"
	"mercator-hq/janus/pkg/telemetry/logging"
)

var runFlags struct {
	httpAddress  string
	httpsAddress string
	registryPath string
	logLevel     string
	dryRun       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Janus proxy",
	Long: `Start the Janus proxy with the specified configuration.

The proxy watches the service registry, serves plain HTTP and TLS traffic
for the discovered hosts, answers ACME challenges, and keeps certificates
fresh.

Examples:
  # Start with default config
  janus run

  # Start with custom config
  janus run --config /etc/janus/config.yaml

  # Override the registry directory
  janus run --registry /var/lib/janus/services

  # Validate config without starting
  janus run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.httpAddress, "http", "", "override plain HTTP listen address")
	runCmd.Flags().StringVar(&runFlags.httpsAddress, "https", "", "override TLS listen address")
	runCmd.Flags().StringVar(&runFlags.registryPath, "registry", "", "override registry descriptor directory")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the proxy")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.httpAddress != "" {
		cfg.Proxy.HTTPAddress = runFlags.httpAddress
	}
	if runFlags.httpsAddress != "" {
		cfg.Proxy.HTTPSAddress = runFlags.httpsAddress
	}
	if runFlags.registryPath != "" {
		cfg.Registry.Path = runFlags.registryPath
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging); err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	srv, err := server.New(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx := cli.SetupSignalHandler()
	if err := srv.Run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}
