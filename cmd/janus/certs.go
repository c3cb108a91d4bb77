package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/janus/pkg/certs"
	"mercator-hq/janus/pkg/cli"
	"mercator-hq/janus/pkg/config"
)

var certsFlags struct {
	output string
}

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Inspect and manage certificates",
	Long: `Inspect the certificate store and index of a Janus installation.

These commands operate on the store and index directly and work whether or
not the proxy is running. Renewal flags are picked up by the running
daemon's next sweep.`,
}

var certsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed certificates",
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := openCertIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		entries, err := idx.List(context.Background())
		if err != nil {
			return cli.NewCommandError("certs list", err)
		}

		if certsFlags.output == string(cli.FormatJSON) {
			return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, entries)
		}

		if len(entries) == 0 {
			fmt.Println("no certificates")
			return nil
		}
		fmt.Printf("%-30s %-18s %-22s %s\n", "NAME", "STATE", "EXPIRES", "DOMAINS")
		for _, e := range entries {
			expires := "-"
			if !e.NotAfter.IsZero() {
				expires = e.NotAfter.Format(time.RFC3339)
			}
			fmt.Printf("%-30s %-18s %-22s %v\n", e.Name, e.State, expires, e.Domains)
		}
		return nil
	},
}

var certsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details of one certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
		}
		store, err := certs.NewStore(cfg.ACME.StorePath, nil)
		if err != nil {
			return cli.NewCommandError("certs info", err)
		}
		rec, err := store.Load(name)
		if err != nil {
			return cli.NewCommandError("certs info", err)
		}

		if certsFlags.output == string(cli.FormatJSON) {
			return cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, map[string]any{
				"name":         rec.Name,
				"domains":      rec.Domains,
				"not_after":    rec.NotAfter.Format(time.RFC3339),
				"last_attempt": rec.LastAttempt.Format(time.RFC3339),
				"valid":        rec.Valid(time.Now()),
			})
		}

		fmt.Printf("Name:         %s\n", rec.Name)
		fmt.Printf("Domains:      %v\n", rec.Domains)
		fmt.Printf("Expires:      %s\n", rec.NotAfter.Format(time.RFC3339))
		fmt.Printf("Last attempt: %s\n", rec.LastAttempt.Format(time.RFC3339))
		fmt.Printf("Valid:        %t\n", rec.Valid(time.Now()))
		return nil
	},
}

var certsRenewCmd = &cobra.Command{
	Use:   "renew <name>",
	Short: "Flag a certificate for renewal",
	Long: `Flag a certificate for renewal on the running daemon's next sweep,
regardless of how far its expiry is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		idx, err := openCertIndex()
		if err != nil {
			return err
		}
		defer idx.Close()

		if err := idx.SetForceRenew(context.Background(), name, true); err != nil {
			return cli.NewCommandError("certs renew", err)
		}
		fmt.Printf("certificate %q flagged for renewal\n", name)
		return nil
	},
}

func openCertIndex() (*certs.Index, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	idx, err := certs.OpenIndex(cfg.ACME.IndexPath)
	if err != nil {
		return nil, cli.NewCommandError("certs", err)
	}
	return idx, nil
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsListCmd)
	certsCmd.AddCommand(certsInfoCmd)
	certsCmd.AddCommand(certsRenewCmd)

	certsCmd.PersistentFlags().StringVarP(&certsFlags.output, "output", "o", "text", "output format (text, json)")
}
