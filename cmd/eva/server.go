package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cfg, nil, logger)
		if err != nil {
			return err
		}
		ok, err := client.Health(cmd.Context())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("backend at %s is unhealthy", cfg.API.BaseURL)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Print the backend debug report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient(cfg, newAuthManager(cfg, logger), logger)
		if err != nil {
			return err
		}
		report, err := client.Debug(cmd.Context())
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format debug report: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
