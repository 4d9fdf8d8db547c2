package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/tether/pkg/client"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass",
	Long: `Reconcile triggers one reconciliation pass on a running server, or runs
it in this process against the configured store with --local.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		if !local {
			summary, err := apiClient(cmd).RunReconcile()
			if err != nil {
				return fmt.Errorf("failed to run reconcile pass: %w", err)
			}
			return printJSON(summary)
		}

		a, err := localApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.reconciler.RunOnce(context.Background())
		if err != nil {
			return fmt.Errorf("failed to run reconcile pass: %w", err)
		}
		return printJSON(summary)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Run one alert monitor pass",
	Long: `Alerts triggers one alert monitor pass on a running server, or runs it
in this process against the configured store with --local.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")
		if !local {
			summary, err := apiClient(cmd).RunAlerts()
			if err != nil {
				return fmt.Errorf("failed to run alert pass: %w", err)
			}
			return printJSON(summary)
		}

		a, err := localApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.alerts.RunOnce(context.Background())
		if err != nil {
			return fmt.Errorf("failed to run alert pass: %w", err)
		}
		return printJSON(summary)
	},
}

func init() {
	reconcileCmd.Flags().Bool("local", false, "Run the pass in this process instead of on the server")
	alertsCmd.Flags().Bool("local", false, "Run the pass in this process instead of on the server")
}

func localApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	a.events.Start()
	return a, nil
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("api-token")
	return client.NewClient(addr, token)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
