package main

import (
	"context"
	"fmt"

	"github.com/cuemby/pqhost/pkg/client"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the worker answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Worker is responding")
			return nil
		})
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the connector's data source information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if c.ConnectorPath() == "" {
				return fmt.Errorf("no connector configured: use --connector or set connector_path")
			}
			payload, err := c.DisplayExtensionInfo(ctx)
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection QUERY_FILE",
	Short: "Run the connector's TestConnection handler",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.TestConnection(ctx, args[0])
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var runTestsCmd = &cobra.Command{
	Use:   "run-tests QUERY_FILE",
	Short: "Evaluate a query file against the connector",
	Long: `Evaluate a query file against the connector and print the test
battery result.

Examples:
  # Evaluate a query file with the connector from the config file
  pqhost run-tests --config pqhost.yaml MyConnector.query.pq

  # Pick the connector and worker on the command line
  pqhost run-tests --location /opt/pqtest --connector bin/MyConnector.mez q.pq`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.RunTestBattery(ctx, args[0])
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the worker process to exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.ForceShutdown(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Shutdown requested")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(testConnectionCmd)
	rootCmd.AddCommand(runTestsCmd)
	rootCmd.AddCommand(shutdownCmd)
}
