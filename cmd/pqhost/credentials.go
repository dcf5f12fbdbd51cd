package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/pqhost/pkg/client"
	"github.com/spf13/cobra"
)

var credentialsCmd = &cobra.Command{
	Use:     "credentials",
	Aliases: []string{"creds"},
	Short:   "Manage data source credentials stored by the worker",
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.ListCredentials(ctx)
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var credentialsDeleteCmd = &cobra.Command{
	Use:   "delete [--all | --kind KIND --path PATH]",
	Short: "Delete stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		kind, _ := cmd.Flags().GetString("kind")
		path, _ := cmd.Flags().GetString("path")
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.DeleteCredential(ctx, kind, path, all)
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var credentialsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the connector's credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.RefreshCredential(ctx)
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var credentialsTemplateCmd = &cobra.Command{
	Use:   "template QUERY_FILE",
	Short: "Print the credential template for the query's data source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.GenerateCredentialTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

var credentialsSetCmd = &cobra.Command{
	Use:   "set QUERY_FILE -f TEMPLATE",
	Short: "Store a credential from a filled-in template",
	Long: `Store a credential from a filled-in template.

Examples:
  # Generate, edit and store a credential
  pqhost credentials template q.pq > cred.json
  pqhost credentials set q.pq -f cred.json

  # Read the template from stdin
  cat cred.json | pqhost credentials set q.pq -f -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		template, err := readTemplate(cmd, file)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			payload, err := c.SetCredential(ctx, args[0], template)
			if err != nil {
				return err
			}
			return printPayload(cmd, payload)
		})
	},
}

func readTemplate(cmd *cobra.Command, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return json.RawMessage(data), nil
}

func init() {
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsDeleteCmd)
	credentialsCmd.AddCommand(credentialsRefreshCmd)
	credentialsCmd.AddCommand(credentialsTemplateCmd)
	credentialsCmd.AddCommand(credentialsSetCmd)
	rootCmd.AddCommand(credentialsCmd)

	credentialsDeleteCmd.Flags().Bool("all", false, "Delete every stored credential")
	credentialsDeleteCmd.Flags().String("kind", "", "Data source kind")
	credentialsDeleteCmd.Flags().String("path", "", "Data source path")

	credentialsSetCmd.Flags().StringP("file", "f", "", "Template file, - for stdin (required)")
	_ = credentialsSetCmd.MarkFlagRequired("file")
}
