package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// printPayload writes a worker payload in the --output format.
func printPayload(cmd *cobra.Command, raw json.RawMessage) error {
	out := cmd.OutOrStdout()
	if len(raw) == 0 {
		return nil
	}
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "yaml":
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to convert payload: %w", err)
		}
		return writeYAML(out, v)
	case "json", "":
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			// not JSON, print as is
			_, err = fmt.Fprintln(out, string(raw))
			return err
		}
		_, err := fmt.Fprintln(out, buf.String())
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// printValue writes v in the --output format.
func printValue(cmd *cobra.Command, v interface{}) error {
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()
	switch format {
	case "yaml":
		return writeYAML(out, v)
	case "json", "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
