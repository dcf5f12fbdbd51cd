package main

import (
	"fmt"

	"github.com/cuemby/pqhost/pkg/health"
	"github.com/cuemby/pqhost/pkg/lockfile"
	"github.com/cuemby/pqhost/pkg/storage"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock files and the connection journal",
	Long: `Show the worker's lock files and, when a state directory is configured,
the journal of recent connections and state changes.

The journal is locked while 'pqhost run' is writing it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _, err := loadProvider(cmd)
		if err != nil {
			return err
		}
		settings := provider.Current()
		limit, _ := cmd.Flags().GetInt("limit")

		report := statusReport{}
		if settings.Location != "" {
			snap := lockfile.New(settings.Location, settings.WorkerName).Read()
			report.Lock = &lockStatus{
				Location: settings.Location,
				Snapshot: snap,
				Alive:    snap.HasPID && health.ProcessAlive(snap.PID),
			}
		}

		if settings.StateDir != "" {
			store, err := storage.OpenReadOnly(settings.StateDir)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer store.Close()

			if report.Workers, err = store.ListWorkers(); err != nil {
				return err
			}
			if report.Transitions, err = store.ListTransitions(limit); err != nil {
				return err
			}
		}
		return printValue(cmd, report)
	},
}

type statusReport struct {
	Lock        *lockStatus             `json:"lock,omitempty" yaml:"lock,omitempty"`
	Workers     []*storage.WorkerRecord `json:"workers" yaml:"workers"`
	Transitions []*storage.Transition   `json:"transitions" yaml:"transitions"`
}

type lockStatus struct {
	lockfile.Snapshot `yaml:",inline"`

	Location string `json:"location" yaml:"location"`
	Alive    bool   `json:"alive" yaml:"alive"`
}

func init() {
	statusCmd.Flags().Int("limit", 20, "Number of journaled transitions to show (0 for all)")
	rootCmd.AddCommand(statusCmd)
}
