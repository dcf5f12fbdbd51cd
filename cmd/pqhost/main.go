package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/pqhost/pkg/client"
	"github.com/cuemby/pqhost/pkg/config"
	"github.com/cuemby/pqhost/pkg/controller"
	"github.com/cuemby/pqhost/pkg/events"
	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/storage"
	"github.com/cuemby/pqhost/pkg/supervisor"
	"github.com/cuemby/pqhost/pkg/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pqhost",
	Short: "pqhost - Power Query worker connection manager",
	Long: `pqhost starts and supervises a local Power Query service host,
keeps a connection to it alive and exposes its credential and evaluation
operations on the command line.

The worker location is the directory holding the PQServiceHost executable
and the .pid/.port lock files it writes.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		log.Init(log.Config{
			Level:      log.ParseLevel(level),
			JSONOutput: jsonLogs,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pqhost version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	addGlobalFlags(rootCmd.PersistentFlags())
}

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Config file (.yaml, .yml or .toml)")
	flags.String("location", "", "Worker location (directory of the service host)")
	flags.String("connector", "", "Connector file passed to evaluations")
	flags.String("workspace", "", "Workspace folder sent as working directory (default current directory)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Write logs as JSON")
	flags.String("transport", "", "Transport (tcp, websocket)")
	flags.String("framing", "", "Message framing for tcp (header, line)")
	flags.String("state", "", "Directory for the connection journal")
	flags.Duration("timeout", 30*time.Second, "How long to wait for the worker to become ready")
	flags.StringP("output", "o", "json", "Output format (json, yaml)")
}

// overrides returns a function applying the flags the user set on top of
// loaded settings.
func overrides(cmd *cobra.Command) func(*config.Settings) {
	flags := cmd.Flags()
	return func(s *config.Settings) {
		if flags.Changed("location") {
			v, _ := flags.GetString("location")
			if abs, err := filepath.Abs(v); err == nil {
				v = abs
			}
			s.Location = v
		}
		if flags.Changed("connector") {
			s.ConnectorPath, _ = flags.GetString("connector")
		}
		if flags.Changed("transport") {
			s.Transport, _ = flags.GetString("transport")
		}
		if flags.Changed("framing") {
			s.Framing, _ = flags.GetString("framing")
		}
		if flags.Changed("state") {
			s.StateDir, _ = flags.GetString("state")
		}
	}
}

// loadProvider builds the settings provider: a watched file with --config,
// otherwise defaults plus flags. The file provider is also returned so the
// caller can start watching it.
func loadProvider(cmd *cobra.Command) (config.Provider, *config.FileProvider, error) {
	override := overrides(cmd)
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		fp, err := config.NewFileProvider(path, override)
		if err != nil {
			return nil, nil, err
		}
		if !cmd.Flags().Changed("log-level") {
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			ls := fp.Current().Log
			log.Init(log.Config{
				Level:      log.ParseLevel(ls.Level),
				JSONOutput: ls.JSON || jsonLogs,
				Output:     os.Stderr,
			})
		}
		return fp, fp, nil
	}

	s := config.Defaults()
	override(&s)
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return config.NewStaticProvider(s), nil, nil
}

// session is one controller with its client and collaborators.
type session struct {
	settings config.Settings
	ctrl     *controller.Controller
	client   *client.Client
	broker   *events.Broker
	store    *storage.BoltStore
}

func newSession(cmd *cobra.Command, s config.Settings, journal bool) (*session, error) {
	dialer, err := transport.NewDialer(s.Transport, s.Framing)
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(supervisor.Config{
		Name:         s.WorkerName,
		PollInterval: s.Timing.PollInterval.Std(),
		PollRounds:   s.Timing.PollRounds,
	}, nil)

	sess := &session{settings: s, broker: events.NewBroker()}
	sess.broker.Start()

	opts := []controller.Option{controller.WithBroker(sess.broker)}
	if journal && s.StateDir != "" {
		store, err := storage.NewBoltStore(s.StateDir)
		if err != nil {
			sess.broker.Stop()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		sess.store = store
		opts = append(opts, controller.WithStore(store))
	}
	sess.ctrl = controller.New(controller.ConfigFromSettings(s), sup, dialer, opts...)

	dir, _ := cmd.Flags().GetString("workspace")
	ws, err := client.DirWorkspace(dir)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	sess.client = client.New(sess.ctrl, client.Options{ConnectorPath: s.ConnectorPath, Workspace: ws})
	return sess, nil
}

func (s *session) Close() {
	if s.ctrl != nil {
		_ = s.ctrl.Close()
	}
	s.broker.Stop()
	if s.store != nil {
		_ = s.store.Close()
	}
}

// withClient connects to the configured worker, waits for it to be ready
// and runs fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	provider, _, err := loadProvider(cmd)
	if err != nil {
		return err
	}
	settings := provider.Current()
	if settings.Location == "" {
		return fmt.Errorf("worker location not configured: use --location or set location in the config file")
	}

	sess, err := newSession(cmd, settings, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.ctrl.Connect(settings.Location); err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sess.ctrl.WaitReady(readyCtx); err != nil {
		return fmt.Errorf("worker at %s not ready: %w", settings.Location, err)
	}

	return fn(ctx, sess.client)
}
