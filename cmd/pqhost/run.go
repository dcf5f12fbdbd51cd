package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/pqhost/pkg/config"
	"github.com/cuemby/pqhost/pkg/events"
	"github.com/cuemby/pqhost/pkg/log"
	"github.com/cuemby/pqhost/pkg/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep a worker connection alive",
	Long: `Connect to the worker and keep the connection alive until interrupted.

The worker is started when it is not running. Connection events are printed
as they happen. With --config the file is watched: a new location takes the
old worker down and connects to the new one, timing changes apply to the
next connection cycle.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("metrics-addr", "", "Serve /metrics, /health and /ready on this address (e.g. 127.0.0.1:9090)")
	runCmd.Flags().Bool("quiet", false, "Do not print connection events")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	provider, file, err := loadProvider(cmd)
	if err != nil {
		return err
	}
	settings := provider.Current()

	sess, err := newSession(cmd, settings, true)
	if err != nil {
		return err
	}
	defer sess.Close()
	sess.ctrl.SetWarmup(sess.client.WarmupHook())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr != "" {
		srv, collector := startMetrics(metricsAddr, sess)
		defer collector.Stop()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !quiet {
		sub := sess.broker.Subscribe()
		defer sess.broker.Unsubscribe(sub)
		go printEvents(cmd.OutOrStdout(), sub)
	}

	if file != nil {
		go file.Watch(ctx)
	}
	go sess.ctrl.Watch(ctx, provider, func(s config.Settings) {
		sess.client.SetConnectorPath(s.ConnectorPath)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Session %s\n", sess.ctrl.SessionID())
	if settings.Location != "" {
		if err := sess.ctrl.Connect(settings.Location); err != nil {
			return err
		}
	} else if file != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Waiting for a worker location in %s\n", file.Path())
	} else {
		return fmt.Errorf("worker location not configured: use --location or --config")
	}

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
	return nil
}

func startMetrics(addr string, sess *session) (*http.Server, *metrics.Collector) {
	registry := metrics.NewHealthRegistry(Version, metrics.ComponentWorker)
	collector := metrics.NewCollector(sess.ctrl, registry, 5*time.Second)
	collector.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", registry.HealthHandler())
	mux.HandleFunc("/ready", registry.ReadyHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed", err)
		}
	}()
	return srv, collector
}

func printEvents(w io.Writer, sub events.Subscriber) {
	for ev := range sub {
		switch ev.Type {
		case events.EventStateChanged:
			fmt.Fprintf(w, "%s  %-13s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.State, ev.Message)
		case events.EventReady:
			fmt.Fprintf(w, "%s  ✓ connected to %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Location)
		case events.EventExhausted:
			fmt.Fprintf(w, "%s  ✗ giving up after %d attempts, edit the config or restart to retry\n", ev.Timestamp.Format(time.TimeOnly), ev.Attempt)
		case events.EventWorkerNotification:
			fmt.Fprintf(w, "%s  worker: %s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Message, string(ev.Payload))
		}
	}
}
