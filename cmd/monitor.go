// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/recorder"
	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	monitorInterval    time.Duration
	monitorMetricsAddr string
	monitorRecord      string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [id...]",
	Short: "Live telemetry view of the servos on the bus",
	Long: `Poll telemetry from the listed servos and show it in a terminal UI together
with transaction statistics and an event log. Without ids the bus is scanned
first.

Keys:
  ↑/↓  select a servo
  t    toggle torque on the selected servo
  r    reset statistics
  q    quit

With --metrics-addr the transaction metrics are served in Prometheus format
at /metrics. With --record every snapshot is appended to a recording.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 500*time.Millisecond, "Poll interval")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Record telemetry to this file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if monitorInterval <= 0 {
		return errors.New("--interval must be positive")
	}

	ctx, stop := signalContext()
	defer stop()

	// Console logging would tear the full screen view
	quiet, err := newLogger(viper.GetString(keyLogLevel), viper.GetString(keyLogFile), false)
	if err != nil {
		return err
	}
	defer quiet.Sync()
	extra := []st3215.Option{st3215.WithLogger(quiet)}

	if monitorMetricsAddr != "" {
		reg := st3215.NewRegistry()
		extra = append(extra, st3215.WithMetrics(st3215.NewMetrics(reg)))

		srv, err := serveMetrics(monitorMetricsAddr, st3215.MetricsHandler(reg), quiet)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	bus, conn, err := connect(ctx, extra...)
	if err != nil {
		return err
	}
	defer bus.Close()

	if len(ids) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s ...\n", conn.info)
		ids, err = bus.ListServos(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return &ExitError{Code: 1, Err: errors.New("no servos found")}
		}
	}

	var rec *recorder.Writer
	if monitorRecord != "" {
		rec, err = recorder.Create(monitorRecord, conn.path, conn.baud)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	m := newMonitorModel(ctx, bus, ids, conn.info, monitorInterval, rec)
	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "TUI error")
	}

	if rec != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d samples to %s\n", rec.Samples(), monitorRecord)
	}
	stats := bus.Stats()
	fmt.Fprint(cmd.OutOrStdout(), stats.String())
	return nil
}

// serveMetrics starts an HTTP server exposing handler at /metrics
func serveMetrics(addr string, handler http.Handler, log *zap.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
			errCh <- err
		}
	}()

	// Surface an immediate bind failure
	select {
	case err := <-errCh:
		return nil, errors.Wrapf(err, "serve metrics on %s", addr)
	case <-time.After(100 * time.Millisecond):
	}
	return srv, nil
}
