// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/Cogni-Robot/servo-controller/pkg/recorder"
	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	telemetryOutput string
	telemetryRecord string

	replayOutput string
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry <id...>",
	Short: "Read live position, speed, load, voltage, current and temperature",
	Long: `Read one telemetry snapshot from each listed servo. Every field is its own
transaction, so a failed field is reported without hiding the others.
Values outside safe limits are flagged.

With --record the snapshots are appended to a CBOR recording that can be
printed later with replay.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTelemetry,
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print a telemetry recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(telemetryCmd, replayCmd)

	telemetryCmd.Flags().StringVarP(&telemetryOutput, "output", "o", outputText, "Output format (text, json, yaml)")
	telemetryCmd.Flags().StringVar(&telemetryRecord, "record", "", "Append snapshots to a recording file")

	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", outputText, "Output format (text, json, yaml)")
}

func runTelemetry(cmd *cobra.Command, args []string) error {
	if err := validateOutput(telemetryOutput); err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	var rec *recorder.Writer
	if telemetryRecord != "" {
		rec, err = recorder.Create(telemetryRecord, conn.path, conn.baud)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	snapshots := make([]*st3215.Telemetry, 0, len(ids))
	for _, id := range ids {
		t, err := bus.ReadTelemetry(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "telemetry for servo %d", id)
		}
		snapshots = append(snapshots, t)
		if rec != nil {
			if err := rec.WriteTelemetry(t); err != nil {
				return err
			}
		}
	}

	samples := make([]recorder.Sample, len(snapshots))
	for i, t := range snapshots {
		samples[i] = recorder.NewSample(t)
	}

	err = writeOutput(cmd.OutOrStdout(), telemetryOutput, samples, func(w io.Writer) {
		for _, t := range snapshots {
			printTelemetry(w, t)
		}
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, t := range snapshots {
		if t.Failed() == len(t.Fields()) {
			failed++
		}
	}
	if failed == len(snapshots) {
		return &ExitError{Code: 1, Err: errors.New("no servo answered")}
	}
	return nil
}

// printTelemetry renders one snapshot with its failed fields and anomalies
func printTelemetry(w io.Writer, t *st3215.Telemetry) {
	fmt.Fprintf(w, "[%s] Servo %d\n", t.Timestamp.Format("15:04:05.000"), t.ID)
	for _, f := range t.Fields() {
		if f.Err != nil {
			fmt.Fprintf(w, "  %-12s \033[1;31mFAILED\033[0m (%s)\n", f.Name+":", describeError(f.Err))
			continue
		}
		fmt.Fprintf(w, "  %-12s %s\n", f.Name+":", formatReading(f))
	}

	for i, issue := range st3215.ValidateTelemetry(t, st3215.DefaultLimits()) {
		fmt.Fprintf(w, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, issue.Message)
	}
	fmt.Fprintln(w)
}

// formatReading renders a value with its unit
func formatReading(f st3215.TelemetryField) string {
	switch f.Name {
	case "position", "speed", "temperature":
		return fmt.Sprintf("%.0f %s", f.Value, f.Unit)
	default:
		return fmt.Sprintf("%.1f %s", f.Value, f.Unit)
	}
}

// replayResult is the machine-readable replay output
type replayResult struct {
	Header  recorder.Header   `json:"header" yaml:"header"`
	Samples []recorder.Sample `json:"samples" yaml:"samples"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := validateOutput(replayOutput); err != nil {
		return err
	}

	r, err := recorder.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	samples, err := r.All()
	if err != nil {
		return errors.Wrapf(err, "read %s after %d samples", args[0], len(samples))
	}
	if samples == nil {
		samples = []recorder.Sample{}
	}

	result := replayResult{Header: r.Header(), Samples: samples}
	return writeOutput(cmd.OutOrStdout(), replayOutput, result, func(w io.Writer) {
		printReplay(w, result)
	})
}

func printReplay(w io.Writer, r replayResult) {
	h := r.Header
	fmt.Fprintf(w, "Recording %s\n", h.Session)
	fmt.Fprintf(w, "Started: %s\n", h.Started.Local().Format("2006-01-02 15:04:05"))
	if h.BaudRate > 0 {
		fmt.Fprintf(w, "Source:  %s @ %d baud\n", h.Source, h.BaudRate)
	} else {
		fmt.Fprintf(w, "Source:  %s\n", h.Source)
	}
	fmt.Fprintf(w, "Library: %s (format %d)\n", h.Library, h.Version)
	fmt.Fprintf(w, "Samples: %d\n\n", len(r.Samples))

	for _, s := range r.Samples {
		printTelemetry(w, s.Telemetry())
	}
}
