// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/Cogni-Robot/servo-controller/pkg/transport"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	portsAll bool

	pingCount int

	scanFrom   int
	scanTo     int
	scanOutput string
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that look like servo adapters",
	Long: `Enumerate USB serial ports (/dev/ttyUSB*, /dev/ttyACM*, /dev/cu.usb*, COM*)
with their USB vendor and product IDs. Use --all to include every port.`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

var pingCmd = &cobra.Command{
	Use:   "ping <id>",
	Short: "Ping a servo and print its model",
	Long: `Send PING to one servo and read its MODEL register.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the servos present on the bus",
	Long: `Ping every ID in the scan range, one at a time, and list the IDs that answer.

A servo reporting a fault in its status byte still counts as present.

Exit codes:
  0 - At least one servo found
  1 - No servo answered
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(portsCmd, pingCmd, scanCmd)

	portsCmd.Flags().BoolVar(&portsAll, "all", false, "List every serial port")

	pingCmd.Flags().IntVar(&pingCount, "count", 1, "Number of pings to send")

	scanCmd.Flags().IntVar(&scanFrom, "from", st3215.ScanFirstID, "First ID to probe")
	scanCmd.Flags().IntVar(&scanTo, "to", st3215.ScanLastID, "Last ID to probe")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", outputText, "Output format (text, json, yaml)")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts(portsAll)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found")
		return nil
	}

	for _, p := range ports {
		fmt.Fprintln(out, formatPort(p))
	}
	return nil
}

func formatPort(p transport.PortInfo) string {
	if !p.IsUSB {
		return p.Name
	}
	line := fmt.Sprintf("%-24s USB %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		line += " " + p.Product
	}
	if p.SerialNumber != "" {
		line += fmt.Sprintf(" (serial %s)", p.SerialNumber)
	}
	return line
}

func runPing(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], false)
	if err != nil {
		return err
	}
	if pingCount < 1 {
		return errors.New("--count must be at least 1")
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "servoctl - Ping\n")
	fmt.Fprintf(out, "Connection: %s\n\n", conn.info)

	failCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Fprintf(out, "Ping %d/%d id=%d: ", i, pingCount, id)

		start := time.Now()
		err := bus.Ping(ctx, id)
		rtt := time.Since(start)
		if err != nil {
			fmt.Fprintf(out, "FAILED (%s)\n", describeError(err))
			failCount++
			if ctx.Err() != nil {
				break
			}
			continue
		}

		// A faulted servo answers PING but refuses reads
		model, err := bus.ReadValue(ctx, id, st3215.RegModel)
		if err != nil {
			fmt.Fprintf(out, "reply, rtt=%v, model unknown (%s)\n", rtt.Round(100*time.Microsecond), describeError(err))
			continue
		}
		fmt.Fprintf(out, "reply, rtt=%v, model %d (%s)\n", rtt.Round(100*time.Microsecond), model, st3215.ModelName(uint16(model)))
	}

	if pingCount > 1 {
		fmt.Fprintf(out, "\n--- Ping statistics ---\n")
		fmt.Fprintf(out, "%d pings sent, %d replies received, %.0f%% loss\n",
			pingCount, pingCount-failCount, float64(failCount)/float64(pingCount)*100)
	}

	if failCount > 0 {
		return &ExitError{Code: 1, Err: errors.Errorf("servo %d: %d of %d pings failed", id, failCount, pingCount)}
	}
	return nil
}

// scanResult is the machine-readable scan output
type scanResult struct {
	From    int     `json:"from" yaml:"from"`
	To      int     `json:"to" yaml:"to"`
	Servos  []uint8 `json:"servos" yaml:"servos"`
	Elapsed string  `json:"elapsed" yaml:"elapsed"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateOutput(scanOutput); err != nil {
		return err
	}
	if scanFrom < 0 || scanTo > st3215.MaxID || scanFrom > scanTo {
		return errors.Errorf("invalid scan range %d..%d (ids 0..%d)", scanFrom, scanTo, st3215.MaxID)
	}

	ctx, stop := signalContext()
	defer stop()

	bus, conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	text := scanOutput == outputText
	progress := func(id uint8, found bool) {}
	if text {
		fmt.Fprintf(out, "servoctl - Bus Scan\n")
		fmt.Fprintf(out, "Connection: %s\n", conn.info)
		fmt.Fprintf(out, "Range: %d..%d\n\n", scanFrom, scanTo)
		progress = scanProgress(cmd.ErrOrStderr(), out, scanFrom, scanTo)
	}

	start := time.Now()
	ids, err := bus.ListServos(ctx,
		st3215.ScanRange(uint8(scanFrom), uint8(scanTo)),
		st3215.ScanProgress(progress),
	)
	if err != nil {
		return err
	}

	result := scanResult{
		From:    scanFrom,
		To:      scanTo,
		Servos:  ids,
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
	}
	if result.Servos == nil {
		result.Servos = []uint8{}
	}

	err = writeOutput(out, scanOutput, result, func(w io.Writer) {
		fmt.Fprintf(w, "\n--- Scan summary ---\n")
		fmt.Fprintf(w, "Servos found: %d (%s)\n", len(ids), result.Elapsed)
		if len(ids) == 0 {
			fmt.Fprintf(w, "No servos answered. Check power, wiring and baud rate.\n")
		}
	})
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return &ExitError{Code: 1, Err: errors.New("no servos found")}
	}
	return nil
}

// scanProgress prints found IDs to out and a progress line to status
func scanProgress(status, out io.Writer, from, to int) func(id uint8, found bool) {
	total := to - from + 1
	return func(id uint8, found bool) {
		done := int(id) - from + 1
		if found {
			fmt.Fprintf(status, "\r\033[K")
			fmt.Fprintf(out, "Servo found: id=%d\n", id)
		}
		fmt.Fprintf(status, "\rScanning %d/%d (id %d)", done, total, id)
		if done == total {
			fmt.Fprintf(status, "\r\033[K")
		}
	}
}
