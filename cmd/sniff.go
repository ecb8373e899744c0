// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/Cogni-Robot/servo-controller/pkg/transport"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	sniffDuration   time.Duration
	sniffErrorsOnly bool
	sniffStatsEvery int
	sniffReplyGap   time.Duration
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Passively decode and display bus traffic",
	Long: `Listen on the bus without sending anything and decode every frame.

Requests and status replies are told apart by pairing each request with
the reply from the addressed servo. Each frame is validated and problems are
highlighted:
  - Checksum errors and malformed lengths
  - Unknown instructions and writes to read-only registers
  - Status replies carrying servo fault flags

Decode errors before the first valid frame are ignored while the decoder
synchronizes. A statistics summary is printed at the configured interval
and on exit.`,
	Args: cobra.NoArgs,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().DurationVar(&sniffDuration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	sniffCmd.Flags().BoolVar(&sniffErrorsOnly, "errors-only", false, "Only show frames with problems")
	sniffCmd.Flags().IntVar(&sniffStatsEvery, "stats-interval", 10, "Statistics interval in seconds (0 disables)")
	sniffCmd.Flags().DurationVar(&sniffReplyGap, "reply-window", 100*time.Millisecond, "How long after a request a frame from the same id counts as its reply")
}

// sniffStats counts what the sniffer saw
type sniffStats struct {
	StartTime time.Time

	Frames         uint64
	Requests       uint64
	Replies        uint64
	ChecksumErrors uint64
	Malformed      uint64
	Anomalies      uint64
	ServoErrors    uint64
	SkippedBytes   int
}

func newSniffStats() *sniffStats {
	return &sniffStats{StartTime: time.Now()}
}

// Errors returns the number of undecodable frames
func (s *sniffStats) Errors() uint64 {
	return s.ChecksumErrors + s.Malformed
}

// String returns a formatted statistics summary
func (s *sniffStats) String() string {
	elapsed := time.Since(s.StartTime).Seconds()
	total := s.Frames + s.Errors()

	percent := func(n uint64) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(total)
	}
	rate := func(n uint64) float64 {
		if elapsed <= 0 {
			return 0
		}
		return float64(n) / elapsed
	}

	result := fmt.Sprintf("=== Bus Statistics (%.0f seconds) ===\n", elapsed)
	result += fmt.Sprintf("Frames:          %8d (%.1f%%)\n", s.Frames, percent(s.Frames))
	result += fmt.Sprintf("  Requests:        %6d\n", s.Requests)
	result += fmt.Sprintf("  Replies:         %6d\n", s.Replies)
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, percent(s.Malformed))
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
	}
	if s.ServoErrors > 0 {
		result += fmt.Sprintf("Servo Errors:    %8d\n", s.ServoErrors)
	}
	if s.SkippedBytes > 0 {
		result += fmt.Sprintf("Skipped Bytes:   %8d\n", s.SkippedBytes)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", rate(s.Frames))
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", rate(s.Errors()))
	result += "====================================\n"
	return result
}

// frameClassifier tells requests from replies on a shared half-duplex bus.
// A frame from an id that was just addressed by a request expecting a reply
// is that reply; anything else is a request.
type frameClassifier struct {
	window   time.Duration
	awaiting []uint8
	since    time.Time
}

func newFrameClassifier(window time.Duration) *frameClassifier {
	return &frameClassifier{window: window}
}

func (c *frameClassifier) classify(f *st3215.Frame) st3215.Direction {
	if len(c.awaiting) > 0 && f.Timestamp().Sub(c.since) <= c.window {
		for i, id := range c.awaiting {
			if id == f.ID() {
				c.awaiting = append(c.awaiting[:i], c.awaiting[i+1:]...)
				return st3215.Reply
			}
		}
	}

	// A request ends the wait for earlier replies
	c.awaiting = c.awaiting[:0]
	c.since = f.Timestamp()
	switch {
	case f.Instruction() == st3215.InstSyncRead && len(f.Params()) > 2:
		c.awaiting = append(c.awaiting, f.Params()[2:]...)
	case f.ExpectsReply():
		c.awaiting = append(c.awaiting, f.ID())
	}
	return st3215.Request
}

// sniffer decodes a byte stream and prints frames and problems
type sniffer struct {
	out        io.Writer
	errorsOnly bool

	decoder    *st3215.Decoder
	classifier *frameClassifier
	stats      *sniffStats

	// Sync tracking - ignore decode errors until first valid frame
	synchronized           bool
	invalidBytesBeforeSync int
}

func newSniffer(out io.Writer, errorsOnly bool, replyWindow time.Duration) *sniffer {
	return &sniffer{
		out:        out,
		errorsOnly: errorsOnly,
		decoder:    st3215.NewDecoder(),
		classifier: newFrameClassifier(replyWindow),
		stats:      newSniffStats(),
	}
}

// feed processes one byte from the bus
func (s *sniffer) feed(b byte) {
	frame, err := s.decoder.DecodeByte(b)
	s.stats.SkippedBytes = s.decoder.Skipped()

	if err != nil {
		if !s.synchronized {
			s.invalidBytesBeforeSync++
			return
		}
		var me *st3215.MalformedFrameError
		if errors.As(err, &me) {
			s.stats.Malformed++
		} else {
			s.stats.ChecksumErrors++
		}
		printDecodeError(s.out, err)
		return
	}
	if frame == nil {
		return
	}

	if !s.synchronized {
		s.synchronized = true
		if s.invalidBytesBeforeSync > 0 {
			fmt.Fprintf(s.out, "Synchronized after skipping %d invalid bytes\n\n", s.invalidBytesBeforeSync)
		}
	}

	s.stats.Frames++
	dir := s.classifier.classify(frame)
	if dir == st3215.Reply {
		s.stats.Replies++
		if frame.Status() != 0 {
			s.stats.ServoErrors++
		}
	} else {
		s.stats.Requests++
	}

	issues := st3215.ValidateFrame(frame, dir)
	if len(issues) > 0 {
		s.stats.Anomalies += uint64(len(issues))
		printValidationErrors(s.out, frame, dir, issues)
		return
	}
	if !s.errorsOnly {
		fmt.Fprint(s.out, st3215.FormatFrame(frame, dir))
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(w io.Writer, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Fprintf(w, "  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(w io.Writer, f *st3215.Frame, dir st3215.Direction, issues []st3215.ValidationError) {
	fmt.Fprint(w, st3215.FormatFrame(f, dir))
	for i, issue := range issues {
		color := "\033[1;33m"
		if issue.Type == st3215.AnomalyServoError || issue.Type == st3215.AnomalyLengthMismatch {
			color = "\033[1;31m"
		}
		fmt.Fprintf(w, "  Issue %d: %s%s\033[0m\n", i+1, color, issue.Message)
		if expected, ok := issue.Details["expected"].(int); ok {
			fmt.Fprintf(w, "    Length: received=%d, expected=%d\n", issue.Details["length"], expected)
		}
	}
	fmt.Fprintln(w)
}

func runSniff(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	if sniffDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sniffDuration)
		defer cancel()
	}

	conn, err := resolveConnection(ctx, viper.GetViper(), GetPassword)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	t, err := conn.openTransport()
	if err != nil {
		return err
	}
	defer t.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "servoctl - Bus Sniffer\n")
	fmt.Fprintf(out, "Connection: %s\n", conn.info)
	if sniffStatsEvery > 0 {
		fmt.Fprintf(out, "Statistics interval: %d seconds\n", sniffStatsEvery)
	}
	if sniffErrorsOnly {
		fmt.Fprintf(out, "Mode: Errors only\n")
	} else {
		fmt.Fprintf(out, "Mode: All frames\n")
	}
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	s := newSniffer(out, sniffErrorsOnly, sniffReplyGap)
	err = sniffLoop(ctx, t, s, time.Duration(sniffStatsEvery)*time.Second)

	fmt.Fprint(out, "\n"+s.stats.String())
	return err
}

// sniffLoop feeds bytes from t into s until ctx is done or the connection
// closes, printing statistics every interval.
func sniffLoop(ctx context.Context, t st3215.Transport, s *sniffer, interval time.Duration) error {
	lastStats := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		b, err := t.ReadByte(100 * time.Millisecond)
		switch {
		case err == nil:
			s.feed(b)
		case errors.Is(err, st3215.ErrReadTimeout):
		case errors.Is(err, transport.ErrConnectionClosed):
			logger.Info("connection closed")
			return nil
		default:
			logger.Warn("read error", zap.Error(err))
			return errors.Wrap(err, "read")
		}

		if interval > 0 && time.Since(lastStats) >= interval {
			fmt.Fprint(s.out, "\n"+s.stats.String()+"\n")
			lastStats = time.Now()
		}
	}
}
