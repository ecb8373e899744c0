// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// parseNumber parses a decimal or 0x-prefixed hexadecimal integer
func parseNumber(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, errors.Errorf("invalid number %q", s)
	}
	return n, nil
}

// parseByte parses a value in 0..255
func parseByte(s string) (uint8, error) {
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 0xFF {
		return 0, errors.Errorf("value %s out of byte range", s)
	}
	return uint8(n), nil
}

// parseID parses a servo ID. Broadcast is rejected unless allowBroadcast.
func parseID(s string, allowBroadcast bool) (uint8, error) {
	id, err := parseByte(s)
	if err != nil {
		return 0, err
	}
	if id == st3215.BroadcastID && allowBroadcast {
		return id, nil
	}
	if id > st3215.MaxID {
		return 0, errors.Errorf("servo id %d out of range 0..%d", id, st3215.MaxID)
	}
	return id, nil
}

// parseIDs parses a list of servo IDs
func parseIDs(args []string) ([]uint8, error) {
	ids := make([]uint8, 0, len(args))
	for _, a := range args {
		id, err := parseID(a, false)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseInt parses a signed integer argument
func parseInt(s string) (int, error) {
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// parseRegister accepts an address (decimal or hex) or a register name
// such as PRESENT_POSITION. Unknown addresses are allowed for raw access.
func parseRegister(s string) (uint8, *st3215.Register, error) {
	if addr, err := parseByte(s); err == nil {
		if reg, ok := st3215.Lookup(addr); ok {
			return addr, &reg, nil
		}
		return addr, nil, nil
	}

	name := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for _, reg := range st3215.Registers() {
		if reg.Name == name {
			r := reg
			return reg.Address, &r, nil
		}
	}
	return 0, nil, errors.Errorf("unknown register %q", s)
}

// validateOutput checks an --output flag value
func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return errors.Errorf("unsupported output format %q (use text, json or yaml)", format)
}

// writeOutput renders v as JSON or YAML, or calls text for text output
func writeOutput(w io.Writer, format string, v interface{}, text func(io.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// commandContext bounds a one-shot command and cancels it on Ctrl+C
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signalContext()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// describeError renders a failed operation for text output
func describeError(err error) string {
	var se st3215.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s (0x%02X)", se.Error(), uint8(se))
	}
	if st3215.IsTimeout(err) {
		return "no reply"
	}
	if st3215.IsChecksumClass(err) {
		return "corrupt reply: " + err.Error()
	}
	return err.Error()
}
