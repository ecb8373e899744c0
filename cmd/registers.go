// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var statusOutput string

var readCmd = &cobra.Command{
	Use:   "read <id> <addr|name> [len]",
	Short: "Read raw bytes from a servo's control table",
	Long: `Read len bytes starting at a control table address. The address may be
given as a number (decimal or 0x hex) or a register name such as
PRESENT_POSITION. When len is omitted the register width is used.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write <id> <addr|name> <byte...>",
	Short: "Write raw bytes to a servo's control table",
	Long: `Write bytes starting at a control table address. Bytes may be decimal or
0x hex. EEPROM registers need the LOCK register (55) cleared first.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runWrite,
}

var setIDCmd = &cobra.Command{
	Use:   "set-id <id> <new-id>",
	Short: "Change a servo's ID",
	Long: `Unlock the EEPROM, write the new ID and lock the EEPROM again under the
new ID. Only one servo with the old ID may be on the bus.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetID,
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a servo's fault flags and configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(readCmd, writeCmd, setIDCmd, statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputText, "Output format (text, json, yaml)")
}

func runRead(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], false)
	if err != nil {
		return err
	}
	addr, reg, err := parseRegister(args[1])
	if err != nil {
		return err
	}

	length := 1
	if reg != nil {
		length = reg.Width
	}
	if len(args) == 3 {
		if length, err = parseInt(args[2]); err != nil {
			return err
		}
	}
	if length < 1 || length > st3215.MaxParamSize {
		return errors.Errorf("length %d out of range 1..%d", length, st3215.MaxParamSize)
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	data, err := bus.ReadRegister(ctx, id, addr, length)
	if err != nil {
		return errors.Wrapf(err, "read servo %d at %d", id, addr)
	}

	fmt.Fprint(cmd.OutOrStdout(), formatRead(addr, data))
	return nil
}

// formatRead renders raw bytes and, when they cover whole registers, their
// decoded values
func formatRead(addr uint8, data []byte) string {
	result := fmt.Sprintf("%s: %s\n", st3215.FormatRegister(addr), st3215.FormatHex(data))

	for off := 0; off < len(data); {
		a := int(addr) + off
		if a > 0xFF {
			break
		}
		reg, ok := st3215.Lookup(uint8(a))
		if !ok || off+reg.Width > len(data) {
			off++
			continue
		}
		if v, err := reg.Value(data[off : off+reg.Width]); err == nil {
			result += fmt.Sprintf("  %-20s %g %s\n", reg.Name, v, reg.Unit)
		}
		off += reg.Width
	}
	return result
}

func runWrite(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], true)
	if err != nil {
		return err
	}
	addr, reg, err := parseRegister(args[1])
	if err != nil {
		return err
	}

	data := make([]byte, 0, len(args)-2)
	for _, a := range args[2:] {
		b, err := parseByte(a)
		if err != nil {
			return err
		}
		data = append(data, b)
	}
	if reg != nil && reg.Access == st3215.ReadOnly {
		return &st3215.ReadOnlyError{Register: reg.Name}
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.WriteRegister(ctx, id, addr, data); err != nil {
		return errors.Wrapf(err, "write servo %d at %d", id, addr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Servo %d: wrote %s to %s\n", id, st3215.FormatHex(data), st3215.FormatRegister(addr))
	return nil
}

func runSetID(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], false)
	if err != nil {
		return err
	}
	newID, err := parseID(args[1], false)
	if err != nil {
		return err
	}
	if id == newID {
		return errors.Errorf("servo already has id %d", id)
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.Ping(ctx, newID); err == nil {
		return errors.Errorf("id %d is already in use", newID)
	}
	if err := bus.ChangeID(ctx, id, newID); err != nil {
		return errors.Wrapf(err, "change id %d to %d", id, newID)
	}
	if err := bus.Ping(ctx, newID); err != nil {
		return errors.Wrapf(err, "servo does not answer on new id %d", newID)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Servo %d is now id %d\n", id, newID)
	return nil
}

// servoReport is everything status prints about one servo. Fields that
// could not be read are left out and listed in Errors.
type servoReport struct {
	ID           uint8               `json:"id" yaml:"id"`
	Model        uint16              `json:"model,omitempty" yaml:"model,omitempty"`
	ModelName    string              `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Status       *st3215.ServoStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Mode         *int                `json:"mode,omitempty" yaml:"mode,omitempty"`
	Acceleration *int                `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	Correction   *int                `json:"correction,omitempty" yaml:"correction,omitempty"`
	Moving       string              `json:"moving" yaml:"moving"`
	Errors       map[string]string   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func (r *servoReport) fail(field string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[field] = describeError(err)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validateOutput(statusOutput); err != nil {
		return err
	}
	id, err := parseID(args[0], false)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	report := servoReport{ID: id}

	if model, err := bus.PingModel(ctx, id); err != nil {
		if st3215.IsTimeout(err) {
			return &ExitError{Code: 1, Err: errors.Wrapf(err, "servo %d", id)}
		}
		report.fail("model", err)
	} else {
		report.Model = model
		report.ModelName = st3215.ModelName(model)
	}

	if s, err := bus.ReadStatus(ctx, id); err != nil {
		report.fail("status", err)
	} else {
		report.Status = &s
	}

	for _, f := range []struct {
		name string
		dst  **int
		read func() (int, error)
	}{
		{"mode", &report.Mode, func() (int, error) { return bus.ReadMode(ctx, id) }},
		{"acceleration", &report.Acceleration, func() (int, error) { return bus.ReadAcceleration(ctx, id) }},
		{"correction", &report.Correction, func() (int, error) { return bus.ReadCorrection(ctx, id) }},
	} {
		v, err := f.read()
		if err != nil {
			report.fail(f.name, err)
			continue
		}
		*f.dst = &v
	}

	moving, err := bus.IsMoving(ctx, id)
	if err != nil {
		report.fail("moving", err)
	}
	report.Moving = moving.String()

	return writeOutput(cmd.OutOrStdout(), statusOutput, report, func(w io.Writer) {
		printStatus(w, report)
	})
}

var modeNames = map[int]string{
	st3215.ModePosition: "position",
	st3215.ModeWheel:    "wheel",
	st3215.ModePWM:      "pwm",
	st3215.ModeStep:     "step",
}

func printStatus(w io.Writer, r servoReport) {
	fmt.Fprintf(w, "Servo %d\n", r.ID)
	if r.ModelName != "" {
		fmt.Fprintf(w, "  Model:        %d (%s)\n", r.Model, r.ModelName)
	}
	if r.Status != nil {
		if r.Status.OK() {
			fmt.Fprintf(w, "  Status:       OK\n")
		} else {
			fmt.Fprintf(w, "  Status:       FAULT (0x%02X)\n", r.Status.Raw)
			for _, flag := range []struct {
				name string
				ok   bool
			}{
				{"voltage", r.Status.Voltage},
				{"sensor", r.Status.Sensor},
				{"temperature", r.Status.Temperature},
				{"current", r.Status.Current},
				{"angle", r.Status.Angle},
				{"overload", r.Status.Overload},
			} {
				if !flag.ok {
					fmt.Fprintf(w, "    %s\n", flag.name)
				}
			}
		}
	}
	if r.Mode != nil {
		fmt.Fprintf(w, "  Mode:         %d (%s)\n", *r.Mode, modeNames[*r.Mode])
	}
	if r.Acceleration != nil {
		fmt.Fprintf(w, "  Acceleration: %d\n", *r.Acceleration)
	}
	if r.Correction != nil {
		fmt.Fprintf(w, "  Correction:   %d\n", *r.Correction)
	}
	fmt.Fprintf(w, "  Motion:       %s\n", r.Moving)
	for _, name := range []string{"model", "status", "mode", "acceleration", "correction", "moving"} {
		if msg, ok := r.Errors[name]; ok {
			fmt.Fprintf(w, "  %-13s FAILED (%s)\n", name+":", msg)
		}
	}
}
