// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	moveTime  int
	moveSpeed int
	moveAcc   int
	moveWait  bool
	movePoll  time.Duration
)

var moveCmd = &cobra.Command{
	Use:   "move <id> <position>",
	Short: "Move a servo to a position (0..4095)",
	Long: `Write goal position, time and speed to one servo.

With --acc the servo is switched to position mode and the acceleration is
written together with the goal. With --wait the command polls the MOVING
register until the servo stops.`,
	Args: cobra.ExactArgs(2),
	RunE: runMove,
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <id> <speed>",
	Short: "Spin a servo continuously in wheel mode",
	Long: `Switch one servo to wheel mode and set a signed goal speed in steps/s
(-3400..3400). A speed of 0 stops the motor.`,
	Args: cobra.ExactArgs(2),
	RunE: runRotate,
}

var torqueCmd = &cobra.Command{
	Use:   "torque <id> on|off|middle",
	Short: "Enable or release torque, or set the current position as center",
	Args:  cobra.ExactArgs(2),
	RunE:  runTorque,
}

var tareCmd = &cobra.Command{
	Use:   "tare <id>",
	Short: "Calibrate a servo against its mechanical end stops",
	Long: `Find both mechanical end stops by turning the servo slowly in wheel mode,
set the position offset so the lower stop reads 0 and center the servo.

The servo turns freely during calibration. Make sure the joint can reach
both stops without damage.`,
	Args: cobra.ExactArgs(1),
	RunE: runTare,
}

func init() {
	rootCmd.AddCommand(moveCmd, rotateCmd, torqueCmd, tareCmd)

	moveCmd.Flags().IntVar(&moveTime, "time", 0, "Goal time in ms (0 uses speed)")
	moveCmd.Flags().IntVar(&moveSpeed, "speed", 1000, "Goal speed in steps/s")
	moveCmd.Flags().IntVar(&moveAcc, "acc", -1, "Acceleration 0..254 (units of 100 steps/s²)")
	moveCmd.Flags().BoolVar(&moveWait, "wait", false, "Wait until the servo stops")
	moveCmd.Flags().DurationVar(&movePoll, "poll", 20*time.Millisecond, "Poll interval for --wait")
}

func runMove(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], true)
	if err != nil {
		return err
	}
	position, err := parseInt(args[1])
	if err != nil {
		return err
	}
	if moveWait && id == st3215.BroadcastID {
		return errors.New("--wait needs a single servo id")
	}

	ctx, cancel := commandContext()
	defer cancel()

	bus, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	start := time.Now()

	if cmd.Flags().Changed("acc") {
		estimate := estimateMove(ctx, bus, id, position)
		if err := bus.MoveToWithAcceleration(ctx, id, position, moveSpeed, moveAcc); err != nil {
			return errors.Wrapf(err, "move servo %d", id)
		}
		fmt.Fprintf(out, "Servo %d: moving to %d (speed %d, acc %d, estimated %v)\n",
			id, position, moveSpeed, moveAcc, estimate)
	} else {
		if err := bus.MoveTo(ctx, id, position, moveTime, moveSpeed); err != nil {
			return errors.Wrapf(err, "move servo %d", id)
		}
		fmt.Fprintf(out, "Servo %d: moving to %d (time %d ms, speed %d)\n", id, position, moveTime, moveSpeed)
	}

	if !moveWait {
		return nil
	}

	if err := bus.WaitForStop(ctx, id, movePoll); err != nil {
		return errors.Wrapf(err, "wait for servo %d", id)
	}
	pos, err := bus.ReadPosition(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "read position of servo %d", id)
	}
	fmt.Fprintf(out, "Servo %d: stopped at %d after %v\n", id, pos, time.Since(start).Round(time.Millisecond))
	return nil
}

// estimateMove estimates travel time from the current position. It is only
// informative, so read failures give 0.
func estimateMove(ctx context.Context, bus *st3215.Bus, id uint8, target int) time.Duration {
	if id == st3215.BroadcastID {
		return 0
	}
	pos, err := bus.ReadPosition(ctx, id)
	if err != nil {
		return 0
	}
	return st3215.EstimateTravelTime(target-pos, moveSpeed, moveAcc).Round(time.Millisecond)
}

func runRotate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], true)
	if err != nil {
		return err
	}
	speed, err := parseInt(args[1])
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

	if err := bus.Rotate(ctx, id, speed); err != nil {
		return errors.Wrapf(err, "rotate servo %d", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Servo %d: rotating at %d steps/s\n", id, speed)
	return nil
}

// parseTorque maps a torque argument to the TORQUE_ENABLE value
func parseTorque(s string) (int, error) {
	switch s {
	case "on", "1", "true":
		return st3215.TorqueOn, nil
	case "off", "0", "false":
		return st3215.TorqueOff, nil
	case "middle", "center":
		return st3215.TorqueMiddle, nil
	}
	return 0, errors.Errorf("invalid torque mode %q (use on, off or middle)", s)
}

func runTorque(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], true)
	if err != nil {
		return err
	}
	mode, err := parseTorque(args[1])
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

	switch mode {
	case st3215.TorqueOn:
		err = bus.EnableTorque(ctx, id, true)
	case st3215.TorqueOff:
		err = bus.DisableTorque(ctx, id)
	default:
		err = bus.DefineMiddle(ctx, id)
	}
	if err != nil {
		return errors.Wrapf(err, "torque %s on servo %d", args[1], id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Servo %d: torque %s\n", id, args[1])
	return nil
}

func runTare(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], false)
	if err != nil {
		return err
	}

	// Calibration takes longer than the one-shot timeout
	ctx, stop := signalContext()
	defer stop()

	bus, conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "servoctl - Calibration\n")
	fmt.Fprintf(out, "Connection: %s\n", conn.info)
	fmt.Fprintf(out, "Servo: %d\n", id)
	fmt.Fprintf(out, "Press Ctrl+C to abort\n\n")

	start := time.Now()
	minPos, maxPos, err := bus.Tare(ctx, id)
	if err != nil {
		// Leave the servo safe if calibration stopped half way
		_ = bus.Rotate(context.Background(), id, 0)
		return errors.Wrapf(err, "calibrate servo %d", id)
	}

	fmt.Fprintf(out, "--- Calibration result ---\n")
	fmt.Fprintf(out, "Range:  %d..%d steps\n", minPos, maxPos)
	fmt.Fprintf(out, "Center: %d\n", (minPos+maxPos)/2)
	fmt.Fprintf(out, "Took:   %s\n", formatUptime(uint64(time.Since(start).Milliseconds())))
	return nil
}
