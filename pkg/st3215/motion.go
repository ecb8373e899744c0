// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Tare tuning
const (
	tareSpeed        = 250
	tareAcceleration = 100
	tareSettle       = 500 * time.Millisecond
	tarePoll         = 20 * time.Millisecond
	tareStopSamples  = 5
	tareCenterSpeed  = 2400
	tareCenterAcc    = 50
)

// MoveToWithAcceleration switches id to position mode and writes
// acceleration, goal position, a zero goal time and goal speed as one write
// starting at the ACC register.
func (b *Bus) MoveToWithAcceleration(ctx context.Context, id uint8, position, speed, acc int) error {
	accRaw, err := RegAcceleration.Encode(acc)
	if err != nil {
		return err
	}
	goal, err := encodeGoal(position, 0, speed)
	if err != nil {
		return err
	}

	if err := b.SetMode(ctx, id, ModePosition); err != nil {
		return err
	}
	return b.WriteRegister(ctx, id, RegAcceleration.Address, append(accRaw, goal...))
}

// EstimateTravelTime estimates how long a move of distance steps takes with
// a trapezoidal profile at speed (steps/s) and acc (units of 100 steps/s²).
// Zero speed or acceleration means the servo's maximum, for which the
// estimate falls back to distance/MaxSpeed.
func EstimateTravelTime(distance, speed, acc int) time.Duration {
	if distance < 0 {
		distance = -distance
	}
	if distance == 0 {
		return 0
	}
	if speed <= 0 {
		speed = MaxSpeed
	}
	if acc <= 0 {
		return seconds(float64(distance) / float64(speed))
	}

	a := float64(acc) * 100
	d := float64(distance)
	v := float64(speed)

	rampTime := v / a
	rampDistance := 0.5 * a * rampTime * rampTime

	// Triangular profile: the move ends before reaching full speed
	if 2*rampDistance >= d {
		return seconds(2 * math.Sqrt(d/a))
	}
	return seconds(2*rampTime + (d-2*rampDistance)/v)
}

// WaitForStop polls IsMoving every poll until id reports stopped.
func (b *Bus) WaitForStop(ctx context.Context, id uint8, poll time.Duration) error {
	for {
		state, err := b.IsMoving(ctx, id)
		if err != nil {
			return err
		}
		if state == MotionStopped {
			return nil
		}
		if err := sleep(ctx, poll); err != nil {
			return err
		}
	}
}

// Tare finds the mechanical end stops of id and sets the position offset so
// the lower stop reads 0, then centers the servo. It returns the stop
// positions after correction.
//
// The servo turns freely in wheel mode during calibration.
func (b *Bus) Tare(ctx context.Context, id uint8) (minPos, maxPos int, err error) {
	if err := b.CorrectPosition(ctx, id, 0); err != nil {
		return 0, 0, errors.Wrap(err, "clear offset")
	}
	if err := sleep(ctx, tareSettle); err != nil {
		return 0, 0, err
	}

	if err := b.SetAcceleration(ctx, id, tareAcceleration); err != nil {
		return 0, 0, err
	}

	if err := b.Rotate(ctx, id, -tareSpeed); err != nil {
		return 0, 0, err
	}
	if err := sleep(ctx, tareSettle); err != nil {
		return 0, 0, err
	}
	low, err := b.blockPosition(ctx, id)
	if err != nil {
		return 0, 0, errors.Wrap(err, "find lower stop")
	}

	if err := b.Rotate(ctx, id, tareSpeed); err != nil {
		return 0, 0, err
	}
	if err := sleep(ctx, tareSettle); err != nil {
		return 0, 0, err
	}
	high, err := b.blockPosition(ctx, id)
	if err != nil {
		return 0, 0, errors.Wrap(err, "find upper stop")
	}

	var half int
	if low >= high {
		half = (MaxPosition - low + high) / 2
	} else {
		half = (high - low) / 2
	}

	correction := low
	if low > MaxPosition/2 {
		correction = low - MaxPosition - 1
	}

	if err := b.CorrectPosition(ctx, id, correction); err != nil {
		return 0, 0, errors.Wrap(err, "apply offset")
	}
	if err := sleep(ctx, tareSettle); err != nil {
		return 0, 0, err
	}
	if err := b.EnableTorque(ctx, id, true); err != nil {
		return 0, 0, err
	}
	if err := b.MoveToWithAcceleration(ctx, id, half, tareCenterSpeed, tareCenterAcc); err != nil {
		return 0, 0, errors.Wrap(err, "center")
	}

	return 0, half * 2, nil
}

// blockPosition waits until id has been stopped for tareStopSamples polls in
// a row and returns the position where it stopped. The motor is switched
// back to position mode and released at every stopped sample.
func (b *Bus) blockPosition(ctx context.Context, id uint8) (int, error) {
	stopped := 0
	for {
		state, err := b.IsMoving(ctx, id)
		if err != nil {
			return 0, err
		}

		if state == MotionStopped {
			pos, err := b.ReadPosition(ctx, id)
			if err != nil {
				return 0, err
			}
			_ = b.SetMode(ctx, id, ModePosition)
			_ = b.DisableTorque(ctx, id)

			stopped++
			if stopped >= tareStopSamples {
				return pos, nil
			}
		} else {
			stopped = 0
		}

		if err := sleep(ctx, tarePoll); err != nil {
			return 0, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
