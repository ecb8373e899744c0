// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServo_PingMoveRead(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.Ping(ctx, 1))
	require.NoError(t, bus.MoveTo(ctx, 1, 2048, 1000, 50))

	writes := ft.writes()
	require.Len(t, writes, 2)
	move, err := Decode(writes[1])
	require.NoError(t, err)
	assert.Equal(t, uint8(InstWrite), move.Instruction())
	assert.Equal(t, []byte{42, 0x00, 0x08, 0xE8, 0x03, 0x32, 0x00}, move.Params())

	pos, err := bus.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2048, pos)
}

func TestServo_MoveToRejectsOutOfRange(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	tests := []struct {
		name                  string
		position, time, speed int
	}{
		{"position too large", 4096, 0, 0},
		{"negative position", -1, 0, 0},
		{"speed too large", 2048, 0, MaxSpeed + 1},
		{"negative speed", 2048, 0, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bus.MoveTo(ctx, 1, tt.position, tt.time, tt.speed)
			var re *RangeError
			assert.True(t, errors.As(err, &re), "expected RangeError, got %v", err)
		})
	}
	assert.Empty(t, ft.writes(), "nothing may be sent for an invalid target")
}

func TestServo_CorruptReply(t *testing.T) {
	bus, ft := newFakeBus(1)
	ft.mangle = corruptChecksum

	_, err := bus.ReadVoltage(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsChecksumClass(err), "expected checksum error, got %v", err)
	assert.Len(t, ft.writes(), DefaultAttempts)
	assert.Equal(t, uint64(1), bus.Stats().ChecksumErrors)
}

func TestServo_ScaledReads(t *testing.T) {
	bus, ft := newFakeBus(1)
	s := ft.servos[1]
	s.set16(RegPresentLoad.Address, 0x0400|250)
	s.set16(RegPresentSpeed.Address, 0x8000|300)
	s.set16(RegPresentCurrent.Address, 20)
	ctx := context.Background()

	v, err := bus.ReadVoltage(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 7.4, v, 1e-9)

	load, err := bus.ReadLoad(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, -25.0, load, 1e-9)

	speed, err := bus.ReadSpeed(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, -300, speed)

	current, err := bus.ReadCurrent(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 130.0, current, 1e-9)

	temp, err := bus.ReadTemperature(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 31, temp)

	model, err := bus.PingModel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(ModelSTS3215), model)
}

func TestServo_TelemetryFieldIsolation(t *testing.T) {
	bus, ft := newFakeBus(1)
	ft.servos[1].set16(RegPresentPosition.Address, 1500)
	ft.mangle = func(req *Frame, reply []byte) []byte {
		if req.Instruction() == InstRead && req.Params()[0] == RegPresentLoad.Address {
			return corruptChecksum(req, reply)
		}
		return reply
	}

	tel, err := bus.ReadTelemetry(context.Background(), 1)
	require.NoError(t, err)

	assert.Error(t, tel.Load.Err)
	assert.Equal(t, 1, tel.Failed())
	assert.True(t, tel.Position.OK())
	assert.Equal(t, 1500.0, tel.Position.Value)
	assert.InDelta(t, 7.4, tel.Voltage.Value, 1e-9)
	assert.Equal(t, 31.0, tel.Temperature.Value)
	assert.Len(t, tel.Fields(), 6)
}

func TestServo_TelemetryClosedBus(t *testing.T) {
	bus, _ := newFakeBus(1)
	require.NoError(t, bus.Close())

	_, err := bus.ReadTelemetry(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServo_IsMoving(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	state, err := bus.IsMoving(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, MotionStopped, state)

	ft.servos[1].regs[RegMoving.Address] = 1
	state, err = bus.IsMoving(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, MotionMoving, state)

	ft.servos[1].silent = true
	state, err = bus.IsMoving(ctx, 1)
	assert.Error(t, err)
	assert.Equal(t, MotionUnknown, state, "a failed read must not look like stopped")
}

func TestServo_ReadStatus(t *testing.T) {
	bus, ft := newFakeBus(1)
	ft.servos[1].regs[RegStatus.Address] = 0x20

	st, err := bus.ReadStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, st.OK())
	assert.False(t, st.Overload)
	assert.True(t, st.Voltage)
}

func TestServo_Torque(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.EnableTorque(ctx, 1, true))
	assert.Equal(t, byte(TorqueOn), ft.servos[1].regs[RegTorqueEnable.Address])

	require.NoError(t, bus.DisableTorque(ctx, 1))
	assert.Equal(t, byte(TorqueOff), ft.servos[1].regs[RegTorqueEnable.Address])

	require.NoError(t, bus.DefineMiddle(ctx, 1))
	assert.Equal(t, byte(TorqueMiddle), ft.servos[1].regs[RegTorqueEnable.Address])
}

func TestServo_Rotate(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.Rotate(ctx, 1, -500))

	s := ft.servos[1]
	assert.Equal(t, byte(ModeWheel), s.regs[RegMode.Address])
	assert.Equal(t, []byte{0xF4, 0x81}, s.regs[RegGoalSpeed.Address:RegGoalSpeed.Address+2])

	mode, err := bus.ReadMode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeWheel, mode)

	var re *RangeError
	assert.True(t, errors.As(bus.Rotate(ctx, 1, MaxSpeed+1), &re))
}

func TestServo_MoveToWithAcceleration(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()
	ft.servos[1].regs[RegMode.Address] = ModeWheel

	require.NoError(t, bus.MoveToWithAcceleration(ctx, 1, 1000, 500, 20))

	acc, err := bus.ReadAcceleration(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20, acc)

	mode, err := bus.ReadMode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModePosition, mode)

	pos, err := bus.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1000, pos)
}

func TestServo_Correction(t *testing.T) {
	bus, _ := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.CorrectPosition(ctx, 1, -100))
	c, err := bus.ReadCorrection(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, -100, c)

	var re *RangeError
	assert.True(t, errors.As(bus.CorrectPosition(ctx, 1, 2048), &re))
}

func TestServo_RegWriteAction(t *testing.T) {
	bus, _ := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.RegWrite(ctx, 1, RegGoalPosition.Address, []byte{0x00, 0x04}))
	pos, err := bus.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, pos, "staged write must wait for ACTION")

	require.NoError(t, bus.Action(ctx, BroadcastID))
	pos, err = bus.ReadPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1024, pos)
}

func TestServo_ChangeID(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	require.NoError(t, bus.ChangeID(ctx, 1, 5))

	assert.NoError(t, bus.Ping(ctx, 5))
	assert.True(t, IsTimeout(bus.Ping(ctx, 1)))
	assert.Equal(t, byte(1), ft.servos[5].regs[RegLock.Address], "eeprom must be locked again")
}

func TestServo_ChangeIDValidation(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	var re *RangeError
	assert.True(t, errors.As(bus.ChangeID(ctx, 1, 254), &re))
	assert.True(t, errors.As(bus.ChangeID(ctx, BroadcastID, 3), &re))
	assert.Empty(t, ft.writes())

	err := bus.ChangeID(ctx, 2, 3)
	assert.True(t, IsTimeout(err), "missing servo should time out, got %v", err)
}

func TestServo_InvalidTarget(t *testing.T) {
	bus, ft := newFakeBus(1)
	ctx := context.Background()

	var re *RangeError
	assert.True(t, errors.As(bus.Ping(ctx, 0xFF), &re))
	_, err := bus.ReadRegister(ctx, 1, RegPresentPosition.Address, 0)
	assert.True(t, errors.As(err, &re))
	assert.Empty(t, ft.writes())
}

func TestEstimateTravelTime(t *testing.T) {
	tests := []struct {
		name     string
		distance int
		speed    int
		acc      int
		want     time.Duration
	}{
		{"no move", 0, 1000, 10, 0},
		{"constant speed", 2000, 1000, 0, 2 * time.Second},
		{"reverse", -2000, 1000, 0, 2 * time.Second},
		{"trapezoid", 2000, 1000, 10, 3 * time.Second},
		{"max speed default", 3400, 0, 0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTravelTime(tt.distance, tt.speed, tt.acc)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond))
		})
	}

	// Short move never reaches full speed
	tri := EstimateTravelTime(500, 1000, 10)
	assert.InDelta(t, 1.414, tri.Seconds(), 0.001)
}

func TestServo_Tare(t *testing.T) {
	if testing.Short() {
		t.Skip("tare waits for the servo to settle")
	}

	bus, ft := newFakeBus(1)
	ft.servos[1].set16(RegPresentPosition.Address, 100)

	minPos, maxPos, err := bus.Tare(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, minPos)
	assert.Equal(t, 4094, maxPos)

	correction, err := bus.ReadCorrection(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 100, correction)
	assert.Equal(t, byte(ModePosition), ft.servos[1].regs[RegMode.Address])
}
