// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"

	"github.com/pkg/errors"
)

// Ping checks that id answers. Any valid status frame from id counts as
// present, whatever its error byte.
func (b *Bus) Ping(ctx context.Context, id uint8) error {
	if err := validateTarget(id); err != nil {
		return err
	}
	_, err := b.Transact(ctx, NewPingFrame(id))
	var se StatusError
	if errors.As(err, &se) {
		return nil
	}
	return err
}

// PingModel pings id and reads its model number.
func (b *Bus) PingModel(ctx context.Context, id uint8) (uint16, error) {
	if err := b.Ping(ctx, id); err != nil {
		return 0, err
	}
	v, err := b.ReadValue(ctx, id, RegModel)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ReadRegister reads length bytes starting at address.
func (b *Bus) ReadRegister(ctx context.Context, id, address uint8, length int) ([]byte, error) {
	if err := validateTarget(id); err != nil {
		return nil, err
	}
	if length < 1 || length > MaxParamSize {
		return nil, &RangeError{Register: "read length", Value: length, Min: 1, Max: MaxParamSize}
	}

	reply, err := b.Transact(ctx, NewReadFrame(id, address, uint8(length)))
	if err != nil {
		return nil, err
	}
	return reply.Params(), nil
}

// WriteRegister writes data starting at address. For BroadcastID the write
// completes once the frame is sent.
func (b *Bus) WriteRegister(ctx context.Context, id, address uint8, data []byte) error {
	if id > BroadcastID {
		return &RangeError{Register: "ID", Value: int(id), Min: 0, Max: BroadcastID}
	}
	_, err := b.Transact(ctx, NewWriteFrame(id, address, data))
	return err
}

// RegWrite stages a write on id that takes effect on the next Action.
func (b *Bus) RegWrite(ctx context.Context, id, address uint8, data []byte) error {
	if id > BroadcastID {
		return &RangeError{Register: "ID", Value: int(id), Min: 0, Max: BroadcastID}
	}
	_, err := b.Transact(ctx, NewRegWriteFrame(id, address, data))
	return err
}

// Action triggers staged writes. It is normally sent to BroadcastID.
func (b *Bus) Action(ctx context.Context, id uint8) error {
	_, err := b.Transact(ctx, NewActionFrame(id))
	return err
}

// ReadValue reads a register and decodes it to a signed raw value.
func (b *Bus) ReadValue(ctx context.Context, id uint8, reg Register) (int, error) {
	raw, err := b.ReadRegister(ctx, id, reg.Address, reg.Width)
	if err != nil {
		return 0, err
	}
	return reg.Decode(raw)
}

// WriteValue encodes v for reg and writes it. Range errors are returned
// before anything is sent.
func (b *Bus) WriteValue(ctx context.Context, id uint8, reg Register, v int) error {
	data, err := reg.Encode(v)
	if err != nil {
		return err
	}
	return b.WriteRegister(ctx, id, reg.Address, data)
}

// MoveTo writes goal position, goal time and goal speed in one write
// spanning the contiguous registers 42..47. It returns once the servo has
// acknowledged the write, not when it arrives.
func (b *Bus) MoveTo(ctx context.Context, id uint8, position, time, speed int) error {
	data, err := encodeGoal(position, time, speed)
	if err != nil {
		return err
	}
	return b.WriteRegister(ctx, id, RegGoalPosition.Address, data)
}

// EnableTorque switches the motor output on or off.
func (b *Bus) EnableTorque(ctx context.Context, id uint8, enable bool) error {
	v := TorqueOff
	if enable {
		v = TorqueOn
	}
	return b.WriteValue(ctx, id, RegTorqueEnable, v)
}

// DisableTorque is EnableTorque(ctx, id, false).
func (b *Bus) DisableTorque(ctx context.Context, id uint8) error {
	return b.EnableTorque(ctx, id, false)
}

// DefineMiddle makes the present position the servo's new center.
func (b *Bus) DefineMiddle(ctx context.Context, id uint8) error {
	return b.WriteValue(ctx, id, RegTorqueEnable, TorqueMiddle)
}

// ReadPosition returns the present position in steps.
func (b *Bus) ReadPosition(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegPresentPosition)
}

// ReadSpeed returns the present signed speed in steps/s.
func (b *Bus) ReadSpeed(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegPresentSpeed)
}

// ReadLoad returns the present signed load in percent.
func (b *Bus) ReadLoad(ctx context.Context, id uint8) (float64, error) {
	return b.readScaled(ctx, id, RegPresentLoad)
}

// ReadVoltage returns the supply voltage in volts.
func (b *Bus) ReadVoltage(ctx context.Context, id uint8) (float64, error) {
	return b.readScaled(ctx, id, RegPresentVoltage)
}

// ReadCurrent returns the motor current in milliamps.
func (b *Bus) ReadCurrent(ctx context.Context, id uint8) (float64, error) {
	return b.readScaled(ctx, id, RegPresentCurrent)
}

// ReadTemperature returns the internal temperature in °C.
func (b *Bus) ReadTemperature(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegPresentTemp)
}

// ReadAcceleration returns the configured acceleration.
func (b *Bus) ReadAcceleration(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegAcceleration)
}

// ReadMode returns the operating mode.
func (b *Bus) ReadMode(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegMode)
}

// ReadCorrection returns the signed position offset in steps.
func (b *Bus) ReadCorrection(ctx context.Context, id uint8) (int, error) {
	return b.ReadValue(ctx, id, RegOffset)
}

// MotionState is the result of IsMoving
type MotionState int

const (
	MotionUnknown MotionState = iota // The read failed
	MotionStopped
	MotionMoving
)

func (m MotionState) String() string {
	switch m {
	case MotionStopped:
		return "stopped"
	case MotionMoving:
		return "moving"
	default:
		return "error"
	}
}

// IsMoving polls the MOVING register. A failed read yields MotionUnknown and
// the error, never MotionStopped.
func (b *Bus) IsMoving(ctx context.Context, id uint8) (MotionState, error) {
	v, err := b.ReadValue(ctx, id, RegMoving)
	if err != nil {
		return MotionUnknown, err
	}
	if v != 0 {
		return MotionMoving, nil
	}
	return MotionStopped, nil
}

// ServoStatus is the decoded STATUS register. Each field is true when the
// corresponding check passes (bit clear).
type ServoStatus struct {
	Raw         uint8 `json:"raw" yaml:"raw" cbor:"raw"`
	Voltage     bool  `json:"voltage" yaml:"voltage" cbor:"voltage"`
	Sensor      bool  `json:"sensor" yaml:"sensor" cbor:"sensor"`
	Temperature bool  `json:"temperature" yaml:"temperature" cbor:"temperature"`
	Current     bool  `json:"current" yaml:"current" cbor:"current"`
	Angle       bool  `json:"angle" yaml:"angle" cbor:"angle"`
	Overload    bool  `json:"overload" yaml:"overload" cbor:"overload"`
}

// OK reports whether no fault bit is set
func (s ServoStatus) OK() bool {
	return s.Raw&0x3F == 0
}

// DecodeServoStatus decodes a STATUS register byte
func DecodeServoStatus(raw uint8) ServoStatus {
	ok := func(bit uint) bool { return raw&(1<<bit) == 0 }
	return ServoStatus{
		Raw:         raw,
		Voltage:     ok(0),
		Sensor:      ok(1),
		Temperature: ok(2),
		Current:     ok(3),
		Angle:       ok(4),
		Overload:    ok(5),
	}
}

// ReadStatus reads the STATUS register.
func (b *Bus) ReadStatus(ctx context.Context, id uint8) (ServoStatus, error) {
	v, err := b.ReadValue(ctx, id, RegStatus)
	if err != nil {
		return ServoStatus{}, err
	}
	return DecodeServoStatus(uint8(v)), nil
}

// SetAcceleration writes the acceleration, 0..254 in units of 100 step/s².
func (b *Bus) SetAcceleration(ctx context.Context, id uint8, acc int) error {
	return b.WriteValue(ctx, id, RegAcceleration, acc)
}

// SetSpeed writes the goal speed, 0..3400 steps/s.
func (b *Bus) SetSpeed(ctx context.Context, id uint8, speed int) error {
	if speed < 0 {
		return &RangeError{Register: RegGoalSpeed.Name, Value: speed, Min: 0, Max: MaxSpeed}
	}
	return b.WriteValue(ctx, id, RegGoalSpeed, speed)
}

// SetMode writes the operating mode.
func (b *Bus) SetMode(ctx context.Context, id uint8, mode int) error {
	return b.WriteValue(ctx, id, RegMode, mode)
}

// Rotate puts id in wheel mode and spins it at a signed speed. Negative
// speeds turn the other way.
func (b *Bus) Rotate(ctx context.Context, id uint8, speed int) error {
	data, err := RegGoalSpeed.Encode(speed)
	if err != nil {
		return err
	}
	if err := b.SetMode(ctx, id, ModeWheel); err != nil {
		return err
	}
	return b.WriteRegister(ctx, id, RegGoalSpeed.Address, data)
}

// CorrectPosition writes the signed position offset, |correction| <= 2047.
func (b *Bus) CorrectPosition(ctx context.Context, id uint8, correction int) error {
	return b.WriteValue(ctx, id, RegOffset, correction)
}

// LockEEPROM write-protects the EEPROM area.
func (b *Bus) LockEEPROM(ctx context.Context, id uint8) error {
	return b.WriteValue(ctx, id, RegLock, 1)
}

// UnlockEEPROM allows writes to the EEPROM area.
func (b *Bus) UnlockEEPROM(ctx context.Context, id uint8) error {
	return b.WriteValue(ctx, id, RegLock, 0)
}

// ChangeID moves servo id to newID. The EEPROM is unlocked, the ID written
// and the EEPROM locked again under the new ID.
func (b *Bus) ChangeID(ctx context.Context, id, newID uint8) error {
	if newID > MaxID {
		return &RangeError{Register: RegID.Name, Value: int(newID), Min: 0, Max: MaxID}
	}
	if id == BroadcastID {
		return &RangeError{Register: "ID", Value: int(id), Min: 0, Max: MaxID}
	}
	if err := b.Ping(ctx, id); err != nil {
		return errors.Wrapf(err, "find servo %d", id)
	}
	if err := b.UnlockEEPROM(ctx, id); err != nil {
		return errors.Wrap(err, "unlock eeprom")
	}
	// The acknowledgement of an ID write may come from either ID, so it is
	// not awaited.
	data, err := RegID.Encode(int(newID))
	if err != nil {
		return err
	}
	if err := b.Send(ctx, NewWriteFrame(id, RegID.Address, data)); err != nil {
		return errors.Wrap(err, "write id")
	}
	if err := b.LockEEPROM(ctx, newID); err != nil {
		return errors.Wrapf(err, "lock eeprom on servo %d", newID)
	}
	return nil
}

// Reset restores factory settings on id.
func (b *Bus) Reset(ctx context.Context, id uint8) error {
	if err := validateTarget(id); err != nil {
		return err
	}
	_, err := b.Transact(ctx, NewResetFrame(id))
	return err
}

func (b *Bus) readScaled(ctx context.Context, id uint8, reg Register) (float64, error) {
	raw, err := b.ReadRegister(ctx, id, reg.Address, reg.Width)
	if err != nil {
		return 0, err
	}
	return reg.Value(raw)
}

// encodeGoal encodes position, time and speed as the 6 bytes at 42..47.
func encodeGoal(position, time, speed int) ([]byte, error) {
	if speed < 0 {
		return nil, &RangeError{Register: RegGoalSpeed.Name, Value: speed, Min: 0, Max: MaxSpeed}
	}

	data := make([]byte, 0, 6)
	for _, f := range []struct {
		reg Register
		v   int
	}{
		{RegGoalPosition, position},
		{RegGoalTime, time},
		{RegGoalSpeed, speed},
	} {
		raw, err := f.reg.Encode(f.v)
		if err != nil {
			return nil, err
		}
		data = append(data, raw...)
	}
	return data, nil
}

// validateTarget rejects IDs that cannot answer a request.
func validateTarget(id uint8) error {
	if id > MaxID {
		return &RangeError{Register: "ID", Value: int(id), Min: 0, Max: MaxID}
	}
	return nil
}
