// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"sort"

	"github.com/pkg/errors"
)

// Access is the access mode of a control table register.
type Access uint8

const (
	ReadWrite Access = iota
	ReadOnly
)

func (a Access) String() string {
	if a == ReadOnly {
		return "RO"
	}
	return "RW"
}

// unsigned marks a register without a direction bit
const unsigned = -1

// Register describes one entry of the servo control table.
//
// Multi-byte registers are little-endian. Registers with a SignBit use
// sign-magnitude encoding: the bits below SignBit hold the magnitude and
// SignBit set means negative (reverse direction).
type Register struct {
	Name    string
	Address uint8
	Width   int
	Access  Access
	SignBit int
	Scale   float64 // Physical units per raw unit; 0 means 1
	Unit    string
	Min     int
	Max     int
	EEPROM  bool // Write requires the LOCK register to be cleared
}

// Control table (STS series)
var (
	RegFirmwareMajor   = Register{Name: "FIRMWARE_MAJOR", Address: 0, Width: 1, Access: ReadOnly, SignBit: unsigned, Max: 255}
	RegFirmwareMinor   = Register{Name: "FIRMWARE_MINOR", Address: 1, Width: 1, Access: ReadOnly, SignBit: unsigned, Max: 255}
	RegModel           = Register{Name: "MODEL", Address: 3, Width: 2, Access: ReadOnly, SignBit: unsigned, Max: 65535}
	RegID              = Register{Name: "ID", Address: 5, Width: 1, SignBit: unsigned, Max: MaxID, EEPROM: true}
	RegBaudRate        = Register{Name: "BAUD_RATE", Address: 6, Width: 1, SignBit: unsigned, Max: Baud38400, EEPROM: true}
	RegResponseDelay   = Register{Name: "RESPONSE_DELAY", Address: 7, Width: 1, SignBit: unsigned, Unit: "2us", Max: 254, EEPROM: true}
	RegResponseLevel   = Register{Name: "RESPONSE_LEVEL", Address: 8, Width: 1, SignBit: unsigned, Max: 1, EEPROM: true}
	RegMinAngleLimit   = Register{Name: "MIN_ANGLE_LIMIT", Address: 9, Width: 2, SignBit: unsigned, Max: MaxPosition, EEPROM: true}
	RegMaxAngleLimit   = Register{Name: "MAX_ANGLE_LIMIT", Address: 11, Width: 2, SignBit: unsigned, Max: MaxPosition, EEPROM: true}
	RegMaxTemperature  = Register{Name: "MAX_TEMPERATURE", Address: 13, Width: 1, SignBit: unsigned, Unit: "°C", Max: 100, EEPROM: true}
	RegMaxVoltage      = Register{Name: "MAX_VOLTAGE", Address: 14, Width: 1, SignBit: unsigned, Scale: 0.1, Unit: "V", Max: 254, EEPROM: true}
	RegMinVoltage      = Register{Name: "MIN_VOLTAGE", Address: 15, Width: 1, SignBit: unsigned, Scale: 0.1, Unit: "V", Max: 254, EEPROM: true}
	RegMaxTorque       = Register{Name: "MAX_TORQUE", Address: 16, Width: 2, SignBit: unsigned, Scale: 0.1, Unit: "%", Max: 1000, EEPROM: true}
	RegPGain           = Register{Name: "P_COEFFICIENT", Address: 21, Width: 1, SignBit: unsigned, Max: 254, EEPROM: true}
	RegDGain           = Register{Name: "D_COEFFICIENT", Address: 22, Width: 1, SignBit: unsigned, Max: 254, EEPROM: true}
	RegIGain           = Register{Name: "I_COEFFICIENT", Address: 23, Width: 1, SignBit: unsigned, Max: 254, EEPROM: true}
	RegCWDeadZone      = Register{Name: "CW_DEAD", Address: 26, Width: 1, SignBit: unsigned, Max: 32, EEPROM: true}
	RegCCWDeadZone     = Register{Name: "CCW_DEAD", Address: 27, Width: 1, SignBit: unsigned, Max: 32, EEPROM: true}
	RegOffset          = Register{Name: "OFFSET", Address: 31, Width: 2, SignBit: 11, Min: -MaxCorrection, Max: MaxCorrection, EEPROM: true}
	RegMode            = Register{Name: "MODE", Address: 33, Width: 1, SignBit: unsigned, Max: ModeStep, EEPROM: true}
	RegTorqueEnable    = Register{Name: "TORQUE_ENABLE", Address: 40, Width: 1, SignBit: unsigned, Max: TorqueMiddle}
	RegAcceleration    = Register{Name: "ACC", Address: 41, Width: 1, SignBit: unsigned, Unit: "100step/s²", Max: MaxAcceleration}
	RegGoalPosition    = Register{Name: "GOAL_POSITION", Address: 42, Width: 2, SignBit: unsigned, Unit: "step", Max: MaxPosition}
	RegGoalTime        = Register{Name: "GOAL_TIME", Address: 44, Width: 2, SignBit: unsigned, Unit: "ms", Max: 65535}
	RegGoalSpeed       = Register{Name: "GOAL_SPEED", Address: 46, Width: 2, SignBit: 15, Unit: "step/s", Min: -MaxSpeed, Max: MaxSpeed}
	RegTorqueLimit     = Register{Name: "TORQUE_LIMIT", Address: 48, Width: 2, SignBit: unsigned, Scale: 0.1, Unit: "%", Max: 1000}
	RegLock            = Register{Name: "LOCK", Address: 55, Width: 1, SignBit: unsigned, Max: 1}
	RegPresentPosition = Register{Name: "PRESENT_POSITION", Address: 56, Width: 2, Access: ReadOnly, SignBit: unsigned, Unit: "step", Max: MaxPosition}
	RegPresentSpeed    = Register{Name: "PRESENT_SPEED", Address: 58, Width: 2, Access: ReadOnly, SignBit: 15, Unit: "step/s", Min: -32767, Max: 32767}
	RegPresentLoad     = Register{Name: "PRESENT_LOAD", Address: 60, Width: 2, Access: ReadOnly, SignBit: 10, Scale: 0.1, Unit: "%", Min: -1023, Max: 1023}
	RegPresentVoltage  = Register{Name: "PRESENT_VOLTAGE", Address: 62, Width: 1, Access: ReadOnly, SignBit: unsigned, Scale: 0.1, Unit: "V", Max: 255}
	RegPresentTemp     = Register{Name: "PRESENT_TEMPERATURE", Address: 63, Width: 1, Access: ReadOnly, SignBit: unsigned, Unit: "°C", Max: 255}
	RegStatus          = Register{Name: "STATUS", Address: 65, Width: 1, Access: ReadOnly, SignBit: unsigned, Max: 255}
	RegMoving          = Register{Name: "MOVING", Address: 66, Width: 1, Access: ReadOnly, SignBit: unsigned, Max: 255}
	RegPresentCurrent  = Register{Name: "PRESENT_CURRENT", Address: 69, Width: 2, Access: ReadOnly, SignBit: 15, Scale: 6.5, Unit: "mA", Min: -32767, Max: 32767}
	RegMaxAcceleration = Register{Name: "MAX_ACCELERATION", Address: 85, Width: 1, SignBit: unsigned, Max: MaxAcceleration}
)

var registersByAddress = map[uint8]Register{}

func init() {
	for _, r := range []Register{
		RegFirmwareMajor, RegFirmwareMinor, RegModel, RegID, RegBaudRate,
		RegResponseDelay, RegResponseLevel, RegMinAngleLimit, RegMaxAngleLimit,
		RegMaxTemperature, RegMaxVoltage, RegMinVoltage, RegMaxTorque,
		RegPGain, RegDGain, RegIGain, RegCWDeadZone, RegCCWDeadZone,
		RegOffset, RegMode, RegTorqueEnable, RegAcceleration, RegGoalPosition,
		RegGoalTime, RegGoalSpeed, RegTorqueLimit, RegLock, RegPresentPosition,
		RegPresentSpeed, RegPresentLoad, RegPresentVoltage, RegPresentTemp,
		RegStatus, RegMoving, RegPresentCurrent, RegMaxAcceleration,
	} {
		registersByAddress[r.Address] = r
	}
}

// Lookup returns the register starting at address.
func Lookup(address uint8) (Register, bool) {
	r, ok := registersByAddress[address]
	return r, ok
}

// Registers returns the control table ordered by address.
func Registers() []Register {
	regs := make([]Register, 0, len(registersByAddress))
	for _, r := range registersByAddress {
		regs = append(regs, r)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Address < regs[j].Address })
	return regs
}

// WidthOf returns the width in bytes of the register at address, or 0 if the
// address does not start a known register.
func WidthOf(address uint8) int {
	return registersByAddress[address].Width
}

// DecodeRegister decodes raw bytes read from address into physical units.
func DecodeRegister(address uint8, raw []byte) (float64, error) {
	r, ok := Lookup(address)
	if !ok {
		return 0, errors.Errorf("st3215: unknown register address %d", address)
	}
	return r.Value(raw)
}

// EncodeRegister encodes a raw-unit value for the register at address.
func EncodeRegister(address uint8, v int) ([]byte, error) {
	r, ok := Lookup(address)
	if !ok {
		return nil, errors.Errorf("st3215: unknown register address %d", address)
	}
	return r.Encode(v)
}

// Decode converts little-endian register bytes into a signed raw value.
func (r Register) Decode(raw []byte) (int, error) {
	if len(raw) != r.Width {
		return 0, &MalformedFrameError{Reason: "register " + r.Name + " width mismatch", Len: len(raw)}
	}

	var v uint16
	if r.Width == 1 {
		v = uint16(raw[0])
	} else {
		v = uint16(raw[0]) | uint16(raw[1])<<8
	}

	if r.SignBit == unsigned {
		return int(v), nil
	}

	sign := uint16(1) << r.SignBit
	magnitude := int(v & (sign - 1))
	if v&sign != 0 {
		return -magnitude, nil
	}
	return magnitude, nil
}

// Value decodes raw bytes and applies the register scale.
func (r Register) Value(raw []byte) (float64, error) {
	v, err := r.Decode(raw)
	if err != nil {
		return 0, err
	}
	return r.Scaled(v), nil
}

// Scaled converts a raw value into physical units.
func (r Register) Scaled(v int) float64 {
	if r.Scale == 0 {
		return float64(v)
	}
	return float64(v) * r.Scale
}

// Encode converts a raw value to register bytes. Values outside [Min, Max]
// are rejected with a RangeError, never wrapped.
func (r Register) Encode(v int) ([]byte, error) {
	if r.Access == ReadOnly {
		return nil, &ReadOnlyError{Register: r.Name}
	}
	if v < r.Min || v > r.Max {
		return nil, &RangeError{Register: r.Name, Value: v, Min: r.Min, Max: r.Max}
	}

	var raw uint16
	if v < 0 {
		raw = uint16(-v) | uint16(1)<<r.SignBit
	} else {
		raw = uint16(v)
	}

	if r.Width == 1 {
		return []byte{byte(raw)}, nil
	}
	return []byte{byte(raw), byte(raw >> 8)}, nil
}

// ModelName returns the name of a model number read from the MODEL register.
func ModelName(model uint16) string {
	switch model {
	case ModelSTS3215:
		return "STS3215"
	case ModelSTS3250:
		return "STS3250"
	case ModelSCS0009:
		return "SCS0009"
	case ModelSM8512BL:
		return "SM8512BL"
	default:
		return "UNKNOWN"
	}
}
