// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package st3215 provides a host-side Go driver for Feetech ST3215 (STS series)
// serial bus servos.
//
// Servos share one half-duplex TTL/RS-485 line and are addressed by ID. Each
// servo exposes a control table of registers that are read and written with
// checksummed instruction frames. This package provides frame encoding and
// decoding, the register map, a mutex-guarded transaction engine with
// timeout and retry, device operations built on top of it, group sync
// read/write, and a linear bus scanner.
package st3215

// version is reported by Version.
const version = "1.2.0"

// Version returns the library version string.
func Version() string {
	return version
}

// Frame header bytes
const (
	HeaderByte = 0xFF
	HeaderSize = 2
)

// Frame size limits
const (
	MaxFrameSize  = 250                           // Header through checksum
	MinFrameSize  = 6                             // Header + ID + LEN + INST + CHK
	MaxParamSize  = MaxFrameSize - MinFrameSize   // 244
	maxLengthByte = MaxFrameSize - HeaderSize - 2 // LEN covers INST, params and CHK
	minLengthByte = 2
)

// Device IDs
const (
	BroadcastID = 0xFE // All devices, no reply
	MaxID       = 0xFD // Highest addressable ID
	MaxServoID  = 0xFC // Highest assignable ID
)

// Instructions
const (
	InstPing      = 0x01
	InstRead      = 0x02
	InstWrite     = 0x03
	InstRegWrite  = 0x04
	InstAction    = 0x05
	InstReset     = 0x06
	InstSyncRead  = 0x82
	InstSyncWrite = 0x83
)

// Status error flags (the byte in the instruction position of a reply)
const (
	StatusVoltage  = 0x01
	StatusAngle    = 0x02
	StatusOverheat = 0x04
	StatusOverEle  = 0x08
	StatusOverload = 0x20
)

// Baud rate register indices
const (
	Baud1M     = 0
	Baud500K   = 1
	Baud250K   = 2
	Baud128K   = 3
	Baud115200 = 4
	Baud76800  = 5
	Baud57600  = 6
	Baud38400  = 7
)

// DefaultBaudRate is the factory baud rate of STS servos.
const DefaultBaudRate = 1000000

// BaudRates maps the BAUD_RATE register index to bits per second.
var BaudRates = map[uint8]int{
	Baud1M:     1000000,
	Baud500K:   500000,
	Baud250K:   250000,
	Baud128K:   128000,
	Baud115200: 115200,
	Baud76800:  76800,
	Baud57600:  57600,
	Baud38400:  38400,
}

// Operating modes (MODE register)
const (
	ModePosition = 0
	ModeWheel    = 1
	ModePWM      = 2
	ModeStep     = 3
)

// Torque enable values
const (
	TorqueOff    = 0
	TorqueOn     = 1
	TorqueMiddle = 128 // Sets the present position as the new center
)

// Motion limits
const (
	MaxPosition     = 4095
	MaxSpeed        = 3400
	MaxAcceleration = 254
	MaxCorrection   = 2047
)

// Known model numbers (MODEL register)
const (
	ModelSTS3215  = 777
	ModelSTS3250  = 2825
	ModelSCS0009  = 1284
	ModelSM8512BL = 11272
)

// Decoder states
const (
	decodeHeader1 = iota
	decodeHeader2
	decodeID
	decodeLength
	decodeInstruction
	decodeParams
	decodeChecksum
)
