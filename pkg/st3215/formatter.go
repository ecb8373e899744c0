// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"fmt"
	"strings"
)

// Direction tells FormatFrame how to read the code byte
type Direction int

const (
	Request Direction = iota // Host to servo, code is an instruction
	Reply                    // Servo to host, code is the status byte
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame, dir Direction) string {
	timestamp := f.timestamp.Format("15:04:05.000")

	target := fmt.Sprintf("id=%d", f.id)
	if f.IsBroadcast() {
		target = "id=BROADCAST"
	}

	if dir == Reply {
		result := fmt.Sprintf("[%s] STATUS %s len=%d", timestamp, target, f.length)
		if f.code != 0 {
			result += fmt.Sprintf(" error=0x%02X (%s)", f.code, StatusError(f.code).Error())
		}
		if len(f.params) > 0 {
			result += fmt.Sprintf(" data=% X", f.params)
		}
		return result + "\n"
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) %s len=%d\n", timestamp, FormatInstruction(f.code), f.code, target, f.length)
	result += FormatParams(f.code, f.params)
	return result
}

// FormatInstruction returns the human-readable name for an instruction
func FormatInstruction(inst uint8) string {
	switch inst {
	case InstPing:
		return "PING"
	case InstRead:
		return "READ"
	case InstWrite:
		return "WRITE"
	case InstRegWrite:
		return "REG_WRITE"
	case InstAction:
		return "ACTION"
	case InstReset:
		return "RESET"
	case InstSyncRead:
		return "SYNC_READ"
	case InstSyncWrite:
		return "SYNC_WRITE"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", inst)
	}
}

// FormatStatusError returns the flag names set in a status byte
func FormatStatusError(status uint8) string {
	if status == 0 {
		return "OK"
	}
	return StatusError(status).Error()
}

// FormatRegister returns the register name for address, or its number
func FormatRegister(address uint8) string {
	if r, ok := Lookup(address); ok {
		return r.Name
	}
	return fmt.Sprintf("REG_%d", address)
}

// FormatParams formats request parameters based on the instruction
func FormatParams(inst uint8, params []byte) string {
	var s strings.Builder

	switch inst {
	case InstRead:
		if len(params) == 2 {
			fmt.Fprintf(&s, "  Address: %s (%d)\n", FormatRegister(params[0]), params[0])
			fmt.Fprintf(&s, "  Length: %d\n", params[1])
		}

	case InstWrite, InstRegWrite:
		if len(params) >= 1 {
			fmt.Fprintf(&s, "  Address: %s (%d)\n", FormatRegister(params[0]), params[0])
			fmt.Fprintf(&s, "  Data: % X\n", params[1:])
			if r, ok := Lookup(params[0]); ok && len(params)-1 == r.Width {
				if v, err := r.Decode(params[1:]); err == nil {
					fmt.Fprintf(&s, "  Value: %d %s\n", v, r.Unit)
				}
			}
		}

	case InstSyncWrite:
		if len(params) >= 2 && params[1] > 0 {
			width := int(params[1])
			fmt.Fprintf(&s, "  Address: %s (%d) width=%d\n", FormatRegister(params[0]), params[0], width)
			for i := 2; i+1+width <= len(params); i += 1 + width {
				fmt.Fprintf(&s, "  id=%d: % X\n", params[i], params[i+1:i+1+width])
			}
		}

	case InstSyncRead:
		if len(params) >= 2 {
			fmt.Fprintf(&s, "  Address: %s (%d) length=%d\n", FormatRegister(params[0]), params[0], params[1])
			fmt.Fprintf(&s, "  IDs: %v\n", params[2:])
		}

	default:
		if len(params) > 0 {
			fmt.Fprintf(&s, "  Params: % X\n", params)
		}
	}

	return s.String()
}

// FormatHex formats raw bytes as space-separated hex
func FormatHex(data []byte) string {
	return fmt.Sprintf("% X", data)
}
