// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import "fmt"

// AnomalyType represents different kinds of bus or servo anomalies
type AnomalyType int

const (
	AnomalyUnknownInstruction AnomalyType = iota
	AnomalyInvalidID
	AnomalyLengthMismatch
	AnomalyReadOnlyWrite
	AnomalyServoError
	AnomalyHighTemperature
	AnomalyVoltage
	AnomalyOverload
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownInstruction:
		return "unknown_instruction"
	case AnomalyInvalidID:
		return "invalid_id"
	case AnomalyLengthMismatch:
		return "length_mismatch"
	case AnomalyReadOnlyWrite:
		return "read_only_write"
	case AnomalyServoError:
		return "servo_error"
	case AnomalyHighTemperature:
		return "high_temperature"
	case AnomalyVoltage:
		return "voltage"
	case AnomalyOverload:
		return "overload"
	default:
		return "unknown"
	}
}

// ValidationError represents one detected anomaly
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Limits are the telemetry thresholds checked by ValidateTelemetry
type Limits struct {
	MaxTemperature float64 // °C
	MinVoltage     float64 // V
	MaxVoltage     float64 // V
	MaxLoad        float64 // |%|
}

// DefaultLimits returns thresholds suited to an STS3215 on a 7.4 V supply
func DefaultLimits() Limits {
	return Limits{
		MaxTemperature: 65,
		MinVoltage:     4.5,
		MaxVoltage:     8.4,
		MaxLoad:        90,
	}
}

// ValidateFrame checks a sniffed frame for protocol anomalies
// Returns a slice of validation errors (empty if the frame is valid)
func ValidateFrame(f *Frame, dir Direction) []ValidationError {
	errors := []ValidationError{}

	if f.id > BroadcastID {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidID,
			Message: fmt.Sprintf("Invalid id=%d (max %d)", f.id, BroadcastID),
			Details: map[string]interface{}{"id": f.id},
		})
	}

	if dir == Reply {
		if f.IsBroadcast() {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidID,
				Message: "Status frame from broadcast id",
				Details: map[string]interface{}{"id": f.id},
			})
		}
		if f.code != 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyServoError,
				Message: fmt.Sprintf("Servo %d reports %s", f.id, StatusError(f.code).Error()),
				Details: map[string]interface{}{"id": f.id, "status": f.code},
			})
		}
		return errors
	}

	switch f.code {
	case InstPing, InstAction, InstReset:
		if len(f.params) != 0 {
			errors = append(errors, lengthMismatch(f, 0))
		}
	case InstRead:
		if len(f.params) != 2 {
			errors = append(errors, lengthMismatch(f, 2))
		}
	case InstWrite, InstRegWrite:
		if len(f.params) < 2 {
			errors = append(errors, lengthMismatch(f, 2))
			break
		}
		if r, ok := Lookup(f.params[0]); ok && r.Access == ReadOnly {
			errors = append(errors, ValidationError{
				Type:    AnomalyReadOnlyWrite,
				Message: fmt.Sprintf("Write to read-only register %s", r.Name),
				Details: map[string]interface{}{"address": f.params[0]},
			})
		}
	case InstSyncWrite:
		if len(f.params) < 2 || f.params[1] == 0 || (len(f.params)-2)%(int(f.params[1])+1) != 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: "SYNC_WRITE parameters do not split into whole entries",
				Details: map[string]interface{}{"length": len(f.params)},
			})
		}
	case InstSyncRead:
		if len(f.params) < 3 {
			errors = append(errors, lengthMismatch(f, 3))
		}
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownInstruction,
			Message: fmt.Sprintf("Unknown instruction 0x%02X", f.code),
			Details: map[string]interface{}{"instruction": f.code},
		})
	}

	return errors
}

// ValidateTelemetry checks the fields that were read against limits
func ValidateTelemetry(t *Telemetry, limits Limits) []ValidationError {
	errors := []ValidationError{}

	if t.Temperature.OK() && t.Temperature.Value > limits.MaxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyHighTemperature,
			Message: fmt.Sprintf("Servo %d temperature %.0f°C (max %.0f)", t.ID, t.Temperature.Value, limits.MaxTemperature),
			Details: map[string]interface{}{"id": t.ID, "temperature": t.Temperature.Value},
		})
	}

	if t.Voltage.OK() && (t.Voltage.Value < limits.MinVoltage || t.Voltage.Value > limits.MaxVoltage) {
		errors = append(errors, ValidationError{
			Type: AnomalyVoltage,
			Message: fmt.Sprintf("Servo %d voltage %.1fV outside [%.1f, %.1f]",
				t.ID, t.Voltage.Value, limits.MinVoltage, limits.MaxVoltage),
			Details: map[string]interface{}{"id": t.ID, "voltage": t.Voltage.Value},
		})
	}

	if t.Load.OK() && (t.Load.Value > limits.MaxLoad || t.Load.Value < -limits.MaxLoad) {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverload,
			Message: fmt.Sprintf("Servo %d load %.1f%% (max %.0f)", t.ID, t.Load.Value, limits.MaxLoad),
			Details: map[string]interface{}{"id": t.ID, "load": t.Load.Value},
		})
	}

	return errors
}

func lengthMismatch(f *Frame, expected int) ValidationError {
	return ValidationError{
		Type: AnomalyLengthMismatch,
		Message: fmt.Sprintf("%s with %d parameter bytes (expected %d)",
			FormatInstruction(f.code), len(f.params), expected),
		Details: map[string]interface{}{"length": len(f.params), "expected": expected},
	}
}
