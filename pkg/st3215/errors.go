// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by every operation on a closed Bus.
	ErrClosed = errors.New("st3215: bus is closed")

	// ErrFrameTooLarge is returned when a frame would exceed MaxFrameSize.
	ErrFrameTooLarge = errors.New("st3215: frame too large")

	// ErrReadTimeout is returned by a Transport when no byte arrives in time.
	ErrReadTimeout = errors.New("st3215: read timeout")
)

// OpenError reports a port that could not be opened or configured.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("st3215: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// MalformedFrameError reports a frame with a bad header, length or size.
type MalformedFrameError struct {
	Reason string
	Len    int
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("st3215: malformed frame: %s (%d bytes)", e.Reason, e.Len)
}

// ChecksumError reports a frame whose checksum byte does not match.
type ChecksumError struct {
	Expected uint8
	Got      uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("st3215: checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Got)
}

// UnexpectedReplyError reports a valid frame from a servo other than the one
// addressed. It is handled like a checksum failure.
type UnexpectedReplyError struct {
	Expected uint8
	Got      uint8
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("st3215: reply from id %d, expected id %d", e.Got, e.Expected)
}

// TimeoutError reports that a servo did not answer within the timeout on
// every attempt.
type TimeoutError struct {
	ID       uint8
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("st3215: servo %d not responding after %d attempt(s)", e.ID, e.Attempts)
}

// Timeout lets callers treat this like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// RangeError reports a value outside a register's legal domain. It is
// returned before anything is written to the bus.
type RangeError struct {
	Register string
	Value    int
	Min      int
	Max      int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("st3215: %s value %d out of range [%d, %d]", e.Register, e.Value, e.Min, e.Max)
}

// ReadOnlyError reports an attempt to encode a value for a read-only register.
type ReadOnlyError struct {
	Register string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("st3215: register %s is read-only", e.Register)
}

// StatusError is the error byte a servo returns in its status frame. Each
// bit is an independent fault flag.
type StatusError uint8

func (e StatusError) Error() string {
	if e == 0 {
		return "no error"
	}

	var flags []string
	if e&StatusVoltage != 0 {
		flags = append(flags, "voltage")
	}
	if e&StatusAngle != 0 {
		flags = append(flags, "angle")
	}
	if e&StatusOverheat != 0 {
		flags = append(flags, "overheat")
	}
	if e&StatusOverEle != 0 {
		flags = append(flags, "over current")
	}
	if e&StatusOverload != 0 {
		flags = append(flags, "overload")
	}
	if rest := e &^ (StatusVoltage | StatusAngle | StatusOverheat | StatusOverEle | StatusOverload); rest != 0 {
		flags = append(flags, fmt.Sprintf("reserved(0x%02X)", uint8(rest)))
	}

	return "servo error: " + strings.Join(flags, ", ")
}

// Has reports whether every bit in flag is set.
func (e StatusError) Has(flag uint8) bool {
	return uint8(e)&flag == flag
}

// IsChecksumClass reports whether err means a reply was received but could
// not be trusted.
func IsChecksumClass(err error) bool {
	var ce *ChecksumError
	var ue *UnexpectedReplyError
	return errors.As(err, &ce) || errors.As(err, &ue)
}

// IsTimeout reports whether err is a timeout from the transport or engine.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, ErrReadTimeout)
}

// retryable reports whether a failed attempt should be sent again.
func retryable(err error) bool {
	var me *MalformedFrameError
	return IsTimeout(err) || IsChecksumClass(err) || errors.As(err, &me)
}
