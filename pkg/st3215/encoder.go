// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"github.com/pkg/errors"
)

// Encode builds a complete wire frame:
//
//	0xFF 0xFF ID LEN INST PARAM... CHK
//
// LEN is len(params) + 2. Encode only fails when the frame would exceed
// MaxFrameSize, which is a programming error on the caller's side.
func Encode(id, instruction uint8, params []byte) ([]byte, error) {
	if len(params) > MaxParamSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d parameter bytes (max %d)", len(params), MaxParamSize)
	}

	length := uint8(len(params) + 2)

	frame := make([]byte, 0, MinFrameSize+len(params))
	frame = append(frame, HeaderByte, HeaderByte, id, length, instruction)
	frame = append(frame, params...)
	frame = append(frame, Checksum(id, length, instruction, params))

	return frame, nil
}

// MustEncode is like Encode but panics on error. It is meant for frames
// whose parameter size is fixed at compile time.
func MustEncode(id, instruction uint8, params []byte) []byte {
	data, err := Encode(id, instruction, params)
	if err != nil {
		panic("st3215: " + err.Error())
	}
	return data
}

// Decode parses exactly one complete frame. The buffer must start with the
// two header bytes and contain exactly the number of bytes LEN declares.
// No partial result is returned on failure.
func Decode(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, &MalformedFrameError{Reason: "frame too short", Len: len(data)}
	}
	if data[0] != HeaderByte || data[1] != HeaderByte {
		return nil, &MalformedFrameError{Reason: "header not found", Len: len(data)}
	}

	// The checksum covers the bytes actually present, so a corrupted LEN
	// byte is reported as a checksum failure rather than a size mismatch.
	body := data[HeaderSize : len(data)-1]
	got := data[len(data)-1]
	if want := checksumBody(body); want != got {
		return nil, &ChecksumError{Expected: want, Got: got}
	}

	length := int(data[3])
	if length < minLengthByte {
		return nil, &MalformedFrameError{Reason: "length field too small", Len: len(data)}
	}
	if expected := HeaderSize + 2 + length; expected != len(data) {
		return nil, &MalformedFrameError{
			Reason: "declared length does not match frame size",
			Len:    len(data),
		}
	}

	params := make([]byte, length-2)
	copy(params, data[5:len(data)-1])

	f := NewFrame(data[2], data[4], params)
	return f, nil
}
