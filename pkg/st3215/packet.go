// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import "time"

// Frame is a decoded instruction or status frame.
//
// For frames sent by the host the code is an instruction. For replies from a
// servo the same position carries the status error byte.
type Frame struct {
	id        uint8
	length    uint8
	code      uint8
	params    []byte
	checksum  uint8
	timestamp time.Time
}

// NewFrame creates a frame with the given fields. The length and checksum
// are computed from the parameters.
func NewFrame(id, code uint8, params []byte) *Frame {
	f := &Frame{
		id:        id,
		length:    uint8(len(params) + 2),
		code:      code,
		params:    params,
		timestamp: time.Now(),
	}
	f.checksum = Checksum(f.id, f.length, f.code, f.params)
	return f
}

// ID returns the target ID (requests) or source ID (replies)
func (f *Frame) ID() uint8 {
	return f.id
}

// Length returns the LEN field
func (f *Frame) Length() uint8 {
	return f.length
}

// Instruction returns the instruction code of a request frame
func (f *Frame) Instruction() uint8 {
	return f.code
}

// Status returns the error byte of a status frame
func (f *Frame) Status() StatusError {
	return StatusError(f.code)
}

// Params returns the parameter bytes
func (f *Frame) Params() []byte {
	return f.params
}

// Checksum returns the checksum byte carried by the frame
func (f *Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns when the frame was built or decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsBroadcast returns true if the frame targets every servo on the bus
func (f *Frame) IsBroadcast() bool {
	return f.id == BroadcastID
}

// ExpectsReply reports whether a servo answers this frame with a status frame.
// Broadcast frames and the ACTION and SYNC_WRITE instructions never get one.
// SYNC_READ is broadcast but answered by each listed servo, so it is handled
// outside the single-reply path.
func (f *Frame) ExpectsReply() bool {
	if f.IsBroadcast() {
		return false
	}
	switch f.code {
	case InstAction, InstSyncWrite:
		return false
	}
	return true
}
