// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import "github.com/pkg/errors"

// NewPingFrame creates a PING request
func NewPingFrame(id uint8) *Frame {
	return NewFrame(id, InstPing, nil)
}

// NewReadFrame creates a READ request for length bytes starting at address
func NewReadFrame(id, address, length uint8) *Frame {
	return NewFrame(id, InstRead, []byte{address, length})
}

// NewWriteFrame creates a WRITE request for data starting at address
func NewWriteFrame(id, address uint8, data []byte) *Frame {
	return NewFrame(id, InstWrite, withAddress(address, data))
}

// NewRegWriteFrame creates a REG_WRITE request. The write is staged on the
// servo and applied when an ACTION is received.
func NewRegWriteFrame(id, address uint8, data []byte) *Frame {
	return NewFrame(id, InstRegWrite, withAddress(address, data))
}

// NewActionFrame creates an ACTION request, usually broadcast
func NewActionFrame(id uint8) *Frame {
	return NewFrame(id, InstAction, nil)
}

// NewResetFrame creates a RESET request
func NewResetFrame(id uint8) *Frame {
	return NewFrame(id, InstReset, nil)
}

// SyncWriteEntry is one servo's slice of a SYNC_WRITE
type SyncWriteEntry struct {
	ID   uint8
	Data []byte
}

// NewSyncWriteFrame creates a broadcast SYNC_WRITE frame:
//
//	[address, width, id1, data1..., id2, data2..., ...]
//
// Every entry must carry exactly width bytes.
func NewSyncWriteFrame(address uint8, width int, entries []SyncWriteEntry) (*Frame, error) {
	if width < 1 {
		return nil, &MalformedFrameError{Reason: "sync write width must be positive"}
	}
	if len(entries) == 0 {
		return nil, &MalformedFrameError{Reason: "sync write without entries"}
	}

	params := make([]byte, 0, 2+len(entries)*(width+1))
	params = append(params, address, uint8(width))
	for _, e := range entries {
		if len(e.Data) != width {
			return nil, &MalformedFrameError{
				Reason: "sync write entry width mismatch",
				Len:    len(e.Data),
			}
		}
		params = append(params, e.ID)
		params = append(params, e.Data...)
	}

	if len(params) > MaxParamSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "sync write of %d servos", len(entries))
	}

	return NewFrame(BroadcastID, InstSyncWrite, params), nil
}

// NewSyncReadFrame creates a broadcast SYNC_READ frame:
//
//	[address, length, id1, id2, ...]
func NewSyncReadFrame(address, length uint8, ids []uint8) (*Frame, error) {
	if len(ids) == 0 {
		return nil, &MalformedFrameError{Reason: "sync read without ids"}
	}

	params := make([]byte, 0, 2+len(ids))
	params = append(params, address, length)
	params = append(params, ids...)

	if len(params) > MaxParamSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "sync read of %d servos", len(ids))
	}

	return NewFrame(BroadcastID, InstSyncRead, params), nil
}

func withAddress(address uint8, data []byte) []byte {
	params := make([]byte, 0, len(data)+1)
	params = append(params, address)
	return append(params, data...)
}
