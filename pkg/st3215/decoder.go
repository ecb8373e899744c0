// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"time"
)

// Decoder implements the frame decoder state machine. It is fed one byte at
// a time so it can sit directly behind a Transport with per-byte timeouts.
type Decoder struct {
	state   int
	id      uint8
	length  uint8
	code    uint8
	params  []byte
	raw     []byte // Bytes of the frame in progress, header included
	skipped int    // Stray bytes discarded while looking for a header
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  decodeHeader1,
		params: make([]byte, 0, MaxParamSize),
		raw:    make([]byte, 0, MaxFrameSize),
	}
}

// Reset returns the decoder to the header search state
func (d *Decoder) Reset() {
	d.state = decodeHeader1
	d.id = 0
	d.length = 0
	d.code = 0
	d.params = d.params[:0]
	d.raw = d.raw[:0]
}

// RawBytes returns the bytes of the frame currently being decoded
func (d *Decoder) RawBytes() []byte {
	return d.raw
}

// Skipped returns the number of stray bytes discarded since the decoder was
// created.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// InFrame reports whether at least one header byte has been seen and the
// decoder is partway through a frame.
func (d *Decoder) InFrame() bool {
	return d.state != decodeHeader1
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed frame, or nil if the frame is incomplete. On a
// malformed length or a checksum mismatch it returns an error and starts
// looking for the next header.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case decodeHeader1:
		if b != HeaderByte {
			d.skipped++
			return nil, nil
		}
		d.raw = append(d.raw[:0], b)
		d.state = decodeHeader2
		return nil, nil

	case decodeHeader2:
		if b != HeaderByte {
			d.skipped += len(d.raw) + 1
			d.Reset()
			return nil, nil
		}
		d.raw = append(d.raw, b)
		d.state = decodeID
		return nil, nil

	case decodeID:
		// Runs of 0xFF are header padding, 0xFF is never a valid ID
		if b == HeaderByte {
			d.skipped++
			return nil, nil
		}
		d.raw = append(d.raw, b)
		d.id = b
		d.state = decodeLength
		return nil, nil

	case decodeLength:
		d.raw = append(d.raw, b)
		if b < minLengthByte || b > maxLengthByte {
			n := len(d.raw)
			d.skipped += n
			d.Reset()
			return nil, &MalformedFrameError{Reason: "invalid length byte", Len: n}
		}
		d.length = b
		d.state = decodeInstruction
		return nil, nil

	case decodeInstruction:
		d.raw = append(d.raw, b)
		d.code = b
		if d.length == minLengthByte {
			d.state = decodeChecksum
		} else {
			d.state = decodeParams
		}
		return nil, nil

	case decodeParams:
		d.raw = append(d.raw, b)
		d.params = append(d.params, b)
		if len(d.params) >= int(d.length)-2 {
			d.state = decodeChecksum
		}
		return nil, nil

	case decodeChecksum:
		d.raw = append(d.raw, b)
		want := Checksum(d.id, d.length, d.code, d.params)
		if want != b {
			d.Reset()
			return nil, &ChecksumError{Expected: want, Got: b}
		}

		params := make([]byte, len(d.params))
		copy(params, d.params)
		f := &Frame{
			id:        d.id,
			length:    d.length,
			code:      d.code,
			params:    params,
			checksum:  b,
			timestamp: time.Now(),
		}
		d.Reset()
		return f, nil

	default:
		d.Reset()
		return nil, &MalformedFrameError{Reason: "invalid decoder state"}
	}
}
