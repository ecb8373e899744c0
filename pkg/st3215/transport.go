// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import "time"

// Transport is a blocking byte-level link to the bus.
//
// ReadByte must return ErrReadTimeout (or an error wrapping it) when no byte
// arrives within timeout. Flush blocks until written bytes are on the wire.
type Transport interface {
	Write(p []byte) (int, error)
	ReadByte(timeout time.Duration) (byte, error)
	Flush() error
	Close() error
}

// InputResetter is implemented by transports that can discard input that
// arrived outside a transaction.
type InputResetter interface {
	ResetInput() error
}

// Opener opens a transport on path at the given baud rate.
type Opener func(path string, baudRate int) (Transport, error)
