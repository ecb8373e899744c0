// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte links a servo bus runs over: a local
// serial port and a serial-over-WebSocket bridge.
package transport

import (
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Serial wraps a serial port as an st3215.Transport
type Serial struct {
	port    serial.Port
	path    string
	buf     []byte
	off     int
	n       int
	timeout time.Duration // Last value passed to SetReadTimeout
}

// OpenSerial opens path at baudRate, 8N1. It matches st3215.Opener.
func OpenSerial(path string, baudRate int) (st3215.Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &st3215.OpenError{Path: path, Err: err}
	}

	s := NewSerial(port, path)
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, &st3215.OpenError{Path: path, Err: err}
	}
	return s, nil
}

// NewSerial wraps an already open port
func NewSerial(port serial.Port, path string) *Serial {
	return &Serial{
		port: port,
		path: path,
		buf:  make([]byte, 256),
	}
}

// Path returns the device path
func (s *Serial) Path() string {
	return s.path
}

func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	if err != nil {
		return n, errors.Wrapf(err, "write %s", s.path)
	}
	return n, nil
}

// ReadByte returns the next received byte, waiting up to timeout.
func (s *Serial) ReadByte(timeout time.Duration) (byte, error) {
	if s.off < s.n {
		b := s.buf[s.off]
		s.off++
		return b, nil
	}

	if timeout <= 0 {
		return 0, st3215.ErrReadTimeout
	}
	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, errors.Wrapf(err, "set read timeout on %s", s.path)
		}
		s.timeout = timeout
	}

	n, err := s.port.Read(s.buf)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", s.path)
	}
	// go.bug.st/serial reports a timeout as a zero-length read
	if n == 0 {
		return 0, st3215.ErrReadTimeout
	}

	s.off, s.n = 1, n
	return s.buf[0], nil
}

// Flush waits until everything written has left the UART
func (s *Serial) Flush() error {
	return s.port.Drain()
}

// ResetInput discards received but unread bytes
func (s *Serial) ResetInput() error {
	s.off, s.n = 0, 0
	return s.port.ResetInputBuffer()
}

func (s *Serial) Close() error {
	return s.port.Close()
}
