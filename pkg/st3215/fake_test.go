// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ============================================================
// Simulated Bus
// ============================================================

// fakeServo is a control table that answers like a real servo
type fakeServo struct {
	id     uint8
	regs   [256]byte
	status uint8
	silent bool
	staged []byte // REG_WRITE parameters waiting for ACTION
}

func newFakeServo(id uint8) *fakeServo {
	s := &fakeServo{id: id}
	s.regs[RegID.Address] = id
	s.regs[RegModel.Address] = byte(ModelSTS3215 & 0xFF)
	s.regs[RegModel.Address+1] = byte(ModelSTS3215 >> 8)
	s.regs[RegPresentVoltage.Address] = 74
	s.regs[RegPresentTemp.Address] = 31
	return s
}

func (s *fakeServo) set16(address uint8, v uint16) {
	s.regs[address] = byte(v)
	s.regs[address+1] = byte(v >> 8)
}

func (s *fakeServo) write(address uint8, data []byte) {
	copy(s.regs[address:], data)
	// The simulated motor reaches its goal instantly
	if address <= RegGoalPosition.Address && int(address)+len(data) >= int(RegGoalPosition.Address)+2 {
		copy(s.regs[RegPresentPosition.Address:RegPresentPosition.Address+2], s.regs[RegGoalPosition.Address:RegGoalPosition.Address+2])
	}
	if address == RegID.Address && len(data) > 0 {
		s.id = data[0]
	}
}

// fakeTransport implements Transport over a set of simulated servos
type fakeTransport struct {
	mu sync.Mutex

	servos  map[uint8]*fakeServo
	rx      []byte
	written [][]byte

	readCalls  int
	flushCalls int
	resets     int
	closed     bool
	writeErr   error

	// mangle, when set, may rewrite a reply before it is queued
	mangle func(req *Frame, reply []byte) []byte
}

func newFakeTransport(servos ...*fakeServo) *fakeTransport {
	t := &fakeTransport{servos: map[uint8]*fakeServo{}}
	for _, s := range servos {
		t.servos[s.id] = s
	}
	return t
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, errors.New("write on closed port")
	}
	if t.writeErr != nil {
		return 0, t.writeErr
	}

	t.written = append(t.written, append([]byte(nil), p...))

	req, err := Decode(p)
	if err != nil {
		return len(p), nil
	}
	t.handle(req)
	return len(p), nil
}

func (t *fakeTransport) handle(req *Frame) {
	params := req.Params()

	if req.IsBroadcast() {
		switch req.Instruction() {
		case InstWrite:
			for _, s := range t.servos {
				s.write(params[0], params[1:])
			}
		case InstSyncWrite:
			width := int(params[1])
			for i := 2; i+1+width <= len(params); i += 1 + width {
				if s, ok := t.servos[params[i]]; ok {
					s.write(params[0], params[i+1:i+1+width])
				}
			}
		case InstAction:
			for _, s := range t.servos {
				if s.staged != nil {
					s.write(s.staged[0], s.staged[1:])
					s.staged = nil
				}
			}
		case InstSyncRead:
			address, length := params[0], int(params[1])
			for _, id := range params[2:] {
				if s, ok := t.servos[id]; ok && !s.silent {
					t.reply(req, s, s.regs[address:int(address)+length])
				}
			}
		}
		return
	}

	s, ok := t.servos[req.ID()]
	if !ok || s.silent {
		return
	}

	switch req.Instruction() {
	case InstPing:
		t.reply(req, s, nil)
	case InstRead:
		address, length := params[0], int(params[1])
		t.reply(req, s, append([]byte(nil), s.regs[address:int(address)+length]...))
	case InstWrite:
		id := s.id
		s.write(params[0], params[1:])
		if s.id != id {
			delete(t.servos, id)
			t.servos[s.id] = s
		}
		t.reply(req, s, nil)
	case InstRegWrite:
		s.staged = append([]byte(nil), params...)
		t.reply(req, s, nil)
	case InstAction:
	default:
		t.reply(req, s, nil)
	}
}

func (t *fakeTransport) reply(req *Frame, s *fakeServo, params []byte) {
	data := MustEncode(s.id, s.status, params)
	if t.mangle != nil {
		data = t.mangle(req, data)
	}
	t.rx = append(t.rx, data...)
}

func (t *fakeTransport) ReadByte(timeout time.Duration) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readCalls++
	if len(t.rx) == 0 {
		return 0, ErrReadTimeout
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, nil
}

func (t *fakeTransport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushCalls++
	return nil
}

func (t *fakeTransport) ResetInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets++
	t.rx = nil
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) writes() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.written...)
}

func (t *fakeTransport) reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readCalls
}

// corruptChecksum flips the checksum byte of every reply
func corruptChecksum(req *Frame, reply []byte) []byte {
	reply[len(reply)-1] ^= 0xFF
	return reply
}

// shortenReply re-encodes a reply with its last data byte dropped, keeping
// the checksum valid
func shortenReply(req *Frame, reply []byte) []byte {
	f, err := Decode(reply)
	if err != nil || len(f.Params()) == 0 {
		return reply
	}
	return MustEncode(f.ID(), f.Instruction(), f.Params()[:len(f.Params())-1])
}

// newFakeBus returns a bus over simulated servos with the given IDs
func newFakeBus(ids ...uint8) (*Bus, *fakeTransport) {
	servos := make([]*fakeServo, 0, len(ids))
	for _, id := range ids {
		servos = append(servos, newFakeServo(id))
	}
	ft := newFakeTransport(servos...)
	return New(ft, WithTimeout(5*time.Millisecond)), ft
}
