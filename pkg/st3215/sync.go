// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SyncWrite writes width bytes at address on every listed servo with one
// broadcast frame. No servo replies to it.
func (b *Bus) SyncWrite(ctx context.Context, address uint8, width int, entries []SyncWriteEntry) error {
	for _, e := range entries {
		if err := validateTarget(e.ID); err != nil {
			return err
		}
	}
	frame, err := NewSyncWriteFrame(address, width, entries)
	if err != nil {
		return err
	}
	_, err = b.Transact(ctx, frame)
	return err
}

// SyncWriteValues encodes one value per servo for reg and sync-writes them.
func (b *Bus) SyncWriteValues(ctx context.Context, reg Register, values map[uint8]int) error {
	entries := make([]SyncWriteEntry, 0, len(values))
	for _, id := range sortedIDs(values) {
		data, err := reg.Encode(values[id])
		if err != nil {
			return err
		}
		entries = append(entries, SyncWriteEntry{ID: id, Data: data})
	}
	return b.SyncWrite(ctx, reg.Address, reg.Width, entries)
}

// Goal is one servo's target for SyncMoveTo
type Goal struct {
	ID       uint8
	Position int
	Time     int
	Speed    int
}

// SyncMoveTo starts a move on every listed servo with one SYNC_WRITE of
// goal position, time and speed.
func (b *Bus) SyncMoveTo(ctx context.Context, goals []Goal) error {
	entries := make([]SyncWriteEntry, 0, len(goals))
	for _, g := range goals {
		data, err := encodeGoal(g.Position, g.Time, g.Speed)
		if err != nil {
			return err
		}
		entries = append(entries, SyncWriteEntry{ID: g.ID, Data: data})
	}
	return b.SyncWrite(ctx, RegGoalPosition.Address, 6, entries)
}

// SyncReadResult is one servo's answer to a SYNC_READ
type SyncReadResult struct {
	Data []byte
	Err  error
}

// SyncRead reads length bytes at address from every listed servo with one
// broadcast SYNC_READ. Replies are collected within one window sized for
// all of them and matched by ID, so a missing or corrupt reply only fails
// that servo's entry.
//
// SyncRead is not retried: a second request could collide with late
// replies to the first.
func (b *Bus) SyncRead(ctx context.Context, address uint8, length int, ids []uint8) (map[uint8]SyncReadResult, error) {
	if length < 1 || length > MaxParamSize-MinFrameSize {
		return nil, &RangeError{Register: "read length", Value: length, Min: 1, Max: MaxParamSize - MinFrameSize}
	}
	for _, id := range ids {
		if err := validateTarget(id); err != nil {
			return nil, err
		}
	}
	req, err := NewSyncReadFrame(address, uint8(length), ids)
	if err != nil {
		return nil, err
	}
	wire, err := Encode(req.ID(), req.Instruction(), req.Params())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	tx := &Transaction{Request: req, Attempts: 1}
	tx.State, _, tx.Err = b.attempt(ctx, req, wire, false)
	if tx.Err != nil {
		tx.Elapsed = time.Since(start)
		b.record(tx)
		return nil, tx.Err
	}

	pending := make(map[uint8]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}
	results := make(map[uint8]SyncReadResult, len(ids))

	var corrupt, malformed error
	replyLen := len(ids) * (MinFrameSize + length)
	deadline := time.Now().Add(b.cfg.AttemptTimeout(len(wire), replyLen))
	b.decoder.Reset()

	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		c, err := b.transport.ReadByte(remaining)
		if err != nil {
			if !IsTimeout(err) {
				corrupt = err
			}
			break
		}

		frame, err := b.decoder.DecodeByte(c)
		if err != nil {
			corrupt = err
			b.log.Debug("sync read frame dropped", zap.Error(err))
			continue
		}
		if frame == nil || !pending[frame.ID()] {
			continue
		}
		delete(pending, frame.ID())

		switch {
		case len(frame.Params()) != length:
			malformed = &MalformedFrameError{Reason: "sync read reply size mismatch", Len: len(frame.Params())}
			results[frame.ID()] = SyncReadResult{Err: malformed}
		case frame.Status() != 0:
			results[frame.ID()] = SyncReadResult{Data: frame.Params(), Err: frame.Status()}
		default:
			results[frame.ID()] = SyncReadResult{Data: frame.Params()}
		}
	}

	for id := range pending {
		if corrupt != nil {
			results[id] = SyncReadResult{Err: corrupt}
		} else {
			results[id] = SyncReadResult{Err: &TimeoutError{ID: id, Attempts: 1}}
		}
	}

	tx.Elapsed = time.Since(start)
	switch {
	case malformed != nil:
		tx.State, tx.Err = TxChecksumFailed, malformed
	case len(pending) == 0:
		tx.State = TxCompleted
	case corrupt != nil:
		tx.State, tx.Err = TxChecksumFailed, corrupt
	default:
		tx.State, tx.Err = TxTimedOut, ErrReadTimeout
	}
	b.record(tx)

	return results, nil
}

// SyncReadValues sync-reads reg from every listed servo and decodes it.
func (b *Bus) SyncReadValues(ctx context.Context, reg Register, ids []uint8) (map[uint8]int, map[uint8]error, error) {
	results, err := b.SyncRead(ctx, reg.Address, reg.Width, ids)
	if err != nil {
		return nil, nil, err
	}

	values := make(map[uint8]int, len(results))
	failures := make(map[uint8]error)
	for id, r := range results {
		if r.Err != nil {
			failures[id] = r.Err
			continue
		}
		v, err := reg.Decode(r.Data)
		if err != nil {
			failures[id] = err
			continue
		}
		values[id] = v
	}
	return values, failures, nil
}

func sortedIDs(m map[uint8]int) []uint8 {
	ids := make([]uint8, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
