// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TxState is the state of a transaction
type TxState int

const (
	TxIdle TxState = iota
	TxSent
	TxCompleted      // Reply received and validated
	TxTimedOut       // No complete reply within the window
	TxChecksumFailed // Reply corrupt, malformed or from the wrong servo
	TxNoReply        // Fire-and-forget frame sent, no reply expected
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxSent:
		return "sent"
	case TxCompleted:
		return "completed"
	case TxTimedOut:
		return "timed_out"
	case TxChecksumFailed:
		return "checksum_failed"
	case TxNoReply:
		return "no_reply"
	default:
		return "unknown"
	}
}

// Succeeded reports whether s is a successful terminal state
func (s TxState) Succeeded() bool {
	return s == TxCompleted || s == TxNoReply
}

// Transaction pairs one request with at most one reply
type Transaction struct {
	Request  *Frame
	Reply    *Frame
	State    TxState
	Attempts int
	Elapsed  time.Duration
	Err      error // Last attempt error
}

// Bus owns one transport. Every transaction on the line is serialized
// through it: the lock is held from the first write until the last attempt
// reaches a terminal state.
type Bus struct {
	mu        sync.Mutex
	transport Transport
	closed    bool
	decoder   *Decoder
	limiter   *rate.Limiter

	cfg Config
	log *zap.Logger

	statsMu sync.Mutex
	stats   *Statistics
}

// New creates a Bus over an already open transport.
func New(t Transport, opts ...Option) *Bus {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	b := &Bus{
		transport: t,
		decoder:   NewDecoder(),
		cfg:       cfg,
		log:       cfg.Logger,
		stats:     NewStatistics(),
	}
	if cfg.CommandGap > 0 {
		b.limiter = rate.NewLimiter(rate.Every(cfg.CommandGap), 1)
	}
	return b
}

// Open opens path with open and returns a Bus owning the transport.
func Open(path string, open Opener, opts ...Option) (*Bus, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.normalize()

	t, err := open(path, cfg.BaudRate)
	if err != nil {
		var oe *OpenError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, &OpenError{Path: path, Err: err}
	}

	cfg.Logger.Info("bus opened",
		zap.String("path", path),
		zap.Int("baud", cfg.BaudRate),
		zap.Int("attempts", cfg.Attempts),
		zap.Duration("timeout", cfg.Timeout))

	return New(t, func(c *Config) { *c = cfg }), nil
}

// Close releases the transport. Later calls fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.log.Info("bus closed")
	return b.transport.Close()
}

// Config returns the effective configuration
func (b *Bus) Config() Config {
	return b.cfg
}

// Stats returns a snapshot of the transaction statistics
func (b *Bus) Stats() Statistics {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	s := *b.stats
	s.CalculateRates()
	return s
}

// ResetStats clears the transaction statistics
func (b *Bus) ResetStats() {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.Reset()
}

// Transact runs req to a terminal state and returns the reply frame, which
// is nil for fire-and-forget requests. A reply carrying a non-zero status
// byte is returned together with its StatusError.
func (b *Bus) Transact(ctx context.Context, req *Frame) (*Frame, error) {
	tx, err := b.Do(ctx, req)
	if tx == nil {
		return nil, err
	}
	return tx.Reply, err
}

// Do runs req to a terminal state, retrying timeouts and corrupt replies up
// to the configured attempt budget, and returns the transaction record.
func (b *Bus) Do(ctx context.Context, req *Frame) (*Transaction, error) {
	return b.run(ctx, req, req.ExpectsReply())
}

// Send writes req without waiting for a reply even when the servo sends one.
// The next transaction discards the unread reply.
func (b *Bus) Send(ctx context.Context, req *Frame) error {
	_, err := b.run(ctx, req, false)
	return err
}

func (b *Bus) run(ctx context.Context, req *Frame, expectReply bool) (*Transaction, error) {
	wire, err := Encode(req.ID(), req.Instruction(), req.Params())
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	tx := &Transaction{Request: req, State: TxIdle}
	start := time.Now()

	for tx.Attempts < b.cfg.Attempts {
		if err := ctx.Err(); err != nil {
			if tx.Attempts == 0 {
				return nil, err
			}
			break
		}

		tx.Attempts++
		tx.State, tx.Reply, tx.Err = b.attempt(ctx, req, wire, expectReply)
		if tx.Err == nil {
			break
		}

		b.log.Debug("attempt failed",
			zap.Uint8("id", req.ID()),
			zap.String("instruction", FormatInstruction(req.Instruction())),
			zap.Int("attempt", tx.Attempts),
			zap.Stringer("state", tx.State),
			zap.Error(tx.Err))

		if !retryable(tx.Err) {
			break
		}
	}
	tx.Elapsed = time.Since(start)

	b.record(tx)

	if tx.Err != nil {
		if tx.State == TxTimedOut || tx.State == TxChecksumFailed {
			b.log.Warn("transaction failed",
				zap.Uint8("id", req.ID()),
				zap.String("instruction", FormatInstruction(req.Instruction())),
				zap.Int("attempts", tx.Attempts),
				zap.Error(tx.Err))
		}
		if tx.State == TxTimedOut {
			return tx, &TimeoutError{ID: req.ID(), Attempts: tx.Attempts}
		}
		return tx, errors.Wrapf(tx.Err, "servo %d %s after %d attempt(s)",
			req.ID(), FormatInstruction(req.Instruction()), tx.Attempts)
	}

	if tx.Reply != nil && tx.Reply.Status() != 0 {
		return tx, tx.Reply.Status()
	}
	return tx, nil
}

// attempt performs one send and, when a reply is expected, one read window.
func (b *Bus) attempt(ctx context.Context, req *Frame, wire []byte, expectReply bool) (TxState, *Frame, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return TxIdle, nil, err
		}
	}

	if r, ok := b.transport.(InputResetter); ok {
		if err := r.ResetInput(); err != nil {
			b.log.Debug("reset input failed", zap.Error(err))
		}
	}

	if _, err := b.transport.Write(wire); err != nil {
		return TxIdle, nil, errors.Wrap(err, "write frame")
	}
	if err := b.transport.Flush(); err != nil {
		return TxSent, nil, errors.Wrap(err, "flush frame")
	}

	if !expectReply {
		return TxNoReply, nil, nil
	}

	timeout := b.cfg.AttemptTimeout(len(wire), replySize(req))
	reply, err := b.readReply(req.ID(), timeout)
	switch {
	case err == nil:
		if err := checkReplySize(req, reply); err != nil {
			return TxChecksumFailed, nil, err
		}
		return TxCompleted, reply, nil
	case IsTimeout(err):
		return TxTimedOut, nil, err
	case IsChecksumClass(err):
		return TxChecksumFailed, nil, err
	default:
		var me *MalformedFrameError
		if errors.As(err, &me) {
			return TxChecksumFailed, nil, err
		}
		return TxSent, nil, err
	}
}

// readReply scans for one status frame from id within timeout. Stray bytes
// before a header are discarded by the decoder. Only the first complete
// frame in the window is considered.
func (b *Bus) readReply(id uint8, timeout time.Duration) (*Frame, error) {
	b.decoder.Reset()
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReadTimeout
		}

		c, err := b.transport.ReadByte(remaining)
		if err != nil {
			return nil, err
		}

		frame, err := b.decoder.DecodeByte(c)
		if err != nil {
			return nil, err
		}
		if frame == nil {
			continue
		}

		if frame.ID() != id {
			return nil, &UnexpectedReplyError{Expected: id, Got: frame.ID()}
		}
		return frame, nil
	}
}

func (b *Bus) record(tx *Transaction) {
	b.statsMu.Lock()
	b.stats.Update(tx)
	b.statsMu.Unlock()

	b.cfg.Metrics.observe(tx)
}

// replySize returns the expected status frame size for req
func replySize(req *Frame) int {
	if req.Instruction() == InstRead && len(req.Params()) == 2 {
		return MinFrameSize + int(req.Params()[1])
	}
	return MinFrameSize
}

// checkReplySize rejects a READ reply whose data length differs from the
// requested length. Replies carrying a status error are left to the caller.
func checkReplySize(req, reply *Frame) error {
	if req.Instruction() != InstRead || len(req.Params()) != 2 || reply.Status() != 0 {
		return nil
	}
	if len(reply.Params()) != int(req.Params()[1]) {
		return &MalformedFrameError{Reason: "read reply size mismatch", Len: len(reply.Params())}
	}
	return nil
}
