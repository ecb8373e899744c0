// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"time"

	"go.uber.org/zap"
)

// Defaults
const (
	DefaultAttempts = 3
	DefaultLatency  = 50 * time.Millisecond
)

// Config holds the transaction engine settings.
type Config struct {
	// BaudRate is used to open the port and to derive timeouts.
	BaudRate int

	// Timeout is the per-attempt reply window. Zero derives it from the
	// frame sizes, BaudRate and Latency.
	Timeout time.Duration

	// Latency is the fixed allowance added to derived timeouts for USB
	// adapter buffering and servo response delay.
	Latency time.Duration

	// Attempts is the total number of tries per transaction, at least 1.
	Attempts int

	// CommandGap is the minimum spacing between frames. Zero disables it.
	CommandGap time.Duration

	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultConfig returns the defaults: 1 Mbaud, derived timeout with 50 ms
// latency, 3 attempts, no command gap and a no-op logger.
func DefaultConfig() Config {
	return Config{
		BaudRate: DefaultBaudRate,
		Latency:  DefaultLatency,
		Attempts: DefaultAttempts,
		Logger:   zap.NewNop(),
	}
}

// Option modifies a Config
type Option func(*Config)

// WithBaudRate sets the baud rate
func WithBaudRate(baud int) Option {
	return func(c *Config) { c.BaudRate = baud }
}

// WithTimeout sets a fixed per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLatency sets the latency allowance used by derived timeouts
func WithLatency(d time.Duration) Option {
	return func(c *Config) { c.Latency = d }
}

// WithAttempts sets the attempt budget per transaction
func WithAttempts(n int) Option {
	return func(c *Config) { c.Attempts = n }
}

// WithCommandGap enforces a minimum gap between frames
func WithCommandGap(d time.Duration) Option {
	return func(c *Config) { c.CommandGap = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics enables prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

func (c *Config) normalize() {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Attempts < 1 {
		c.Attempts = 1
	}
	if c.Latency < 0 {
		c.Latency = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ByteTime returns the time to transmit one byte (8N1, 10 bits) at the
// configured baud rate.
func (c Config) ByteTime() time.Duration {
	return time.Duration(float64(time.Second) * 10 / float64(c.BaudRate))
}

// AttemptTimeout returns the reply window for a request of requestLen bytes
// expecting a reply of replyLen bytes.
func (c Config) AttemptTimeout(requestLen, replyLen int) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return c.ByteTime()*time.Duration(requestLen+replyLen+3) + c.Latency
}
