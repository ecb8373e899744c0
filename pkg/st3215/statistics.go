// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Statistics tracks transaction outcomes and error rates on one bus
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Transactions   uint64
	Completed      uint64
	NoReply        uint64 // Fire-and-forget frames
	Timeouts       uint64
	ChecksumErrors uint64
	Malformed      uint64
	StatusErrors   uint64
	IOErrors       uint64
	Attempts       uint64
	Retries        uint64

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // failed transactions/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records a finished transaction
func (s *Statistics) Update(tx *Transaction) {
	s.Transactions++
	s.Attempts += uint64(tx.Attempts)
	if tx.Attempts > 1 {
		s.Retries += uint64(tx.Attempts - 1)
	}

	switch tx.State {
	case TxCompleted:
		s.Completed++
		if tx.Reply != nil && tx.Reply.Status() != 0 {
			s.StatusErrors++
		}
	case TxNoReply:
		s.NoReply++
	case TxTimedOut:
		s.Timeouts++
	case TxChecksumFailed:
		var me *MalformedFrameError
		if errors.As(tx.Err, &me) {
			s.Malformed++
		} else {
			s.ChecksumErrors++
		}
	default:
		s.IOErrors++
	}

	s.LastUpdateTime = time.Now()
}

// Errors returns the number of transactions that did not complete
func (s *Statistics) Errors() uint64 {
	return s.Timeouts + s.ChecksumErrors + s.Malformed + s.IOErrors
}

// CalculateRates calculates transaction and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.Transactions) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.Transactions == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.Transactions)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Transactions:    %8d\n", s.Transactions)
	result += fmt.Sprintf("Completed:       %8d (%.1f%%)\n", s.Completed, percent(s.Completed))
	if s.NoReply > 0 {
		result += fmt.Sprintf("No Reply:        %8d (%.1f%%)\n", s.NoReply, percent(s.NoReply))
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, percent(s.Timeouts))
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, percent(s.Malformed))
	}
	if s.StatusErrors > 0 {
		result += fmt.Sprintf("Servo Errors:    %8d (%.1f%%)\n", s.StatusErrors, percent(s.StatusErrors))
	}
	if s.IOErrors > 0 {
		result += fmt.Sprintf("I/O Errors:      %8d (%.1f%%)\n", s.IOErrors, percent(s.IOErrors))
	}
	if s.Retries > 0 {
		result += fmt.Sprintf("  Retries:          %5d\n", s.Retries)
	}

	result += fmt.Sprintf("Transaction Rate:%8.1f tx/sec\n", s.TransactionRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
