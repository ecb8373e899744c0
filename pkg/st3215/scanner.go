// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Default scan range
const (
	ScanFirstID = 1
	ScanLastID  = MaxServoID
)

// ScanOptions controls ListServos
type ScanOptions struct {
	From uint8
	To   uint8

	// Progress, when set, is called after each ID is probed.
	Progress func(id uint8, found bool)
}

// ScanOption modifies ScanOptions
type ScanOption func(*ScanOptions)

// ScanRange limits the scan to [from, to]
func ScanRange(from, to uint8) ScanOption {
	return func(o *ScanOptions) {
		o.From = from
		o.To = to
	}
}

// ScanProgress sets a progress callback
func ScanProgress(fn func(id uint8, found bool)) ScanOption {
	return func(o *ScanOptions) { o.Progress = fn }
}

// ListServos pings every ID in the scan range, one at a time, and returns
// the IDs that answered in ascending order. Each ID gets the full attempt
// budget before the next is probed.
func (b *Bus) ListServos(ctx context.Context, opts ...ScanOption) ([]uint8, error) {
	o := ScanOptions{From: ScanFirstID, To: ScanLastID}
	for _, opt := range opts {
		opt(&o)
	}
	if o.To > MaxID {
		return nil, &RangeError{Register: "scan end", Value: int(o.To), Min: 0, Max: MaxID}
	}
	if o.From > o.To {
		return nil, &RangeError{Register: "scan start", Value: int(o.From), Min: 0, Max: int(o.To)}
	}

	var found []uint8
	for id := int(o.From); id <= int(o.To); id++ {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		err := b.Ping(ctx, uint8(id))
		switch {
		case err == nil:
			found = append(found, uint8(id))
			b.log.Debug("servo found", zap.Int("id", id))
		case errors.Is(err, ErrClosed):
			return found, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return found, err
		case !retryable(err):
			return found, errors.Wrapf(err, "scan id %d", id)
		}

		if o.Progress != nil {
			o.Progress(uint8(id), err == nil)
		}
	}

	return found, nil
}
