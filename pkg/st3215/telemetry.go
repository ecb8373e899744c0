// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Reading is one telemetry field. Err is set when that field's read failed;
// Value is then zero and must not be used.
type Reading struct {
	Value float64 `json:"value" yaml:"value" cbor:"value"`
	Err   error   `json:"-" yaml:"-" cbor:"-"`
}

// OK reports whether the field was read
func (r Reading) OK() bool {
	return r.Err == nil
}

// Telemetry is a snapshot of one servo's live registers. Each field comes
// from its own transaction.
type Telemetry struct {
	ID          uint8     `json:"id" yaml:"id" cbor:"id"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp" cbor:"timestamp"`
	Position    Reading   `json:"position" yaml:"position" cbor:"position"`
	Speed       Reading   `json:"speed" yaml:"speed" cbor:"speed"`
	Load        Reading   `json:"load" yaml:"load" cbor:"load"`
	Voltage     Reading   `json:"voltage" yaml:"voltage" cbor:"voltage"`
	Current     Reading   `json:"current" yaml:"current" cbor:"current"`
	Temperature Reading   `json:"temperature" yaml:"temperature" cbor:"temperature"`
}

// Fields returns the readings in display order with their names and units
func (t *Telemetry) Fields() []TelemetryField {
	return []TelemetryField{
		{Name: "position", Unit: "step", Reading: t.Position},
		{Name: "speed", Unit: "step/s", Reading: t.Speed},
		{Name: "load", Unit: "%", Reading: t.Load},
		{Name: "voltage", Unit: "V", Reading: t.Voltage},
		{Name: "current", Unit: "mA", Reading: t.Current},
		{Name: "temperature", Unit: "°C", Reading: t.Temperature},
	}
}

// Failed returns the number of fields that could not be read
func (t *Telemetry) Failed() int {
	n := 0
	for _, f := range t.Fields() {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// TelemetryField is a named Reading
type TelemetryField struct {
	Name string
	Unit string
	Reading
}

// ReadTelemetry reads position, speed, load, voltage, current and
// temperature. A failed field does not stop the others. The returned error
// is only set for an invalid id, a closed bus or a cancelled context.
func (b *Bus) ReadTelemetry(ctx context.Context, id uint8) (*Telemetry, error) {
	if err := validateTarget(id); err != nil {
		return nil, err
	}

	t := &Telemetry{ID: id, Timestamp: time.Now()}

	for _, f := range []struct {
		dst *Reading
		reg Register
	}{
		{&t.Position, RegPresentPosition},
		{&t.Speed, RegPresentSpeed},
		{&t.Load, RegPresentLoad},
		{&t.Voltage, RegPresentVoltage},
		{&t.Current, RegPresentCurrent},
		{&t.Temperature, RegPresentTemp},
	} {
		v, err := b.readScaled(ctx, id, f.reg)
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		*f.dst = Reading{Value: v, Err: err}
	}

	return t, nil
}
