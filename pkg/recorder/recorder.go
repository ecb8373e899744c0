// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder stores servo telemetry as a CBOR sequence.
//
// A recording is a stream of CBOR items, each a two element array
// [record_type, payload]. The first record is always a Header.
package recorder

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Record types
const (
	RecordHeader    uint8 = 0
	RecordTelemetry uint8 = 1
)

// FormatVersion is written into every header
const FormatVersion = 1

// ErrNoHeader is returned when a recording does not start with a header
var ErrNoHeader = errors.New("recorder: recording has no header")

// Header describes a recording session
type Header struct {
	Version   int       `cbor:"1,keyasint" json:"version" yaml:"version"`
	Session   string    `cbor:"2,keyasint" json:"session" yaml:"session"`
	Started   time.Time `cbor:"3,keyasint" json:"started" yaml:"started"`
	Source    string    `cbor:"4,keyasint" json:"source" yaml:"source"`
	BaudRate  int       `cbor:"5,keyasint,omitempty" json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	Library   string    `cbor:"6,keyasint" json:"library" yaml:"library"`
}

// Sample is one telemetry snapshot. Fields that could not be read are in
// Errors instead of Values.
type Sample struct {
	ID        uint8              `cbor:"1,keyasint" json:"id" yaml:"id"`
	Timestamp time.Time          `cbor:"2,keyasint" json:"timestamp" yaml:"timestamp"`
	Values    map[string]float64 `cbor:"3,keyasint" json:"values" yaml:"values"`
	Errors    map[string]string  `cbor:"4,keyasint,omitempty" json:"errors,omitempty" yaml:"errors,omitempty"`
}

// NewSample converts a telemetry snapshot
func NewSample(t *st3215.Telemetry) Sample {
	s := Sample{
		ID:        t.ID,
		Timestamp: t.Timestamp,
		Values:    make(map[string]float64),
	}
	for _, f := range t.Fields() {
		if f.Err != nil {
			if s.Errors == nil {
				s.Errors = make(map[string]string)
			}
			s.Errors[f.Name] = f.Err.Error()
			continue
		}
		s.Values[f.Name] = f.Value
	}
	return s
}

// Telemetry converts the sample back into a snapshot
func (s Sample) Telemetry() *st3215.Telemetry {
	t := &st3215.Telemetry{ID: s.ID, Timestamp: s.Timestamp}
	for name, dst := range map[string]*st3215.Reading{
		"position":    &t.Position,
		"speed":       &t.Speed,
		"load":        &t.Load,
		"voltage":     &t.Voltage,
		"current":     &t.Current,
		"temperature": &t.Temperature,
	} {
		if msg, ok := s.Errors[name]; ok {
			*dst = st3215.Reading{Err: errors.New(msg)}
			continue
		}
		*dst = st3215.Reading{Value: s.Values[name]}
	}
	return t
}

type record struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

// Writer appends records to a recording
type Writer struct {
	mu      sync.Mutex
	enc     *cbor.Encoder
	closer  io.Closer
	header  Header
	samples int
}

// NewWriter starts a recording on w and writes its header. source names
// the port or bridge the samples come from.
func NewWriter(w io.Writer, source string, baudRate int) (*Writer, error) {
	rw := &Writer{
		enc: encMode.NewEncoder(w),
		header: Header{
			Version:  FormatVersion,
			Session:  uuid.New().String(),
			Started:  time.Now().UTC(),
			Source:   source,
			BaudRate: baudRate,
			Library:  st3215.Version(),
		},
	}
	if c, ok := w.(io.Closer); ok {
		rw.closer = c
	}

	if err := rw.write(RecordHeader, rw.header); err != nil {
		return nil, errors.Wrap(err, "write header")
	}
	return rw, nil
}

// Create creates or truncates path and starts a recording in it
func Create(path, source string, baudRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create recording")
	}
	w, err := NewWriter(f, source, baudRate)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Header returns the session header
func (w *Writer) Header() Header {
	return w.header
}

// Samples returns the number of samples written
func (w *Writer) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// WriteTelemetry appends one telemetry snapshot
func (w *Writer) WriteTelemetry(t *st3215.Telemetry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.write(RecordTelemetry, NewSample(t)); err != nil {
		return errors.Wrapf(err, "write sample for servo %d", t.ID)
	}
	w.samples++
	return nil
}

func (w *Writer) write(kind uint8, payload interface{}) error {
	data, err := encMode.Marshal(payload)
	if err != nil {
		return err
	}
	return w.enc.Encode(record{Type: kind, Payload: data})
}

// Close closes the underlying writer if it is an io.Closer
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader reads a recording back
type Reader struct {
	dec    *cbor.Decoder
	closer io.Closer
	header Header
}

// NewReader reads the header from r
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{dec: cbor.NewDecoder(r)}
	if c, ok := r.(io.Closer); ok {
		rr.closer = c
	}

	var rec record
	if err := rr.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return nil, ErrNoHeader
		}
		return nil, errors.Wrap(err, "read header")
	}
	if rec.Type != RecordHeader {
		return nil, ErrNoHeader
	}
	if err := cbor.Unmarshal(rec.Payload, &rr.header); err != nil {
		return nil, errors.Wrap(err, "decode header")
	}
	if rr.header.Version > FormatVersion {
		return nil, errors.Errorf("recorder: unsupported format version %d", rr.header.Version)
	}
	return rr, nil
}

// Open opens a recording file
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open recording")
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Header returns the session header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next sample, or io.EOF at the end of the recording.
// Unknown record types are skipped.
func (r *Reader) Next() (Sample, error) {
	for {
		var rec record
		if err := r.dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return Sample{}, io.EOF
			}
			return Sample{}, errors.Wrap(err, "read record")
		}
		if rec.Type != RecordTelemetry {
			continue
		}

		var s Sample
		if err := cbor.Unmarshal(rec.Payload, &s); err != nil {
			return Sample{}, errors.Wrap(err, "decode sample")
		}
		return s, nil
	}
}

// All reads every remaining sample
func (r *Reader) All() ([]Sample, error) {
	var samples []Sample
	for {
		s, err := r.Next()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
		samples = append(samples, s)
	}
}

// Close closes the underlying reader if it is an io.Closer
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
