// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		id       uint8
		length   uint8
		code     uint8
		params   []byte
		expected uint8
	}{
		{
			name:     "ping id 1",
			id:       1,
			length:   2,
			code:     InstPing,
			expected: 0xFB,
		},
		{
			name:     "read present position of id 1",
			id:       1,
			length:   4,
			code:     InstRead,
			params:   []byte{0x38, 0x02},
			expected: 0xBE,
		},
		{
			name:     "sum wraps past 0xFF",
			id:       0xFE,
			length:   4,
			code:     InstWrite,
			params:   []byte{0x28, 0x01},
			expected: 0xD1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Checksum(tt.id, tt.length, tt.code, tt.params)
			if got != tt.expected {
				t.Errorf("Checksum = 0x%02X, expected 0x%02X", got, tt.expected)
			}
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncode_PingFrame(t *testing.T) {
	data, err := Encode(1, InstPing, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	expected := []byte{0xFF, 0xFF, 0x01, 0x02, 0x01, 0xFB}
	if !bytes.Equal(data, expected) {
		t.Errorf("Encode = % X, expected % X", data, expected)
	}
}

func TestEncode_LengthField(t *testing.T) {
	params := []byte{0x2A, 0x00, 0x08, 0x00, 0x00, 0xE8, 0x03}
	data, err := Encode(1, InstWrite, params)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if data[3] != uint8(len(params)+2) {
		t.Errorf("length byte = %d, expected %d", data[3], len(params)+2)
	}
	if len(data) != MinFrameSize+len(params) {
		t.Errorf("frame size = %d, expected %d", len(data), MinFrameSize+len(params))
	}
}

func TestEncode_MaxSize(t *testing.T) {
	if _, err := Encode(1, InstWrite, make([]byte, MaxParamSize)); err != nil {
		t.Errorf("Encode of %d parameter bytes failed: %v", MaxParamSize, err)
	}

	_, err := Encode(1, InstWrite, make([]byte, MaxParamSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestMustEncode_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustEncode did not panic on oversized frame")
		}
	}()
	MustEncode(1, InstWrite, make([]byte, MaxParamSize+1))
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		id     uint8
		code   uint8
		params []byte
	}{
		{"ping", 1, InstPing, nil},
		{"read", 7, InstRead, []byte{0x38, 0x02}},
		{"status with data", 3, 0x00, []byte{0x00, 0x08}},
		{"status with error", 3, StatusOverheat | StatusOverload, nil},
		{"broadcast sync write", BroadcastID, InstSyncWrite, []byte{0x2A, 0x02, 0x01, 0x00, 0x08, 0x02, 0xFF, 0x0F}},
		{"max params", 0, InstWrite, bytes.Repeat([]byte{0xAB}, MaxParamSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MustEncode(tt.id, tt.code, tt.params)
			f, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if f.ID() != tt.id {
				t.Errorf("ID = %d, expected %d", f.ID(), tt.id)
			}
			if f.Instruction() != tt.code {
				t.Errorf("code = 0x%02X, expected 0x%02X", f.Instruction(), tt.code)
			}
			if !bytes.Equal(f.Params(), tt.params) && !(len(f.Params()) == 0 && len(tt.params) == 0) {
				t.Errorf("params = % X, expected % X", f.Params(), tt.params)
			}
		})
	}
}

func TestDecode_SingleBitFlip(t *testing.T) {
	data := MustEncode(5, InstWrite, []byte{0x2A, 0x00, 0x08, 0xE8, 0x03})

	// Every bit from the ID byte up to the last parameter byte
	for i := HeaderSize; i < len(data)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), data...)
			corrupted[i] ^= 1 << bit

			_, err := Decode(corrupted)
			var ce *ChecksumError
			if !errors.As(err, &ce) {
				t.Fatalf("byte %d bit %d: expected ChecksumError, got %v", i, bit, err)
			}
		}
	}
}

func TestDecode_HeaderBitFlip(t *testing.T) {
	data := MustEncode(5, InstWrite, []byte{0x2A, 0x00, 0x08, 0xE8, 0x03})

	// The header is outside the checksum; a damaged header means no frame
	for i := 0; i < HeaderSize; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), data...)
			corrupted[i] ^= 1 << bit

			_, err := Decode(corrupted)
			var me *MalformedFrameError
			if !errors.As(err, &me) {
				t.Fatalf("byte %d bit %d: expected MalformedFrameError, got %v", i, bit, err)
			}
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	valid := MustEncode(1, 0, []byte{0x00, 0x08})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{0xFF, 0xFF, 0x01, 0x02}},
		{"bad header", append([]byte{0xFF, 0x00}, valid[2:]...)},
		{"truncated", valid[:len(valid)-1]},
		{"trailing byte", append(append([]byte(nil), valid...), 0x00)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.data)
			if err == nil {
				t.Fatalf("expected error, got frame %+v", f)
			}
			if f != nil {
				t.Error("partial frame returned with error")
			}
		})
	}
}

func TestDecode_LengthMismatchWithValidChecksum(t *testing.T) {
	// Declares 3 parameter bytes but carries 2, checksum computed over
	// what is present
	data := []byte{0xFF, 0xFF, 0x01, 0x05, 0x00, 0x10, 0x20}
	data = append(data, checksumBody(data[2:]))

	_, err := Decode(data)
	var me *MalformedFrameError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedFrameError, got %v", err)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func decodeAll(t *testing.T, d *Decoder, data []byte) ([]*Frame, []error) {
	t.Helper()
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func TestDecoder_SimpleFrame(t *testing.T) {
	d := NewDecoder()
	frames, errs := decodeAll(t, d, MustEncode(1, 0, []byte{0x00, 0x08}))

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].ID() != 1 || !bytes.Equal(frames[0].Params(), []byte{0x00, 0x08}) {
		t.Errorf("unexpected frame: id=%d params=% X", frames[0].ID(), frames[0].Params())
	}
}

func TestDecoder_SkipsStrayBytes(t *testing.T) {
	d := NewDecoder()
	stream := append([]byte{0x00, 0x13, 0xFF, 0x42}, MustEncode(2, 0, nil)...)

	frames, errs := decodeAll(t, d, stream)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 || frames[0].ID() != 2 {
		t.Fatalf("expected one frame from id 2, got %d", len(frames))
	}
	if d.Skipped() != 4 {
		t.Errorf("Skipped = %d, expected 4", d.Skipped())
	}
}

func TestDecoder_ExtraHeaderBytes(t *testing.T) {
	d := NewDecoder()
	stream := append([]byte{0xFF}, MustEncode(9, 0, []byte{0x01})...)

	frames, errs := decodeAll(t, d, stream)
	if len(errs) != 0 || len(frames) != 1 || frames[0].ID() != 9 {
		t.Fatalf("expected one frame from id 9, got %d frames, errors %v", len(frames), errs)
	}
}

func TestDecoder_ChecksumErrorThenRecover(t *testing.T) {
	d := NewDecoder()
	bad := MustEncode(1, 0, []byte{0x10})
	bad[len(bad)-1] ^= 0x01
	stream := append(bad, MustEncode(1, 0, []byte{0x11})...)

	frames, errs := decodeAll(t, d, stream)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	var ce *ChecksumError
	if !errors.As(errs[0], &ce) {
		t.Errorf("expected ChecksumError, got %v", errs[0])
	}
	if len(frames) != 1 || frames[0].Params()[0] != 0x11 {
		t.Fatalf("expected the second frame to decode")
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	d := NewDecoder()
	frames, errs := decodeAll(t, d, []byte{0xFF, 0xFF, 0x01, 0x01})

	if len(frames) != 0 {
		t.Fatal("frame decoded from invalid length")
	}
	var me *MalformedFrameError
	if len(errs) != 1 || !errors.As(errs[0], &me) {
		t.Fatalf("expected MalformedFrameError, got %v", errs)
	}
	if d.InFrame() {
		t.Error("decoder should be searching for a header after an invalid length")
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	decodeAll(t, d, []byte{0xFF, 0xFF, 0x01})
	if !d.InFrame() || len(d.RawBytes()) != 3 {
		t.Fatalf("decoder should hold a partial frame")
	}

	d.Reset()
	if d.InFrame() || len(d.RawBytes()) != 0 {
		t.Error("Reset did not clear the partial frame")
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestFrame_ExpectsReply(t *testing.T) {
	tests := []struct {
		name     string
		frame    *Frame
		expected bool
	}{
		{"ping", NewPingFrame(1), true},
		{"read", NewReadFrame(1, 56, 2), true},
		{"broadcast write", NewWriteFrame(BroadcastID, 40, []byte{1}), false},
		{"action", NewActionFrame(3), false},
		{"sync write", NewFrame(BroadcastID, InstSyncWrite, []byte{42, 1, 1, 0}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.ExpectsReply(); got != tt.expected {
				t.Errorf("ExpectsReply = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestNewSyncWriteFrame(t *testing.T) {
	f, err := NewSyncWriteFrame(42, 2, []SyncWriteEntry{
		{ID: 1, Data: []byte{0x00, 0x08}},
		{ID: 2, Data: []byte{0xFF, 0x0F}},
	})
	if err != nil {
		t.Fatalf("NewSyncWriteFrame failed: %v", err)
	}

	expected := []byte{42, 2, 1, 0x00, 0x08, 2, 0xFF, 0x0F}
	if !bytes.Equal(f.Params(), expected) {
		t.Errorf("params = % X, expected % X", f.Params(), expected)
	}
	if !f.IsBroadcast() || f.Instruction() != InstSyncWrite {
		t.Error("sync write must be a broadcast SYNC_WRITE")
	}

	_, err = NewSyncWriteFrame(42, 2, []SyncWriteEntry{{ID: 1, Data: []byte{0x00}}})
	var me *MalformedFrameError
	if !errors.As(err, &me) {
		t.Errorf("expected MalformedFrameError for short entry, got %v", err)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatInstruction(t *testing.T) {
	if got := FormatInstruction(InstSyncWrite); got != "SYNC_WRITE" {
		t.Errorf("FormatInstruction(0x83) = %s", got)
	}
	if got := FormatInstruction(0x42); got != "UNKNOWN_0x42" {
		t.Errorf("FormatInstruction(0x42) = %s", got)
	}
}

func TestFormatFrame_Write(t *testing.T) {
	out := FormatFrame(NewWriteFrame(1, RegGoalPosition.Address, []byte{0x00, 0x08}), Request)
	for _, want := range []string{"WRITE", "id=1", "GOAL_POSITION", "Value: 2048"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatFrame_StatusError(t *testing.T) {
	out := FormatFrame(NewFrame(4, StatusOverheat, nil), Reply)
	if !strings.Contains(out, "overheat") {
		t.Errorf("FormatFrame output missing flag name:\n%s", out)
	}
}

func TestStatusError_Flags(t *testing.T) {
	e := StatusError(StatusVoltage | StatusOverload)
	if !e.Has(StatusVoltage) || !e.Has(StatusOverload) || e.Has(StatusAngle) {
		t.Errorf("Has reports wrong flags for 0x%02X", uint8(e))
	}
	if msg := e.Error(); !strings.Contains(msg, "voltage") || !strings.Contains(msg, "overload") {
		t.Errorf("Error() = %q", msg)
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateFrame_ReadOnlyWrite(t *testing.T) {
	errs := ValidateFrame(NewWriteFrame(1, RegPresentPosition.Address, []byte{0, 0}), Request)
	if len(errs) != 1 || errs[0].Type != AnomalyReadOnlyWrite {
		t.Fatalf("expected one read-only anomaly, got %v", errs)
	}
}

func TestValidateFrame_ServoError(t *testing.T) {
	errs := ValidateFrame(NewFrame(2, StatusOverload, nil), Reply)
	if len(errs) != 1 || errs[0].Type != AnomalyServoError {
		t.Fatalf("expected one servo error anomaly, got %v", errs)
	}
}

func TestValidateTelemetry(t *testing.T) {
	tel := &Telemetry{
		ID:          1,
		Temperature: Reading{Value: 80},
		Voltage:     Reading{Value: 3.9},
		Load:        Reading{Err: errors.New("timeout")},
	}
	errs := ValidateTelemetry(tel, DefaultLimits())
	if len(errs) != 2 {
		t.Fatalf("expected 2 anomalies, got %d: %v", len(errs), errs)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(&Transaction{State: TxCompleted, Attempts: 1, Reply: NewFrame(1, 0, nil)})
	s.Update(&Transaction{State: TxTimedOut, Attempts: 3})
	s.Update(&Transaction{State: TxChecksumFailed, Attempts: 2, Err: &ChecksumError{}})
	s.Update(&Transaction{State: TxNoReply, Attempts: 1})

	if s.Transactions != 4 || s.Completed != 1 || s.Timeouts != 1 || s.ChecksumErrors != 1 || s.NoReply != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.Retries != 3 {
		t.Errorf("Retries = %d, expected 3", s.Retries)
	}
	if s.Errors() != 2 {
		t.Errorf("Errors = %d, expected 2", s.Errors())
	}
	if !strings.Contains(s.String(), "Timeouts:") {
		t.Error("String() missing timeouts line")
	}

	s.Reset()
	if s.Transactions != 0 {
		t.Error("Reset did not clear counters")
	}
}

func TestVersion(t *testing.T) {
	if Version() == "" {
		t.Error("Version is empty")
	}
}
