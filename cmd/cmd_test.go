// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Argument Parsing
// ============================================================

func TestParseID(t *testing.T) {
	tests := []struct {
		in        string
		broadcast bool
		want      uint8
		wantErr   bool
	}{
		{"1", false, 1, false},
		{"0x10", false, 16, false},
		{"253", false, 253, false},
		{"254", false, 0, true},
		{"254", true, st3215.BroadcastID, false},
		{"0xFE", true, st3215.BroadcastID, false},
		{"256", true, 0, true},
		{"-1", false, 0, true},
		{"abc", false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseID(tt.in, tt.broadcast)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "0x02", "7"})
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 7}, ids)

	_, err = parseIDs([]string{"1", "x"})
	assert.Error(t, err)
}

func TestParseByte(t *testing.T) {
	b, err := parseByte("0xff")
	require.NoError(t, err)
	assert.Equal(t, uint8(0xFF), b)

	_, err = parseByte("256")
	assert.Error(t, err)
}

func TestParseInt(t *testing.T) {
	n, err := parseInt("-3400")
	require.NoError(t, err)
	assert.Equal(t, -3400, n)

	n, err = parseInt("0x800")
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
}

func TestParseRegister(t *testing.T) {
	addr, reg, err := parseRegister("56")
	require.NoError(t, err)
	assert.Equal(t, uint8(56), addr)
	require.NotNil(t, reg)
	assert.Equal(t, "PRESENT_POSITION", reg.Name)

	addr, reg, err = parseRegister("goal-position")
	require.NoError(t, err)
	assert.Equal(t, uint8(42), addr)
	require.NotNil(t, reg)
	assert.Equal(t, 2, reg.Width)

	// Addresses outside the table are still allowed
	addr, reg, err = parseRegister("0x50")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x50), addr)
	assert.Nil(t, reg)

	_, _, err = parseRegister("NO_SUCH_REGISTER")
	assert.Error(t, err)
}

func TestParseTorque(t *testing.T) {
	for in, want := range map[string]int{
		"on":     st3215.TorqueOn,
		"off":    st3215.TorqueOff,
		"middle": st3215.TorqueMiddle,
		"1":      st3215.TorqueOn,
	} {
		got, err := parseTorque(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseTorque("sideways")
	assert.Error(t, err)
}

// ============================================================
// Output
// ============================================================

func TestWriteOutput(t *testing.T) {
	result := scanResult{From: 1, To: 10, Servos: []uint8{3, 7}, Elapsed: "1.2s"}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, outputJSON, result, nil))
	assert.JSONEq(t, `{"from":1,"to":10,"servos":[3,7],"elapsed":"1.2s"}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, outputYAML, result, nil))
	assert.Contains(t, buf.String(), "servos:\n  - 3\n  - 7\n")

	buf.Reset()
	require.NoError(t, writeOutput(&buf, outputText, result, func(w io.Writer) {
		fmt.Fprintf(w, "%d servos\n", len(result.Servos))
	}))
	assert.Equal(t, "2 servos\n", buf.String())
}

func TestValidateOutput(t *testing.T) {
	assert.NoError(t, validateOutput("text"))
	assert.NoError(t, validateOutput("json"))
	assert.NoError(t, validateOutput("yaml"))
	assert.Error(t, validateOutput("xml"))
}

func TestFormatRead(t *testing.T) {
	out := formatRead(st3215.RegPresentPosition.Address, []byte{0x00, 0x08, 0x10, 0x80})
	assert.Contains(t, out, "PRESENT_POSITION: 00 08 10 80")
	assert.Contains(t, out, "2048")
	// PRESENT_SPEED is sign-magnitude: 0x8010 is -16
	assert.Contains(t, out, "PRESENT_SPEED")
	assert.Contains(t, out, "-16")
}

func TestPrintStatus(t *testing.T) {
	mode := st3215.ModeWheel
	status := st3215.DecodeServoStatus(0x04)
	r := servoReport{
		ID:        3,
		Model:     st3215.ModelSTS3215,
		ModelName: st3215.ModelName(st3215.ModelSTS3215),
		Status:    &status,
		Mode:      &mode,
		Moving:    st3215.MotionStopped.String(),
	}
	r.fail("acceleration", &st3215.TimeoutError{ID: 3, Attempts: 3})

	var buf bytes.Buffer
	printStatus(&buf, r)
	out := buf.String()

	assert.Contains(t, out, "FAULT (0x04)")
	assert.Contains(t, out, "temperature")
	assert.Contains(t, out, "1 (wheel)")
	assert.Contains(t, out, "acceleration: FAILED (no reply)")
	assert.NotContains(t, out, "Correction")
}

func TestPrintTelemetry(t *testing.T) {
	tel := &st3215.Telemetry{
		ID:          2,
		Position:    st3215.Reading{Value: 1024},
		Speed:       st3215.Reading{Err: &st3215.TimeoutError{ID: 2, Attempts: 3}},
		Voltage:     st3215.Reading{Value: 7.4},
		Temperature: st3215.Reading{Value: 80},
	}

	var buf bytes.Buffer
	printTelemetry(&buf, tel)
	out := buf.String()

	assert.Contains(t, out, "Servo 2")
	assert.Contains(t, out, "1024 step")
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "no reply")
	assert.Contains(t, out, "80 °C")
}

func TestDescribeError(t *testing.T) {
	assert.Equal(t, "no reply", describeError(&st3215.TimeoutError{ID: 1, Attempts: 3}))
	assert.Contains(t, describeError(errors.Wrap(st3215.StatusError(st3215.StatusOverload), "read")), "overload (0x20)")
	assert.Contains(t, describeError(&st3215.ChecksumError{Expected: 1, Got: 2}), "corrupt reply")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 2, ExitCode(&ExitError{Code: 2, Err: errors.New("no port")}))
	assert.Equal(t, 2, ExitCode(errors.Wrap(&ExitError{Code: 2}, "wrapped")))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0 seconds", formatUptime(0))
	assert.Equal(t, "1 second", formatUptime(1000))
	assert.Equal(t, "2 minutes and 3 seconds", formatUptime(123000))
	assert.Equal(t, "1 day, 1 hour, and 1 minute", formatUptime((24*3600+3600+60)*1000))
}

// ============================================================
// Configuration
// ============================================================

// isolateConfig points HOME at an empty directory so no user config is read
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	old := cfgFile
	t.Cleanup(func() { cfgFile = old })
	cfgFile = ""
}

func applyOptions(opts []st3215.Option) st3215.Config {
	cfg := st3215.DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func TestInitConfig_Environment(t *testing.T) {
	isolateConfig(t)
	t.Setenv("SERVOCTL_COMMAND_GAP", "5ms")
	t.Setenv("SERVOCTL_ATTEMPTS", "5")
	t.Setenv("SERVOCTL_PORT", "/dev/ttyUSB9")

	v := viper.New()
	require.NoError(t, initConfig(v))

	assert.Equal(t, "/dev/ttyUSB9", v.GetString(keyPort))
	cfg := applyOptions(busOptions(v))
	assert.Equal(t, 5*time.Millisecond, cfg.CommandGap)
	assert.Equal(t, 5, cfg.Attempts)
}

func TestInitConfig_File(t *testing.T) {
	isolateConfig(t)

	path := filepath.Join(t.TempDir(), "servoctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyACM3\nbaud: 115200\ntimeout: 20ms\n"), 0o600))
	cfgFile = path

	// The environment overrides the file
	t.Setenv("SERVOCTL_BAUD", "500000")

	v := viper.New()
	require.NoError(t, initConfig(v))

	assert.Equal(t, "/dev/ttyACM3", v.GetString(keyPort))
	cfg := applyOptions(busOptions(v))
	assert.Equal(t, 500000, cfg.BaudRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Timeout)
}

func TestInitConfig_MissingFile(t *testing.T) {
	isolateConfig(t)
	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")

	assert.Error(t, initConfig(viper.New()))
}

func TestResolveConnection(t *testing.T) {
	noPassword := func() (string, error) {
		t.Fatal("password must not be requested")
		return "", nil
	}

	v := viper.New()
	v.Set(keyPort, "/dev/ttyUSB0")
	v.Set(keyBaud, 115200)
	conn, err := resolveConnection(context.Background(), v, noPassword)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", conn.path)
	assert.Equal(t, "Serial: /dev/ttyUSB0 @ 115200 baud", conn.info)

	// The bridge URL wins and the password is requested for a username
	v.Set(keyURL, "ws://bridge.local/bus")
	v.Set(keyUsername, "admin")
	asked := 0
	conn, err = resolveConnection(context.Background(), v, func() (string, error) {
		asked++
		return "secret", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Equal(t, "ws://bridge.local/bus", conn.path)
	assert.Equal(t, "WebSocket: ws://bridge.local/bus", conn.info)

	_, err = resolveConnection(context.Background(), viper.New(), noPassword)
	assert.Error(t, err)
}

func TestConnection_OpenFailureExitCode(t *testing.T) {
	v := viper.New()
	v.Set(keyPort, "/dev/does-not-exist-servo")
	conn, err := resolveConnection(context.Background(), v, nil)
	require.NoError(t, err)

	_, err = conn.openBus()
	assert.Equal(t, 2, ExitCode(err))

	var oe *st3215.OpenError
	assert.True(t, errors.As(err, &oe))
}

func TestGetPassword_Environment(t *testing.T) {
	t.Setenv(passwordEnv, "hunter2")
	pw, err := GetPassword()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
}

// ============================================================
// Logging
// ============================================================

func TestNewLogger(t *testing.T) {
	_, err := newLogger("loud", "", true)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "servoctl.log")
	l, err := newLogger("info", path, false)
	require.NoError(t, err)
	l.Info("bus opened")
	l.Debug("hidden")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"bus opened"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestScanProgress(t *testing.T) {
	var status, out bytes.Buffer
	progress := scanProgress(&status, &out, 1, 3)
	progress(1, false)
	progress(2, true)
	progress(3, false)

	assert.Equal(t, "Servo found: id=2\n", out.String())
	assert.Contains(t, status.String(), "Scanning 3/3")
}
