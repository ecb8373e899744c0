// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Configuration keys shared by flags, environment and config file
const (
	keyPort        = "port"
	keyBaud        = "baud"
	keyURL         = "url"
	keyUsername    = "username"
	keyNoSSLVerify = "no-ssl-verify"
	keyTimeout     = "timeout"
	keyAttempts    = "attempts"
	keyCommandGap  = "command-gap"
	keyLatency     = "latency"
	keyLogLevel    = "log-level"
	keyLogFile     = "log-file"
)

const envPrefix = "SERVOCTL"

var (
	cfgFile string

	// logger is built in PersistentPreRunE and used by every command
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "servoctl",
	Short: "ST3215 serial bus servo controller",
	Long: `servoctl - A CLI tool for driving and inspecting Feetech ST3215/STS serial bus servos.

Provides commands for discovery, motion, telemetry, raw register access,
passive bus sniffing and a live monitor.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 1000000]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set through a SERVOCTL_* environment variable
(SERVOCTL_PORT, SERVOCTL_COMMAND_GAP, ...) or a YAML config file
($HOME/.servoctl.yaml or ./servoctl.yaml, or --config).

For WebSocket authentication, the password is read from the SERVOCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       st3215.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(viper.GetViper()); err != nil {
			return err
		}

		l, err := newLogger(viper.GetString(keyLogLevel), viper.GetString(keyLogFile), true)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.servoctl.yaml or ./servoctl.yaml)")

	// Serial connection flags
	flags.StringP(keyPort, "p", "", "Serial port device")
	flags.IntP(keyBaud, "b", st3215.DefaultBaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP(keyURL, "u", "", "WebSocket bridge URL (ws:// or wss://)")
	flags.String(keyUsername, "", "Username for HTTP Basic auth")
	flags.Bool(keyNoSSLVerify, false, "Skip TLS certificate verification (wss:// only)")

	// Transaction engine flags
	flags.Duration(keyTimeout, 0, "Per-attempt reply timeout (0 derives it from the baud rate)")
	flags.Int(keyAttempts, st3215.DefaultAttempts, "Attempts per transaction")
	flags.Duration(keyCommandGap, 0, "Minimum idle time between frames")
	flags.Duration(keyLatency, st3215.DefaultLatency, "Latency allowance added to derived timeouts")

	// Logging flags
	flags.String(keyLogLevel, "warn", "Log level (debug, info, warn, error)")
	flags.String(keyLogFile, "", "Also write JSON logs to this file (rotated)")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

// initConfig wires environment variables and the optional config file into v.
// Flags set on the command line still take precedence.
func initConfig(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return nil
}

// findConfigFile returns the first existing default config file
func findConfigFile() string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".servoctl.yaml"))
	}
	candidates = append(candidates, "servoctl.yaml")

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// busOptions turns the engine settings into st3215 options
func busOptions(v *viper.Viper) []st3215.Option {
	opts := []st3215.Option{
		st3215.WithBaudRate(v.GetInt(keyBaud)),
		st3215.WithAttempts(v.GetInt(keyAttempts)),
		st3215.WithLatency(v.GetDuration(keyLatency)),
		st3215.WithLogger(logger),
	}
	if d := v.GetDuration(keyTimeout); d > 0 {
		opts = append(opts, st3215.WithTimeout(d))
	}
	if d := v.GetDuration(keyCommandGap); d > 0 {
		opts = append(opts, st3215.WithCommandGap(d))
	}
	return opts
}

// ExitError carries a process exit code out of a command
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// commandTimeout bounds one-shot commands so a dead bus cannot hang them
const commandTimeout = 30 * time.Second
