// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/Cogni-Robot/servo-controller/pkg/transport"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const passwordEnv = envPrefix + "_PASSWORD"

// connection selects a transport from the configuration
type connection struct {
	path   string // Serial device or bridge URL
	info   string // Human-readable description
	baud   int
	opener st3215.Opener
}

// resolveConnection picks serial or WebSocket mode from v. Exactly one of
// port and url is needed; url wins when both are set.
func resolveConnection(ctx context.Context, v *viper.Viper, password func() (string, error)) (*connection, error) {
	baud := v.GetInt(keyBaud)

	if url := v.GetString(keyURL); url != "" {
		opts := transport.WebSocketOptions{
			Username:           v.GetString(keyUsername),
			InsecureSkipVerify: v.GetBool(keyNoSSLVerify),
		}
		if opts.Username != "" {
			pw, err := password()
			if err != nil {
				return nil, err
			}
			opts.Password = pw
		}

		return &connection{
			path:   url,
			info:   fmt.Sprintf("WebSocket: %s", url),
			baud:   baud,
			opener: transport.WebSocketOpener(ctx, opts),
		}, nil
	}

	if port := v.GetString(keyPort); port != "" {
		return &connection{
			path:   port,
			info:   fmt.Sprintf("Serial: %s @ %d baud", port, baud),
			baud:   baud,
			opener: transport.OpenSerial,
		}, nil
	}

	return nil, errors.New("either --port or --url must be specified")
}

// openTransport opens the raw byte transport, used by the sniffer
func (c *connection) openTransport() (st3215.Transport, error) {
	t, err := c.opener(c.path, c.baud)
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}
	return t, nil
}

// openBus opens a bus handle on the connection
func (c *connection) openBus(opts ...st3215.Option) (*st3215.Bus, error) {
	bus, err := st3215.Open(c.path, c.opener, opts...)
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}
	return bus, nil
}

// connect resolves the connection from the global configuration and opens
// a bus on it. Connection failures carry exit code 2.
func connect(ctx context.Context, extra ...st3215.Option) (*st3215.Bus, *connection, error) {
	conn, err := resolveConnection(ctx, viper.GetViper(), GetPassword)
	if err != nil {
		return nil, nil, &ExitError{Code: 2, Err: err}
	}

	opts := append(busOptions(viper.GetViper()), extra...)
	bus, err := conn.openBus(opts...)
	if err != nil {
		return nil, nil, err
	}
	return bus, conn, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}
