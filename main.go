// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// servoctl - ST3215 Serial Bus Servo Controller
//
// A CLI tool for driving, monitoring and debugging Feetech ST3215/STS
// serial bus servos over a USB adapter or a WebSocket serial bridge.

package main

import (
	"fmt"
	"os"

	"github.com/Cogni-Robot/servo-controller/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
