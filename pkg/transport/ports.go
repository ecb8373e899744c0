// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port
type PortInfo struct {
	Name         string `json:"name" yaml:"name"`
	IsUSB        bool   `json:"usb" yaml:"usb"`
	VID          string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID          string `json:"pid,omitempty" yaml:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
}

// ListPorts returns the serial ports that look like USB servo adapters,
// sorted by name. With all set every port is returned.
func ListPorts(all bool) ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate serial ports")
	}

	var result []PortInfo
	for _, p := range ports {
		if !all && !IsCandidatePort(p.Name) {
			continue
		}
		result = append(result, PortInfo{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// IsCandidatePort checks if a port name matches a USB serial adapter
func IsCandidatePort(port string) bool {
	for _, prefix := range []string{
		// Linux
		"/dev/ttyUSB", "/dev/ttyACM",
		// macOS
		"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial",
		// Windows
		"COM",
	} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}
