// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package st3215

// Checksum computes the frame checksum: the bitwise complement of the sum of
// ID, LEN, instruction (or status) and parameters, truncated to 8 bits.
func Checksum(id, length, code uint8, params []byte) uint8 {
	sum := uint(id) + uint(length) + uint(code)
	for _, b := range params {
		sum += uint(b)
	}
	return ^uint8(sum)
}

// checksumBody computes the checksum over a raw frame body that starts at the
// ID byte and ends just before the checksum byte.
func checksumBody(body []byte) uint8 {
	var sum uint
	for _, b := range body {
		sum += uint(b)
	}
	return ^uint8(sum)
}
