// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

// CalculateChecksum computes the XOR checksum for the given data.
// The data must start at the length field and end with the last payload byte.
func CalculateChecksum(data []byte) byte {
	sum := byte(checksumSeed)
	for _, b := range data {
		sum ^= b
	}
	return sum
}
