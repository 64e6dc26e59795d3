// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// Encode encodes a Frame to wire format (SOF through checksum).
func (f *Frame) Encode() []byte {
	wire := make([]byte, 0, markerFieldLen+int(f.length)+lengthFieldLen)
	wire = append(wire, SOF)
	wire = append(wire, f.headerAndPayload()...)
	return append(wire, f.checksum)
}

// EncodeFrame creates a complete wire-formatted data frame.
// Returns an error if the payload does not fit in a single frame.
func EncodeFrame(frameType Type, command uint8, payload []byte) ([]byte, error) {
	if frameType != TypeRequest && frameType != TypeResponse {
		return nil, fmt.Errorf("invalid frame type: 0x%02X", uint8(frameType))
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return NewFrame(frameType, command, payload).Encode(), nil
}

// MustEncodeFrame encodes a frame and panics on error.
// Intended for tests and constant frames.
func MustEncodeFrame(frameType Type, command uint8, payload []byte) []byte {
	data, err := EncodeFrame(frameType, command, payload)
	if err != nil {
		panic(fmt.Sprintf("frame: encode error: %v", err))
	}
	return data
}

// VerifyFrame checks that data is one complete, correctly checksummed data frame.
func VerifyFrame(data []byte) error {
	if len(data) < markerFieldLen+lengthFieldLen+MinLength {
		return fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if data[0] != SOF {
		return fmt.Errorf("missing SOF: got 0x%02X", data[0])
	}
	length := int(data[1])
	if length < MinLength || len(data) != markerFieldLen+lengthFieldLen+length {
		return fmt.Errorf("length mismatch: LEN=%d, frame is %d bytes", length, len(data))
	}
	expected := CalculateChecksum(data[markerFieldLen : len(data)-checksumFieldLen])
	if got := data[len(data)-1]; got != expected {
		return &ChecksumError{Expected: expected, Received: got}
	}
	return nil
}
