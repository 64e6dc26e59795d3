// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "time"

// Frame represents a decoded or to-be-sent data frame.
// A Frame is immutable once built.
type Frame struct {
	length    uint8
	frameType Type
	command   uint8
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewFrame creates a data frame with the given type, command id and payload.
// The payload is copied; the length and checksum are computed.
func NewFrame(frameType Type, command uint8, payload []byte) *Frame {
	f := &Frame{
		length:    uint8(MinLength + len(payload)),
		frameType: frameType,
		command:   command,
		payload:   append([]byte(nil), payload...),
		timestamp: time.Now(),
	}
	f.checksum = CalculateChecksum(f.headerAndPayload())
	return f
}

// headerAndPayload returns the checksummed section: length, type, command, payload
func (f *Frame) headerAndPayload() []byte {
	data := make([]byte, 0, lengthFieldLen+typeFieldLen+commandFieldLen+len(f.payload))
	data = append(data, f.length, byte(f.frameType), f.command)
	return append(data, f.payload...)
}

// Length returns the frame's LEN field
func (f *Frame) Length() uint8 {
	return f.length
}

// Type returns the frame's direction type
func (f *Frame) Type() Type {
	return f.frameType
}

// Command returns the frame's command id
func (f *Frame) Command() uint8 {
	return f.command
}

// Payload returns a copy of the frame payload
func (f *Frame) Payload() []byte {
	return append([]byte(nil), f.payload...)
}

// PayloadLen returns the number of payload bytes
func (f *Frame) PayloadLen() int {
	return len(f.payload)
}

// PayloadByte returns the payload byte at index i, or false if out of range
func (f *Frame) PayloadByte(i int) (byte, bool) {
	if i < 0 || i >= len(f.payload) {
		return 0, false
	}
	return f.payload[i], true
}

// Checksum returns the frame's checksum byte
func (f *Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns when the frame was built or decoded
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsRequest returns true for request-type frames
func (f *Frame) IsRequest() bool {
	return f.frameType == TypeRequest
}

// IsResponse returns true for response-type frames
func (f *Frame) IsResponse() bool {
	return f.frameType == TypeResponse
}

// String returns the frame in a single human-readable line
func (f *Frame) String() string {
	return FormatFrameLine(f)
}
