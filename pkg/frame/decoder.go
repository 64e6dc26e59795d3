// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "time"

// Decoder implements the receive state machine for the serial API link.
// It is not safe for concurrent use; Layer guards it with its receive lock.
type Decoder struct {
	state       int
	buffer      []byte // LEN through checksum
	bufferIndex int
	pending     int // bytes still expected for the current frame
	rawBuffer   []byte
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset returns the decoder to idle, discarding any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.pending = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// InProgress returns true while a data frame is partially assembled
func (d *Decoder) InProgress() bool {
	return d.state != stateIdle
}

// GetRawBytes returns the raw bytes of the frame being assembled
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// Timeout handles a receive idle timeout.
// Returns true if a partial frame was abandoned.
func (d *Decoder) Timeout() bool {
	abandoned := d.InProgress()
	d.Reset()
	return abandoned
}

// DecodeByte processes a single byte through the decoder state machine.
//
// In idle state a control byte is returned as a Token. A completed data frame
// with a valid checksum is returned as a Frame. A completed frame with a bad
// checksum returns a *ChecksumError; the caller must answer it with NAK. A
// malformed header returns ErrMalformedFrame and must not be answered.
func (d *Decoder) DecodeByte(b byte) (Token, *Frame, error) {
	switch d.state {
	case stateIdle:
		switch b {
		case ACK, NAK, CAN:
			return Token(b), nil, nil
		case SOF:
			d.rawBuffer = append(d.rawBuffer[:0], b)
			d.state = stateFoundDataFrame
			return TokenNone, nil, nil
		default:
			return TokenNone, nil, ErrUnexpectedByte
		}

	case stateFoundDataFrame:
		d.rawBuffer = append(d.rawBuffer, b)
		if b < MinLength {
			d.Reset()
			return TokenNone, nil, ErrMalformedFrame
		}
		d.buffer[0] = b
		d.bufferIndex = lengthFieldLen
		d.state = stateFoundLength
		return TokenNone, nil, nil

	case stateFoundLength:
		d.rawBuffer = append(d.rawBuffer, b)
		if Type(b) != TypeRequest && Type(b) != TypeResponse {
			d.Reset()
			return TokenNone, nil, ErrMalformedFrame
		}
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		// Command, payload and checksum follow the type byte
		d.pending = int(d.buffer[0]) - typeFieldLen
		d.state = stateWaitCompleteFrame
		return TokenNone, nil, nil

	case stateWaitCompleteFrame:
		d.rawBuffer = append(d.rawBuffer, b)
		d.buffer[d.bufferIndex] = b
		d.bufferIndex++
		d.pending--
		if d.pending > 0 {
			return TokenNone, nil, nil
		}

		end := d.bufferIndex - checksumFieldLen
		expected := CalculateChecksum(d.buffer[:end])
		if expected != b {
			d.Reset()
			return TokenNone, nil, &ChecksumError{Expected: expected, Received: b}
		}

		f := &Frame{
			length:    d.buffer[0],
			frameType: Type(d.buffer[1]),
			command:   d.buffer[2],
			payload:   append([]byte(nil), d.buffer[3:end]...),
			checksum:  b,
			timestamp: time.Now(),
		}
		d.Reset()
		return TokenNone, f, nil

	default:
		d.Reset()
		return TokenNone, nil, ErrMalformedFrame
	}
}
