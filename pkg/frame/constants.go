// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the link layer of the serial API protocol.
//
// Data frames are length-prefixed and protected by an XOR checksum. Single
// control bytes (ACK, NAK, CAN) acknowledge, reject or cancel the last data
// frame. This package provides frame encoding/decoding, the receive state
// machine, and a Layer that performs acknowledged, bounded-retry delivery of
// outgoing frames.
//
// Wire layout of a data frame:
//
//	SOF | LEN | TYPE | CMD | PAYLOAD... | CHECKSUM
//
// LEN counts TYPE, CMD, PAYLOAD and CHECKSUM. CHECKSUM is the XOR of LEN
// through the last payload byte, seeded with 0xFF.
package frame

import "time"

// Frame markers
const (
	SOF = 0x01 // Start of data frame
	ACK = 0x06 // Frame accepted
	NAK = 0x15 // Frame rejected (checksum)
	CAN = 0x18 // Frame dropped by peer (collision)
)

// Type is the direction type carried by every data frame
type Type uint8

// Frame direction types
const (
	TypeRequest  Type = 0x00
	TypeResponse Type = 0x01
)

// Field sizes
const (
	markerFieldLen   = 1
	lengthFieldLen   = 1
	typeFieldLen     = 1
	commandFieldLen  = 1
	checksumFieldLen = 1
)

// Frame size limits
const (
	// MinLength is the smallest valid LEN value (type + command + checksum)
	MinLength = typeFieldLen + commandFieldLen + checksumFieldLen
	// MaxPayloadSize is the largest payload that fits in a single-byte LEN
	MaxPayloadSize = 0xFF - MinLength
	// MaxFrameSize is the size of the largest encoded data frame
	MaxFrameSize = markerFieldLen + lengthFieldLen + 0xFF
)

// Checksum seed
const checksumSeed = 0xFF

// Retry policy
const (
	// MaxResend is the number of resends allowed after the first transmission
	MaxResend = 2
	// ResendDelay is the wait before resending a frame the peer cancelled
	ResendDelay = 100 * time.Millisecond
)

// Timeout floors. Configured values below these are raised to them.
const (
	MinSendTimeout     = 2000 * time.Millisecond
	MinResponseTimeout = MinSendTimeout*(MaxResend+1) + responseMargin
	// DefaultReadTimeout is the idle time after which a partial frame is abandoned
	DefaultReadTimeout = 1500 * time.Millisecond
)

// responseMargin is added to the worst-case send time of a request
const responseMargin = 500 * time.Millisecond

// ResponseTimeoutFor returns the lowest response timeout for a link whose
// send timeout is sendTimeout: every allowed transmission plus a margin.
func ResponseTimeoutFor(sendTimeout time.Duration) time.Duration {
	return sendTimeout*(MaxResend+1) + responseMargin
}

// Decoder states (internal)
const (
	stateIdle = iota
	stateFoundDataFrame
	stateFoundLength
	stateWaitCompleteFrame
)

// Token is a single-byte control token received or sent on the link
type Token uint8

// Token values
const (
	TokenNone Token = 0
	TokenACK  Token = ACK
	TokenNAK  Token = NAK
	TokenCAN  Token = CAN
)
