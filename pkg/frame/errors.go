// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"fmt"
)

var (
	ErrMultipleWrite           = errors.New("frame: previous frame is still waiting for acknowledgement")
	ErrResendExhaustedChecksum = errors.New("frame: peer rejected frame checksum, resend budget exhausted")
	ErrResendExhaustedDropped  = errors.New("frame: peer dropped frame, resend budget exhausted")
	ErrSendTimeout             = errors.New("frame: no acknowledgement before send timeout")
	ErrMalformedFrame          = errors.New("frame: malformed frame header discarded")
	ErrUnexpectedByte          = errors.New("frame: unexpected byte outside a frame")
	ErrPayloadTooLarge         = errors.New("frame: payload too large")
	ErrClosed                  = errors.New("frame: layer closed")
	ErrResendWrite             = errors.New("frame: resend could not be written")
)

// ChecksumError reports a data frame whose trailing checksum did not match
type ChecksumError struct {
	Expected byte
	Received byte
}

// Error implements the error interface
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Received)
}

// TransportError wraps a failure to hand bytes to the transport
type TransportError struct {
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("frame: transport write failed: %v", e.Err)
}

// Unwrap returns the underlying transport error
func (e *TransportError) Unwrap() error {
	return e.Err
}
