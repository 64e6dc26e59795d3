// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// SendStatus is the final outcome of one outgoing data frame
type SendStatus int

// Send status values
const (
	SendOK SendStatus = iota
	SendFailChecksum
	SendFailDropped
	SendTimeout
	SendTransportError
)

// String returns the status name
func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "SEND_OK"
	case SendFailChecksum:
		return "SEND_FAIL_CHECKSUM"
	case SendFailDropped:
		return "SEND_FAIL_DROPPED"
	case SendTimeout:
		return "SEND_TIMEOUT"
	case SendTransportError:
		return "SEND_TRANSPORT_ERROR"
	default:
		return fmt.Sprintf("SEND_STATUS_%d", int(s))
	}
}

// Err maps the status to its sentinel error (nil for SendOK)
func (s SendStatus) Err() error {
	switch s {
	case SendOK:
		return nil
	case SendFailChecksum:
		return ErrResendExhaustedChecksum
	case SendFailDropped:
		return ErrResendExhaustedDropped
	case SendTimeout:
		return ErrSendTimeout
	case SendTransportError:
		return &TransportError{Err: ErrResendWrite}
	default:
		return fmt.Errorf("frame: unknown send status %d", int(s))
	}
}
