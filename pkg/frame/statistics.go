// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"time"
)

// Statistics tracks link-level counters for one Layer
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Receive direction
	FramesReceived  uint64
	ACKReceived     uint64
	NAKReceived     uint64
	CANReceived     uint64
	ChecksumErrors  uint64
	MalformedFrames uint64
	UnexpectedBytes uint64
	ReadTimeouts    uint64

	// Send direction
	FramesSent     uint64
	Resends        uint64
	SendOK         uint64
	SendFailures   uint64
	SendTimeouts   uint64
	TransportFails uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec, both directions
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// recordToken counts a control token received from the peer
func (s *Statistics) recordToken(t Token) {
	switch t {
	case TokenACK:
		s.ACKReceived++
	case TokenNAK:
		s.NAKReceived++
	case TokenCAN:
		s.CANReceived++
	}
	s.LastUpdateTime = time.Now()
}

// recordDecodeError counts a receive-side decode failure
func (s *Statistics) recordDecodeError(err error) {
	switch err.(type) {
	case *ChecksumError:
		s.ChecksumErrors++
	default:
		if err == ErrUnexpectedByte {
			s.UnexpectedBytes++
		} else {
			s.MalformedFrames++
		}
	}
	s.LastUpdateTime = time.Now()
}

// recordStatus counts the final status of a sent frame
func (s *Statistics) recordStatus(status SendStatus) {
	switch status {
	case SendOK:
		s.SendOK++
	case SendTimeout:
		s.SendTimeouts++
	case SendTransportError:
		s.TransportFails++
	default:
		s.SendFailures++
	}
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived+s.FramesSent) / elapsed
		errorCount := s.ChecksumErrors + s.MalformedFrames + s.SendFailures + s.SendTimeouts + s.TransportFails
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("Frames Sent:     %8d\n", s.FramesSent)
	result += fmt.Sprintf("ACK/NAK/CAN In:  %8d / %d / %d\n", s.ACKReceived, s.NAKReceived, s.CANReceived)

	if s.Resends > 0 {
		result += fmt.Sprintf("Resends:         %8d\n", s.Resends)
	}
	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", s.ChecksumErrors)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedFrames)
	}
	if s.UnexpectedBytes > 0 {
		result += fmt.Sprintf("Unexpected Bytes:%8d\n", s.UnexpectedBytes)
	}
	if s.SendFailures > 0 {
		result += fmt.Sprintf("Send Failures:   %8d\n", s.SendFailures)
	}
	if s.SendTimeouts > 0 {
		result += fmt.Sprintf("Send Timeouts:   %8d\n", s.SendTimeouts)
	}
	if s.TransportFails > 0 {
		result += fmt.Sprintf("Transport Fails: %8d\n", s.TransportFails)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
