// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// Flags select what a command expects back from the device
type Flags uint8

// Command flags
const (
	// ExpectResponse waits for a Response frame with the same command id
	ExpectResponse Flags = 1 << iota
	// ExpectCallback appends a function id and routes the matching
	// asynchronous request to the command's callback
	ExpectCallback
)

// String returns the flags in a compact form
func (f Flags) String() string {
	switch f & (ExpectResponse | ExpectCallback) {
	case ExpectResponse:
		return "response"
	case ExpectCallback:
		return "callback"
	case ExpectResponse | ExpectCallback:
		return "response|callback"
	default:
		return "none"
	}
}

// Function id range. 0 is reserved and never allocated.
const (
	MinFunctionID = 1
	MaxFunctionID = 252
)

// DefaultQueueSize is the callback queue capacity
const DefaultQueueSize = 64

// Command is an inbound request frame handed to a callback
type Command struct {
	ID         uint8
	FunctionID uint8 // first payload byte, 0 when the payload is empty
	Payload    []byte
	Received   time.Time
}

// newCommand copies a request frame into a Command
func newCommand(f *frame.Frame) *Command {
	c := &Command{
		ID:       f.Command(),
		Payload:  f.Payload(),
		Received: f.Timestamp(),
	}
	if id, ok := f.PayloadByte(0); ok {
		c.FunctionID = id
	}
	return c
}

// Args returns the payload after the function id
func (c *Command) Args() []byte {
	if len(c.Payload) == 0 {
		return nil
	}
	return c.Payload[1:]
}

// String returns the command on a single line
func (c *Command) String() string {
	return fmt.Sprintf("%s (0x%02X) func=%d % X", frame.FormatCommand(c.ID), c.ID, c.FunctionID, c.Payload)
}

// Response is the synchronous response to a command
type Response struct {
	Command uint8
	Payload []byte
}

// Callback receives an inbound command on the callback worker.
// Parameters the callback needs are captured by the closure.
type Callback func(cmd *Command)

// Link is the frame layer primitive used to send commands
type Link interface {
	Send(frameType frame.Type, command uint8, payload []byte) error
}

// Options configures a Session
type Options struct {
	// ResponseTimeout bounds the wait for a Response frame. Raised to
	// frame.MinResponseTimeout if lower, and to
	// frame.ResponseTimeoutFor(SendTimeout) when SendTimeout is set.
	ResponseTimeout time.Duration

	// SendTimeout is the effective send timeout of the link
	SendTimeout time.Duration

	// QueueSize is the callback queue capacity. Deliveries arriving while
	// the queue is full are dropped.
	QueueSize int

	// Unsolicited receives requests that match no registered callback
	Unsolicited Callback

	// NetworkManagementNotify is called for callback deliveries of
	// network-management commands. It runs on the callback worker just
	// before the command's own callback.
	NetworkManagementNotify Callback

	// IsNetworkManagement classifies command ids for NetworkManagementNotify.
	// Defaults to DefaultNetworkManagement.
	IsNetworkManagement func(command uint8) bool

	Logger  log.FieldLogger
	Metrics *metrics.Collector
}

// DefaultOptions returns protocol defaults
func DefaultOptions() Options {
	return Options{
		ResponseTimeout:     frame.MinResponseTimeout,
		QueueSize:           DefaultQueueSize,
		IsNetworkManagement: DefaultNetworkManagement,
	}
}

// DefaultNetworkManagement reports whether command belongs to the
// network-management class whose callbacks end a long-running operation
func DefaultNetworkManagement(command uint8) bool {
	switch command {
	case frame.CmdSetDefault,
		frame.CmdAssignReturnRoute,
		frame.CmdDeleteReturnRoute,
		frame.CmdRequestNodeNeighborUpdate,
		frame.CmdAddNodeToNetwork,
		frame.CmdRemoveNodeFromNetwork,
		frame.CmdControllerChange,
		frame.CmdSetLearnMode,
		frame.CmdAssignSUCReturnRoute,
		frame.CmdRequestNetworkUpdate,
		frame.CmdSetSUCNodeID,
		frame.CmdRemoveFailedNode,
		frame.CmdReplaceFailedNode:
		return true
	default:
		return false
	}
}

// Statistics counts session-level events
type Statistics struct {
	Commands    uint64
	Failures    uint64
	Callbacks   uint64
	Unsolicited uint64
	Desyncs     uint64
	QueueDrops  uint64
}
