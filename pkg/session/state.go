// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
)

// result is the final outcome of a response wait
type result struct {
	response *Response
	err      error
}

// sendResult is the frame layer's verdict on the request frame
type sendResult struct {
	status frame.SendStatus
	err    error
}

// transaction is the one outstanding command/response cycle.
// Both channels have capacity 1 and receive at most one value, so the
// state machine never blocks on a caller that has not started waiting yet.
type transaction struct {
	command    uint8
	flags      Flags
	functionID uint8
	sendStatus chan sendResult
	result     chan result
}

func newTransaction(command uint8, flags Flags) *transaction {
	return &transaction{
		command:    command,
		flags:      flags,
		sendStatus: make(chan sendResult, 1),
		result:     make(chan result, 1),
	}
}

func (tx *transaction) expectsResponse() bool {
	return tx.flags&ExpectResponse != 0
}

// state is one of idleState, commandSentState or waitResponseState
type state interface {
	String() string
}

type idleState struct{}

func (idleState) String() string { return "idle" }

// commandSentState waits for the frame layer's send status
type commandSentState struct {
	tx *transaction
}

func (commandSentState) String() string { return "command-sent" }

// waitResponseState waits for the Response frame or the response timer
type waitResponseState struct {
	tx    *transaction
	timer *time.Timer
}

func (waitResponseState) String() string { return "wait-response" }
