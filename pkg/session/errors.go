// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "errors"

var (
	ErrPreviousCommandUncompleted = errors.New("session: previous command has not completed")
	ErrResponseTimeout            = errors.New("session: no response before response timeout")
	ErrInvalidResponse            = errors.New("session: response command id does not match request")
	ErrProtocolDesync             = errors.New("session: event arrived in a state where it cannot occur")
	ErrQueueFull                  = errors.New("session: callback queue full, delivery dropped")
	ErrClosed                     = errors.New("session: closed")
)
