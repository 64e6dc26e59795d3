// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte channels the frame layer runs on:
// a serial port, a serial-over-WebSocket bridge and an in-memory pipe.
package transport

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrClosed is returned by Write after Close
var ErrClosed = errors.New("transport: closed")

// DefaultReadTimeout is the receive idle time reported to the Handler
const DefaultReadTimeout = 1500 * time.Millisecond

// Handler receives inbound bytes and idle notifications.
// Both methods are called from the transport's read goroutine, one at a time.
type Handler interface {
	OnBytesReceived(data []byte)
	OnReadTimeout()
}

// Transport is a full-duplex byte channel
type Transport interface {
	// Start begins delivering inbound bytes to h
	Start(h Handler) error
	// Write hands bytes to the channel. Safe for concurrent use.
	Write(data []byte) error
	// Close stops the read goroutine and releases the channel
	Close() error
	// Done is closed when the read goroutine has exited
	Done() <-chan struct{}
	// String describes the channel for logs
	String() string
}

// Options are shared by every transport
type Options struct {
	// ReadTimeout is the idle time after which OnReadTimeout is called
	ReadTimeout time.Duration
	Logger      log.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	return o
}

// pump delivers chunks from in to h until in is closed or stop fires.
// OnReadTimeout is called after every idle period of the given length.
func pump(h Handler, in <-chan []byte, idle time.Duration, stop <-chan struct{}) {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case data, ok := <-in:
			if !ok {
				return
			}
			h.OnBytesReceived(data)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			h.OnReadTimeout()
			timer.Reset(idle)
		case <-stop:
			return
		}
	}
}
