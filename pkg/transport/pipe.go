// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"
)

const pipeBuffer = 256

// Pipe is one end of an in-memory byte channel created by NewPipe.
// Bytes written to one end are delivered to the other end's Handler.
type Pipe struct {
	name string
	in   chan []byte
	peer *Pipe
	opts Options

	lmu     sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPipe returns two connected ends
func NewPipe(opts Options) (*Pipe, *Pipe) {
	opts = opts.withDefaults()
	a := &Pipe{name: "a", in: make(chan []byte, pipeBuffer), opts: opts, stop: make(chan struct{}), done: make(chan struct{})}
	b := &Pipe{name: "b", in: make(chan []byte, pipeBuffer), opts: opts, stop: make(chan struct{}), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// Start begins delivering bytes written by the peer
func (p *Pipe) Start(h Handler) error {
	p.lmu.Lock()
	defer p.lmu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.started {
		return fmt.Errorf("pipe %s: already started", p.name)
	}
	p.started = true
	go func() {
		defer close(p.done)
		pump(h, p.in, p.opts.ReadTimeout, p.stop)
	}()
	return nil
}

// Write delivers a copy of data to the peer
func (p *Pipe) Write(data []byte) error {
	buf := append([]byte(nil), data...)
	select {
	case <-p.stop:
		return ErrClosed
	case <-p.peer.stop:
		return ErrClosed
	default:
	}
	select {
	case p.peer.in <- buf:
		return nil
	case <-p.stop:
		return ErrClosed
	case <-p.peer.stop:
		return ErrClosed
	}
}

// Close stops this end. The peer's writes fail from now on.
func (p *Pipe) Close() error {
	p.lmu.Lock()
	defer p.lmu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stop)
	if p.started {
		<-p.done
	} else {
		close(p.done)
	}
	return nil
}

// Done is closed when delivery stops
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) String() string {
	return fmt.Sprintf("Pipe: %s", p.name)
}
