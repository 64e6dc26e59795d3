// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial is a transport over a local serial port (8N1)
type Serial struct {
	port   serial.Port
	name   string
	baud   int
	opts   Options
	logger log.FieldLogger

	wmu    sync.Mutex
	closed atomic.Bool

	// Lifecycle
	lmu     sync.Mutex
	started bool
	done    chan struct{}
}

// OpenSerial opens a serial port
func OpenSerial(portName string, baudRate int, opts Options) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return newSerial(port, portName, baudRate, opts), nil
}

func newSerial(port serial.Port, name string, baud int, opts Options) *Serial {
	opts = opts.withDefaults()
	return &Serial{
		port:   port,
		name:   name,
		baud:   baud,
		opts:   opts,
		logger: opts.Logger.WithField("port", name),
		done:   make(chan struct{}),
	}
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Start sets the port's read timeout and starts the read goroutine
func (s *Serial) Start(h Handler) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("serial %s: already started", s.name)
	}
	if err := s.port.SetReadTimeout(s.opts.ReadTimeout); err != nil {
		return fmt.Errorf("serial %s: set read timeout: %w", s.name, err)
	}
	s.started = true
	go s.readLoop(h)
	return nil
}

func (s *Serial) readLoop(h Handler) {
	defer close(s.done)
	buf := make([]byte, 256)

	for {
		n, err := s.port.Read(buf)
		if err != nil {
			if !s.closed.Load() {
				s.logger.WithError(err).Error("serial read failed")
			}
			return
		}
		if n == 0 {
			// Read timeout with no data
			h.OnReadTimeout()
			continue
		}
		h.OnBytesReceived(append([]byte(nil), buf[:n]...))
	}
}

// Write writes all of data to the port
func (s *Serial) Write(data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	for len(data) > 0 {
		n, err := s.port.Write(data)
		if err != nil {
			return fmt.Errorf("serial %s: write: %w", s.name, err)
		}
		data = data[n:]
	}
	return nil
}

// Close closes the port, which unblocks the read goroutine
func (s *Serial) Close() error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.port.Close()
	if s.started {
		<-s.done
	} else {
		close(s.done)
	}
	return err
}

// Done is closed when the read goroutine exits
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

func (s *Serial) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.name, s.baud)
}
