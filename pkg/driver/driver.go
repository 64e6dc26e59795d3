// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver assembles a transport, the frame layer and the session
// layer into one handle with a command API.
package driver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/metrics"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/Thermoquad/zwserial/pkg/transport"
	log "github.com/sirupsen/logrus"
)

// Config holds the protocol timing of a driver
type Config struct {
	SendTimeout     time.Duration
	ResponseTimeout time.Duration
	ResendDelay     time.Duration
	QueueSize       int
	// NAKOnStart writes a NAK after the transport starts so the device
	// drops any frame it was half way through receiving
	NAKOnStart bool
}

// DefaultConfig returns protocol defaults
func DefaultConfig() Config {
	return Config{
		SendTimeout:     frame.MinSendTimeout,
		ResponseTimeout: frame.MinResponseTimeout,
		ResendDelay:     frame.ResendDelay,
		QueueSize:       session.DefaultQueueSize,
		NAKOnStart:      true,
	}
}

// Option customizes Open
type Option func(*options)

type options struct {
	logger      log.FieldLogger
	metrics     *metrics.Collector
	unsolicited session.Callback
	nmNotify    session.Callback
	isNM        func(command uint8) bool
	tap         frame.Tap
}

// WithLogger sets the logger for every layer
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records link and session events in c
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithUnsolicited sets the callback for requests matching no function id
func WithUnsolicited(cb session.Callback) Option {
	return func(o *options) { o.unsolicited = cb }
}

// WithNetworkManagementNotify sets the hook called for network-management
// callback deliveries. isNM may be nil to use session.DefaultNetworkManagement.
func WithNetworkManagementNotify(cb session.Callback, isNM func(command uint8) bool) Option {
	return func(o *options) {
		o.nmNotify = cb
		o.isNM = isNM
	}
}

// WithTap observes all link traffic, e.g. with a trace.Recorder
func WithTap(tap frame.Tap) Option {
	return func(o *options) { o.tap = tap }
}

// Stats combines link and session counters
type Stats struct {
	Link    frame.Statistics
	Session session.Statistics
}

// Driver owns one transport and the protocol layers running on it
type Driver struct {
	transport transport.Transport
	layer     *frame.Layer
	session   *session.Session
	logger    log.FieldLogger

	closeOnce sync.Once
	closeErr  error
}

// Open starts the protocol on t. The driver owns t from now on and closes
// it in Close, including when Open fails.
func Open(t transport.Transport, cfg Config, opts ...Option) (*Driver, error) {
	o := options{logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.WithField("transport", t.String())

	layer := frame.NewLayer(t, frame.Config{
		SendTimeout: cfg.SendTimeout,
		ResendDelay: cfg.ResendDelay,
		Logger:      logger,
		Metrics:     o.metrics,
	})
	sess := session.New(layer, session.Options{
		ResponseTimeout:         cfg.ResponseTimeout,
		SendTimeout:             layer.SendTimeout(),
		QueueSize:               cfg.QueueSize,
		Unsolicited:             o.unsolicited,
		NetworkManagementNotify: o.nmNotify,
		IsNetworkManagement:     o.isNM,
		Logger:                  logger,
		Metrics:                 o.metrics,
	})
	layer.Subscribe(sess)
	if o.tap != nil {
		layer.SetTap(o.tap)
	}

	d := &Driver{
		transport: t,
		layer:     layer,
		session:   sess,
		logger:    logger,
	}

	if err := t.Start(layer); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("start transport: %w", err)
	}
	if cfg.NAKOnStart {
		if err := layer.SendNAK(); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("startup NAK: %w", err)
		}
	}

	logger.WithFields(log.Fields{
		"send_timeout":     layer.SendTimeout(),
		"response_timeout": sess.ResponseTimeout(),
	}).Info("driver started")
	return d, nil
}

// SendCommand sends one command and waits for it to complete.
// See session.Session.SendCommand.
func (d *Driver) SendCommand(command uint8, flags session.Flags, payload []byte, cb session.Callback) (*session.Response, error) {
	return d.session.SendCommand(command, flags, payload, cb)
}

// Busy returns true while a command is outstanding
func (d *Driver) Busy() bool {
	return d.session.Busy()
}

// Stats returns link and session counters
func (d *Driver) Stats() Stats {
	return Stats{
		Link:    d.layer.Stats(),
		Session: d.session.Stats(),
	}
}

// Done is closed when the transport stops delivering bytes
func (d *Driver) Done() <-chan struct{} {
	return d.transport.Done()
}

func (d *Driver) String() string {
	return d.transport.String()
}

// Close stops the transport, then the frame layer, then the session.
// Must not be called concurrently with SendCommand.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		errs := []error{
			d.transport.Close(),
			d.layer.Close(),
			d.session.Close(),
		}
		d.closeErr = errors.Join(errs...)
		d.logger.Info("driver closed")
	})
	return d.closeErr
}
