// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/zwserial/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// Lowest send timeout accepted by NewLayer. Tests in this package lower it.
var sendTimeoutFloor = MinSendTimeout

// Writer is the transport primitive used by the Layer
type Writer interface {
	Write(data []byte) error
}

// Listener receives validated frames and send results from a Layer.
// Calls are made without any Layer lock held, from the transport read
// goroutine or from a timer goroutine.
//
// err is nil for SendOK. A failed resend write carries the transport error
// wrapped in *TransportError; other failures carry status.Err().
type Listener interface {
	HandleFrame(f *Frame)
	HandleSendStatus(status SendStatus, err error)
}

// Direction of bytes crossing the link
type Direction uint8

// Direction values
const (
	DirectionRx Direction = iota
	DirectionTx
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	if d == DirectionTx {
		return metrics.DirectionTx
	}
	return metrics.DirectionRx
}

// Tap observes every data frame and control token crossing the link
type Tap interface {
	Observe(direction Direction, data []byte)
}

// Config configures a Layer
type Config struct {
	SendTimeout time.Duration // raised to MinSendTimeout if lower
	ResendDelay time.Duration // wait before resending after CAN
	Logger      log.FieldLogger
	Metrics     *metrics.Collector
}

// DefaultConfig returns protocol defaults
func DefaultConfig() Config {
	return Config{
		SendTimeout: MinSendTimeout,
		ResendDelay: ResendDelay,
	}
}

// pendingTransmission is the one outgoing frame awaiting ACK
type pendingTransmission struct {
	data       []byte
	command    uint8
	attempts   int // resends performed, 0..MaxResend
	timer      *time.Timer
	timerSeq   uint64
	generation uint64
}

// event is a notification for the Listener, dispatched after locks are released
type event struct {
	frame    *Frame
	status   SendStatus
	err      error
	isStatus bool
}

// Layer turns a byte stream into validated frames and sends frames with
// acknowledgement tracking and bounded retry.
type Layer struct {
	logger      log.FieldLogger
	metrics     *metrics.Collector
	writer      Writer
	sendTimeout time.Duration
	resendDelay time.Duration

	listenerMu sync.RWMutex
	listener   Listener
	tap        Tap

	// Write side: pending transmission, its timers and every transport write
	wmu        sync.Mutex
	pending    *pendingTransmission
	generation uint64
	closed     bool

	// Receive side: decoder state machine
	rmu     sync.Mutex
	decoder *Decoder

	statsMu sync.Mutex
	stats   *Statistics
}

// NewLayer creates a frame layer writing to w
func NewLayer(w Writer, cfg Config) *Layer {
	if cfg.SendTimeout < sendTimeoutFloor {
		cfg.SendTimeout = sendTimeoutFloor
	}
	if cfg.ResendDelay <= 0 {
		cfg.ResendDelay = ResendDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.StandardLogger()
	}
	return &Layer{
		logger:      cfg.Logger.WithField("layer", "frame"),
		metrics:     cfg.Metrics,
		writer:      w,
		sendTimeout: cfg.SendTimeout,
		resendDelay: cfg.ResendDelay,
		decoder:     NewDecoder(),
		stats:       NewStatistics(),
	}
}

// Subscribe registers the listener for received frames and send results
func (l *Layer) Subscribe(listener Listener) {
	l.listenerMu.Lock()
	defer l.listenerMu.Unlock()
	l.listener = listener
}

// SetTap registers an observer of all link traffic (nil to remove)
func (l *Layer) SetTap(tap Tap) {
	l.listenerMu.Lock()
	defer l.listenerMu.Unlock()
	l.tap = tap
}

// SendTimeout returns the effective send timeout
func (l *Layer) SendTimeout() time.Duration {
	return l.sendTimeout
}

// Stats returns a snapshot of the link statistics
func (l *Layer) Stats() Statistics {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return *l.stats
}

// ResetStats resets the link statistics
func (l *Layer) ResetStats() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.Reset()
}

// Busy returns true while a sent frame awaits acknowledgement
func (l *Layer) Busy() bool {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.pending != nil
}

// Send encodes a data frame and writes it to the transport.
//
// Only one frame may be outstanding; a second Send before the first one is
// resolved fails with ErrMultipleWrite. The final result of an accepted frame
// is reported through Listener.HandleSendStatus. A transport write failure is
// returned as *TransportError and nothing is reported.
func (l *Layer) Send(frameType Type, command uint8, payload []byte) error {
	wire, err := EncodeFrame(frameType, command, payload)
	if err != nil {
		return err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.pending != nil {
		return ErrMultipleWrite
	}

	if err := l.writer.Write(wire); err != nil {
		l.updateStats(func(s *Statistics) { s.TransportFails++ })
		l.metrics.SendStatus(SendTransportError.String())
		l.logger.WithError(err).WithField("cmd", command).Error("transport write failed")
		return &TransportError{Err: err}
	}

	l.generation++
	p := &pendingTransmission{
		data:       wire,
		command:    command,
		generation: l.generation,
	}
	l.pending = p
	l.armLocked(p, l.sendTimeout, l.onSendTimeout)

	l.updateStats(func(s *Statistics) { s.FramesSent++ })
	l.metrics.Frame(metrics.DirectionTx, FormatType(frameType))
	l.observe(DirectionTx, wire)
	l.logger.WithFields(log.Fields{"cmd": command, "len": len(payload)}).Debug("frame sent")
	return nil
}

// SendNAK writes a bare NAK. Used at startup to make the peer drop any
// half-received frame.
func (l *Layer) SendNAK() error {
	return l.writeToken(TokenNAK)
}

// OnBytesReceived feeds bytes from the transport into the receive state machine
func (l *Layer) OnBytesReceived(data []byte) {
	var events []event

	l.rmu.Lock()
	for _, b := range data {
		token, f, err := l.decoder.DecodeByte(b)
		switch {
		case err != nil:
			l.handleDecodeError(err)
		case token != TokenNone:
			if ev, ok := l.handleToken(token); ok {
				events = append(events, ev)
			}
		case f != nil:
			l.handleFrame(f)
			events = append(events, event{frame: f})
		}
	}
	l.rmu.Unlock()

	l.dispatch(events)
}

// OnReadTimeout abandons any partially received frame
func (l *Layer) OnReadTimeout() {
	l.rmu.Lock()
	defer l.rmu.Unlock()

	if l.decoder.Timeout() {
		l.updateStats(func(s *Statistics) { s.ReadTimeouts++ })
		l.metrics.ReceiveError("read_timeout")
		l.logger.Debug("partial frame abandoned after read timeout")
	}
}

// Close stops all timers. A frame still waiting for acknowledgement is
// finished with SendTimeout so no caller is left waiting.
func (l *Layer) Close() error {
	var events []event

	l.wmu.Lock()
	l.closed = true
	if l.pending != nil {
		events = append(events, l.finishLocked(SendTimeout))
	}
	l.wmu.Unlock()

	l.dispatch(events)
	return nil
}

// handleDecodeError counts decode failures and rejects bad checksums.
// Must be called with rmu held.
func (l *Layer) handleDecodeError(err error) {
	l.updateStats(func(s *Statistics) { s.recordDecodeError(err) })

	switch e := err.(type) {
	case *ChecksumError:
		l.metrics.ReceiveError("checksum")
		l.logger.WithFields(log.Fields{
			"expected": e.Expected,
			"received": e.Received,
		}).Warn("frame checksum mismatch, sending NAK")
		_ = l.writeToken(TokenNAK)
	default:
		if err == ErrUnexpectedByte {
			l.metrics.ReceiveError("unexpected_byte")
			return
		}
		l.metrics.ReceiveError("malformed")
		l.logger.WithError(err).Debug("frame discarded")
	}
}

// handleFrame acknowledges a valid frame. Must be called with rmu held.
func (l *Layer) handleFrame(f *Frame) {
	l.updateStats(func(s *Statistics) { s.FramesReceived++ })
	l.metrics.Frame(metrics.DirectionRx, FormatType(f.Type()))
	l.observe(DirectionRx, f.Encode())
	if err := l.writeToken(TokenACK); err != nil {
		l.logger.WithError(err).Warn("failed to acknowledge frame")
	}
}

// handleToken applies a control token to the pending transmission.
// Returns a status event when the transmission is finished.
func (l *Layer) handleToken(token Token) (event, bool) {
	l.updateStats(func(s *Statistics) { s.recordToken(token) })
	l.metrics.Token(metrics.DirectionRx, FormatToken(token))

	l.wmu.Lock()
	defer l.wmu.Unlock()

	// Observed under wmu so a token is never recorded ahead of the write it answers
	l.observe(DirectionRx, []byte{byte(token)})

	p := l.pending
	if p == nil {
		l.logger.WithField("token", FormatToken(token)).Debug("control token with no frame pending")
		return event{}, false
	}

	switch token {
	case TokenACK:
		return l.finishLocked(SendOK), true

	case TokenNAK:
		if p.attempts >= MaxResend {
			return l.finishLocked(SendFailChecksum), true
		}
		return l.resendLocked(p, "nak")

	case TokenCAN:
		if p.attempts >= MaxResend {
			return l.finishLocked(SendFailDropped), true
		}
		l.logger.WithFields(log.Fields{
			"cmd":     p.command,
			"attempt": p.attempts + 1,
			"delay":   l.resendDelay,
		}).Warn("frame cancelled by peer, resending after delay")
		l.armLocked(p, l.resendDelay, l.onResendDelay)
	}
	return event{}, false
}

// resendLocked writes the pending frame again and restarts the send timer
func (l *Layer) resendLocked(p *pendingTransmission, reason string) (event, bool) {
	p.attempts++
	l.updateStats(func(s *Statistics) { s.Resends++ })
	l.metrics.Resend(reason)
	l.logger.WithFields(log.Fields{
		"cmd":     p.command,
		"attempt": p.attempts,
		"reason":  reason,
	}).Warn("resending frame")

	if err := l.writer.Write(p.data); err != nil {
		l.logger.WithError(err).Error("transport write failed during resend")
		return l.finishErrLocked(SendTransportError, &TransportError{Err: errors.Join(ErrResendWrite, err)}), true
	}
	l.observe(DirectionTx, p.data)
	l.armLocked(p, l.sendTimeout, l.onSendTimeout)
	return event{}, false
}

// armLocked replaces the pending transmission's timer
func (l *Layer) armLocked(p *pendingTransmission, d time.Duration, fire func(*pendingTransmission, uint64)) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timerSeq++
	seq := p.timerSeq
	p.timer = time.AfterFunc(d, func() { fire(p, seq) })
}

// stale reports whether a timer callback no longer applies. Must hold wmu.
func (l *Layer) stale(p *pendingTransmission, seq uint64) bool {
	return l.pending != p || p.timerSeq != seq
}

// onSendTimeout finishes a frame that received no control token in time
func (l *Layer) onSendTimeout(p *pendingTransmission, seq uint64) {
	l.wmu.Lock()
	if l.stale(p, seq) {
		l.wmu.Unlock()
		return
	}
	l.logger.WithFields(log.Fields{
		"cmd":     p.command,
		"timeout": l.sendTimeout,
	}).Warn("no acknowledgement before send timeout")
	ev := l.finishLocked(SendTimeout)
	l.wmu.Unlock()

	l.dispatch([]event{ev})
}

// onResendDelay resends a frame the peer cancelled
func (l *Layer) onResendDelay(p *pendingTransmission, seq uint64) {
	l.wmu.Lock()
	if l.stale(p, seq) {
		l.wmu.Unlock()
		return
	}
	ev, done := l.resendLocked(p, "can")
	l.wmu.Unlock()

	if done {
		l.dispatch([]event{ev})
	}
}

// finishLocked discards the pending transmission and builds its status event
func (l *Layer) finishLocked(status SendStatus) event {
	return l.finishErrLocked(status, status.Err())
}

// finishErrLocked is finishLocked with an explicit error for the listener
func (l *Layer) finishErrLocked(status SendStatus, err error) event {
	if p := l.pending; p != nil && p.timer != nil {
		p.timer.Stop()
	}
	l.pending = nil
	l.updateStats(func(s *Statistics) { s.recordStatus(status) })
	l.metrics.SendStatus(status.String())
	return event{status: status, err: err, isStatus: true}
}

// writeToken writes a single control token to the transport
func (l *Layer) writeToken(token Token) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	if err := l.writer.Write([]byte{byte(token)}); err != nil {
		return &TransportError{Err: err}
	}
	l.metrics.Token(metrics.DirectionTx, FormatToken(token))
	l.observe(DirectionTx, []byte{byte(token)})
	return nil
}

// dispatch delivers events to the listener in order
func (l *Layer) dispatch(events []event) {
	if len(events) == 0 {
		return
	}
	l.listenerMu.RLock()
	listener := l.listener
	l.listenerMu.RUnlock()
	if listener == nil {
		return
	}
	for _, ev := range events {
		if ev.isStatus {
			listener.HandleSendStatus(ev.status, ev.err)
		} else {
			listener.HandleFrame(ev.frame)
		}
	}
}

// observe forwards link traffic to the tap, if any
func (l *Layer) observe(direction Direction, data []byte) {
	l.listenerMu.RLock()
	tap := l.tap
	l.listenerMu.RUnlock()
	if tap != nil {
		tap.Observe(direction, data)
	}
}

// updateStats applies fn to the statistics under their lock
func (l *Layer) updateStats(fn func(s *Statistics)) {
	l.statsMu.Lock()
	fn(l.stats)
	l.statsMu.Unlock()
}
