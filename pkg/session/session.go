// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session correlates frames into command transactions.
//
// One command is outstanding at a time. A command may expect a synchronous
// Response frame, an asynchronous callback request carrying the function id
// appended to the command payload, both, or neither. Inbound requests that
// match no registered function id are routed to the unsolicited callback.
// All callbacks run on a single worker goroutine in arrival order, so the
// receive path never runs user code.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// Lowest response timeout accepted by New. Tests in this package lower it.
var responseTimeoutFloor = frame.MinResponseTimeout

// Session serializes commands over a frame link and dispatches callbacks
type Session struct {
	link            Link
	logger          log.FieldLogger
	metrics         *metrics.Collector
	responseTimeout time.Duration
	unsolicited     Callback
	nmNotify        Callback
	isNM            func(command uint8) bool

	mu     sync.Mutex
	state  state
	table  correlationTable
	stats  Statistics
	closed bool

	queue chan callbackRequest
	done  chan struct{}
}

// New creates a session sending through link and starts its callback worker.
// The caller must subscribe the session to the frame layer.
func New(link Link, opts Options) *Session {
	floor := responseTimeoutFloor
	if opts.SendTimeout > 0 {
		floor = max(floor, frame.ResponseTimeoutFor(opts.SendTimeout))
	}
	if opts.ResponseTimeout < floor {
		opts.ResponseTimeout = floor
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.IsNetworkManagement == nil {
		opts.IsNetworkManagement = DefaultNetworkManagement
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	s := &Session{
		link:            link,
		logger:          opts.Logger.WithField("layer", "session"),
		metrics:         opts.Metrics,
		responseTimeout: opts.ResponseTimeout,
		unsolicited:     opts.Unsolicited,
		nmNotify:        opts.NetworkManagementNotify,
		isNM:            opts.IsNetworkManagement,
		state:           idleState{},
		queue:           make(chan callbackRequest, opts.QueueSize),
		done:            make(chan struct{}),
	}
	go s.worker()
	return s
}

// ResponseTimeout returns the effective response timeout
func (s *Session) ResponseTimeout() time.Duration {
	return s.responseTimeout
}

// Busy returns true while a command is outstanding
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, idle := s.state.(idleState)
	return !idle
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SendCommand sends a request frame and blocks until the transaction ends.
//
// With ExpectCallback a function id is appended to payload and cb is
// registered for it. With ExpectResponse the matching Response is returned.
// The call always returns within the send timeout times the resend budget
// plus the response timeout.
func (s *Session) SendCommand(command uint8, flags Flags, payload []byte, cb Callback) (*Response, error) {
	tx := newTransaction(command, flags)
	wire := append([]byte(nil), payload...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if _, idle := s.state.(idleState); !idle {
		s.mu.Unlock()
		return nil, ErrPreviousCommandUncompleted
	}
	if flags&ExpectCallback != 0 {
		tx.functionID = s.table.allocate()
		s.table.register(tx.functionID, command, cb)
		wire = append(wire, tx.functionID)
	}
	s.state = commandSentState{tx: tx}
	s.stats.Commands++
	s.mu.Unlock()

	logger := s.logger.WithFields(log.Fields{
		"cmd":     command,
		"flags":   flags,
		"func_id": tx.functionID,
	})
	logger.Debug("sending command")

	if err := s.link.Send(frame.TypeRequest, command, wire); err != nil {
		s.abort(tx)
		return nil, s.finish(logger, err)
	}

	sent := <-tx.sendStatus
	if sent.status != frame.SendOK {
		return nil, s.finish(logger, sent.err)
	}
	if !tx.expectsResponse() {
		return nil, s.finish(logger, nil)
	}

	res := <-tx.result
	return res.response, s.finish(logger, res.err)
}

// abort returns to idle after the frame layer refused a send
func (s *Session) abort(tx *transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state.(commandSentState); ok && st.tx == tx {
		s.state = idleState{}
	}
}

// finish records the result of a transaction and returns err
func (s *Session) finish(logger log.FieldLogger, err error) error {
	s.metrics.Command(resultLabel(err))
	if err != nil {
		s.mu.Lock()
		s.stats.Failures++
		s.mu.Unlock()
		logger.WithError(err).Warn("command failed")
	}
	return err
}

// HandleSendStatus applies the frame layer's send result. A nil err on a
// failed status is replaced by status.Err().
func (s *Session) HandleSendStatus(status frame.SendStatus, err error) {
	if err == nil && status != frame.SendOK {
		err = status.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(commandSentState)
	if !ok {
		s.desyncLocked("send status", log.Fields{"status": status})
		return
	}

	tx := st.tx
	if status == frame.SendOK && tx.expectsResponse() {
		timer := time.AfterFunc(s.responseTimeout, func() { s.onResponseTimeout(tx) })
		s.state = waitResponseState{tx: tx, timer: timer}
	} else {
		s.state = idleState{}
	}
	tx.sendStatus <- sendResult{status: status, err: err}
}

// HandleFrame routes a received frame: a Response completes the outstanding
// command, a Request is queued for its callback
func (s *Session) HandleFrame(f *frame.Frame) {
	if f.IsResponse() {
		s.handleResponse(f)
		return
	}
	s.handleRequest(f)
}

func (s *Session) handleResponse(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(waitResponseState)
	if !ok {
		s.desyncLocked("response", log.Fields{"cmd": f.Command()})
		return
	}
	st.timer.Stop()
	s.state = idleState{}

	if f.Command() != st.tx.command {
		s.logger.WithFields(log.Fields{
			"expected": st.tx.command,
			"received": f.Command(),
		}).Warn("response does not match outstanding command")
		st.tx.result <- result{err: ErrInvalidResponse}
		return
	}
	st.tx.result <- result{response: &Response{Command: f.Command(), Payload: f.Payload()}}
}

// onResponseTimeout fails the transaction tx if it is still waiting
func (s *Session) onResponseTimeout(tx *transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(waitResponseState)
	if !ok || st.tx != tx {
		return
	}
	s.state = idleState{}
	tx.result <- result{err: ErrResponseTimeout}
}

func (s *Session) handleRequest(f *frame.Frame) {
	cmd := newCommand(f)

	s.mu.Lock()
	slot, matched := s.table.lookup(cmd.FunctionID, cmd.ID)
	s.mu.Unlock()

	if !matched {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stats.Unsolicited++
		s.metrics.Callback("unsolicited")
		if s.unsolicited == nil {
			s.logger.WithField("cmd", cmd.ID).Debug("unsolicited command with no handler")
			return
		}
		_ = s.enqueueLocked(callbackRequest{callback: s.unsolicited, command: cmd, kind: "unsolicited"})
		return
	}

	req := callbackRequest{callback: slot.callback, command: cmd, kind: "callback"}
	if s.nmNotify != nil && s.isNM(cmd.ID) {
		req.notify = s.nmNotify
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Callbacks++
	s.metrics.Callback("callback")
	if req.callback == nil && req.notify == nil {
		return
	}
	_ = s.enqueueLocked(req)
}

// desyncLocked reports an event that cannot occur in the current state
func (s *Session) desyncLocked(event string, fields log.Fields) {
	s.stats.Desyncs++
	s.metrics.Command("desync")
	s.logger.WithFields(fields).WithFields(log.Fields{
		"event": event,
		"state": s.state.String(),
	}).WithError(ErrProtocolDesync).Error("protocol desync, event dropped")
}

// Close stops the callback worker after it drains queued deliveries.
// A transaction still waiting for its response is failed with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if st, ok := s.state.(waitResponseState); ok {
		st.timer.Stop()
		s.state = idleState{}
		st.tx.result <- result{err: ErrClosed}
	}
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return nil
}

// resultLabel maps a command result to its metrics label
func resultLabel(err error) string {
	var tErr *frame.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, frame.ErrResendExhaustedChecksum):
		return "resend_exhausted_checksum"
	case errors.Is(err, frame.ErrResendExhaustedDropped):
		return "resend_exhausted_dropped"
	case errors.Is(err, frame.ErrSendTimeout):
		return "send_timeout"
	case errors.Is(err, ErrResponseTimeout):
		return "response_timeout"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.As(err, &tErr):
		return "transport"
	default:
		return "error"
	}
}
