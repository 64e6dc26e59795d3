// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// callbackRequest is one queued delivery. notify, when set, runs before
// callback.
type callbackRequest struct {
	callback Callback
	notify   Callback
	command  *Command
	kind     string
}

// enqueueLocked hands a delivery to the worker without blocking.
// Must be called with mu held.
func (s *Session) enqueueLocked(req callbackRequest) error {
	if s.closed {
		return ErrClosed
	}
	select {
	case s.queue <- req:
		s.metrics.QueueDepth(len(s.queue))
		return nil
	default:
		s.stats.QueueDrops++
		s.metrics.Callback("dropped")
		s.logger.WithFields(log.Fields{
			"cmd":      req.command.ID,
			"func_id":  req.command.FunctionID,
			"capacity": cap(s.queue),
		}).WithError(ErrQueueFull).Error("callback delivery dropped")
		return ErrQueueFull
	}
}

// worker invokes queued callbacks one at a time in arrival order
func (s *Session) worker() {
	defer close(s.done)
	for req := range s.queue {
		s.metrics.QueueDepth(len(s.queue))
		if req.notify != nil {
			s.invoke(req.notify, req.command, "nm_notify")
		}
		if req.callback != nil {
			s.invoke(req.callback, req.command, req.kind)
		}
	}
}

// invoke runs one callback, containing any panic so the worker survives
func (s *Session) invoke(cb Callback, cmd *Command, kind string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(log.Fields{
				"cmd":  cmd.ID,
				"kind": kind,
			}).Error(fmt.Sprintf("callback panicked: %v", r))
		}
	}()
	cb(cmd)
}
