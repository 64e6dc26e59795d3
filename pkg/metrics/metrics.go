// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes link and session counters as Prometheus collectors.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zwserial"

// Direction labels
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// Collector groups every metric recorded by the frame and session layers
type Collector struct {
	frames        *prometheus.CounterVec
	tokens        *prometheus.CounterVec
	resends       *prometheus.CounterVec
	sendStatus    *prometheus.CounterVec
	receiveErrors *prometheus.CounterVec
	commands      *prometheus.CounterVec
	callbacks     *prometheus.CounterVec
	queueDepth    prometheus.Gauge
}

// NewCollector creates an unregistered collector set
func NewCollector() *Collector {
	return &Collector{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "frames_total",
				Help:      "Data frames crossing the link.",
			},
			[]string{"direction", "type"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "tokens_total",
				Help:      "ACK/NAK/CAN control tokens crossing the link.",
			},
			[]string{"direction", "token"},
		),
		resends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "resends_total",
				Help:      "Data frame resends by trigger.",
			},
			[]string{"reason"},
		),
		sendStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "send_status_total",
				Help:      "Final status of outgoing data frames.",
			},
			[]string{"status"},
		),
		receiveErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "frame",
				Name:      "receive_errors_total",
				Help:      "Receive-side decode failures.",
			},
			[]string{"kind"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "commands_total",
				Help:      "Completed command transactions by result.",
			},
			[]string{"result"},
		),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "callbacks_total",
				Help:      "Inbound requests by dispatch kind.",
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "callback_queue_depth",
				Help:      "Callback deliveries waiting for the worker.",
			},
		),
	}
}

// Register registers every collector with reg
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.frames, c.tokens, c.resends, c.sendStatus, c.receiveErrors,
		c.commands, c.callbacks, c.queueDepth,
	} {
		if err := reg.Register(col); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Frame counts one data frame
func (c *Collector) Frame(direction string, frameType string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(direction, frameType).Inc()
}

// Token counts one control token
func (c *Collector) Token(direction string, token string) {
	if c == nil {
		return
	}
	c.tokens.WithLabelValues(direction, token).Inc()
}

// Resend counts one resend
func (c *Collector) Resend(reason string) {
	if c == nil {
		return
	}
	c.resends.WithLabelValues(reason).Inc()
}

// SendStatus counts the final status of one outgoing frame
func (c *Collector) SendStatus(status string) {
	if c == nil {
		return
	}
	c.sendStatus.WithLabelValues(status).Inc()
}

// ReceiveError counts one receive-side decode failure
func (c *Collector) ReceiveError(kind string) {
	if c == nil {
		return
	}
	c.receiveErrors.WithLabelValues(kind).Inc()
}

// Command counts one completed command transaction
func (c *Collector) Command(result string) {
	if c == nil {
		return
	}
	c.commands.WithLabelValues(result).Inc()
}

// Callback counts one inbound request by dispatch kind
func (c *Collector) Callback(kind string) {
	if c == nil {
		return
	}
	c.callbacks.WithLabelValues(kind).Inc()
}

// QueueDepth sets the callback queue depth gauge
func (c *Collector) QueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}
