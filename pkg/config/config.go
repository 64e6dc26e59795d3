// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads zwserial settings from TOML or INI files.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/zwserial/pkg/driver"
	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/Thermoquad/zwserial/pkg/transport"
	log "github.com/sirupsen/logrus"
)

// Config is the complete tool configuration
type Config struct {
	// Connection
	Port        string
	Baud        int
	URL         string
	Username    string
	NoSSLVerify bool

	// Protocol timing
	SendTimeout     time.Duration
	ResponseTimeout time.Duration
	ResendDelay     time.Duration
	ReadTimeout     time.Duration
	QueueSize       int
	NAKOnStart      bool

	// Observability
	LogLevel    string
	LogJSON     bool
	MetricsAddr string
	Capture     string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	d := driver.DefaultConfig()
	return Config{
		Baud:            115200,
		SendTimeout:     d.SendTimeout,
		ResponseTimeout: d.ResponseTimeout,
		ResendDelay:     d.ResendDelay,
		ReadTimeout:     transport.DefaultReadTimeout,
		QueueSize:       d.QueueSize,
		NAKOnStart:      d.NAKOnStart,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults. The format is chosen by extension:
// .toml, or .ini/.cfg/.conf.
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadTOML(path)
	case ".ini", ".cfg", ".conf":
		return loadINI(path)
	default:
		return Config{}, fmt.Errorf("unsupported config file type: %s (use .toml or .ini)", path)
	}
}

// Validate checks values that cannot be clamped
func (c Config) Validate() error {
	if c.Port != "" && c.URL != "" {
		return fmt.Errorf("port and url are mutually exclusive")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Driver returns the protocol settings. Timeouts below the protocol floors
// are raised when the driver is opened.
func (c Config) Driver() driver.Config {
	return driver.Config{
		SendTimeout:     c.SendTimeout,
		ResponseTimeout: c.ResponseTimeout,
		ResendDelay:     c.ResendDelay,
		QueueSize:       c.QueueSize,
		NAKOnStart:      c.NAKOnStart,
	}
}

// Transport returns the transport options
func (c Config) Transport(logger log.FieldLogger) transport.Options {
	return transport.Options{
		ReadTimeout: c.ReadTimeout,
		Logger:      logger,
	}
}

// EffectiveTimeouts returns the send and response timeouts after clamping.
// The response floor follows the clamped send timeout.
func (c Config) EffectiveTimeouts() (send, response time.Duration) {
	send = max(c.SendTimeout, frame.MinSendTimeout)
	response = max(c.ResponseTimeout, frame.ResponseTimeoutFor(send))
	return send, response
}

// queueSizeOrDefault keeps zero meaning "default" in files
func queueSizeOrDefault(n int) int {
	if n == 0 {
		return session.DefaultQueueSize
	}
	return n
}
