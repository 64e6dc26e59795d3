// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// setters parse one string value into the Config. Shared by the INI loader
// and the TOML duration fields.
var setters = map[string]func(c *Config, v string) error{
	"port":             func(c *Config, v string) error { c.Port = v; return nil },
	"url":              func(c *Config, v string) error { c.URL = v; return nil },
	"username":         func(c *Config, v string) error { c.Username = v; return nil },
	"log_level":        func(c *Config, v string) error { c.LogLevel = v; return nil },
	"metrics_addr":     func(c *Config, v string) error { c.MetricsAddr = v; return nil },
	"capture":          func(c *Config, v string) error { c.Capture = v; return nil },
	"baud":             intSetter("baud", func(c *Config, n int) { c.Baud = n }),
	"queue_size":       intSetter("queue_size", func(c *Config, n int) { c.QueueSize = queueSizeOrDefault(n) }),
	"no_ssl_verify":    boolSetter("no_ssl_verify", func(c *Config, b bool) { c.NoSSLVerify = b }),
	"nak_on_start":     boolSetter("nak_on_start", func(c *Config, b bool) { c.NAKOnStart = b }),
	"log_json":         boolSetter("log_json", func(c *Config, b bool) { c.LogJSON = b }),
	"send_timeout":     setSendTimeout,
	"response_timeout": setResponseTimeout,
	"resend_delay":     setResendDelay,
	"read_timeout":     setReadTimeout,
}

var (
	setSendTimeout     = durationSetter("send_timeout", func(c *Config, d time.Duration) { c.SendTimeout = d })
	setResponseTimeout = durationSetter("response_timeout", func(c *Config, d time.Duration) { c.ResponseTimeout = d })
	setResendDelay     = durationSetter("resend_delay", func(c *Config, d time.Duration) { c.ResendDelay = d })
	setReadTimeout     = durationSetter("read_timeout", func(c *Config, d time.Duration) { c.ReadTimeout = d })
)

func durationSetter(key string, set func(*Config, time.Duration)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("parse %s: negative duration %s", key, d)
		}
		set(c, d)
		return nil
	}
}

func intSetter(key string, set func(*Config, int)) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		set(c, n)
		return nil
	}
}

func boolSetter(key string, set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		set(c, b)
		return nil
	}
}

// loadINI reads keys from the root section and any named section, so
// [connection] / [timing] / [logging] groupings are optional
func loadINI(path string) (Config, error) {
	cfg := DefaultConfig()

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	for _, section := range file.Sections() {
		for _, key := range section.Keys() {
			name := strings.ToLower(key.Name())
			set, ok := setters[name]
			if !ok {
				return Config{}, fmt.Errorf("load config: unknown key %q in section [%s]", key.Name(), section.Name())
			}
			if err := set(&cfg, strings.TrimSpace(key.Value())); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
