// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Port            string `toml:"port"`
	Baud            int    `toml:"baud"`
	URL             string `toml:"url"`
	Username        string `toml:"username"`
	NoSSLVerify     bool   `toml:"no_ssl_verify"`
	SendTimeout     string `toml:"send_timeout"`
	ResponseTimeout string `toml:"response_timeout"`
	ResendDelay     string `toml:"resend_delay"`
	ReadTimeout     string `toml:"read_timeout"`
	QueueSize       int    `toml:"queue_size"`
	NAKOnStart      bool   `toml:"nak_on_start"`
	LogLevel        string `toml:"log_level"`
	LogJSON         bool   `toml:"log_json"`
	MetricsAddr     string `toml:"metrics_addr"`
	Capture         string `toml:"capture"`
}

func loadTOML(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("no_ssl_verify") {
		cfg.NoSSLVerify = raw.NoSSLVerify
	}

	durations := map[string]string{
		"send_timeout":     raw.SendTimeout,
		"response_timeout": raw.ResponseTimeout,
		"resend_delay":     raw.ResendDelay,
		"read_timeout":     raw.ReadTimeout,
	}
	for key, value := range durations {
		if !meta.IsDefined(key) {
			continue
		}
		if err := setters[key](&cfg, value); err != nil {
			return Config{}, err
		}
	}

	if meta.IsDefined("queue_size") {
		cfg.QueueSize = queueSizeOrDefault(raw.QueueSize)
	}
	if meta.IsDefined("nak_on_start") {
		cfg.NAKOnStart = raw.NAKOnStart
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_json") {
		cfg.LogJSON = raw.LogJSON
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("capture") {
		cfg.Capture = strings.TrimSpace(raw.Capture)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
