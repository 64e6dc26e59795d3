// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"os"

	"github.com/Thermoquad/zwserial/pkg/config"
	"github.com/Thermoquad/zwserial/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Tool flags
	configPath  string
	logLevel    string
	logJSON     bool
	metricsAddr string
	capturePath string

	// Set up by the root command before any subcommand runs
	settings  = config.DefaultConfig()
	logger    = log.StandardLogger()
	collector *metrics.Collector
)

var rootCmd = &cobra.Command{
	Use:   "zwserial",
	Short: "Serial API host driver for Z-Wave controllers",
	Long: `zwserial - talk to a Z-Wave controller over its serial API.

Runs the frame layer (SOF framing, ACK/NAK/CAN, resends) and the session
layer (one command at a time, function-id callback correlation) against a
controller attached directly or through a WebSocket serial bridge.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a .toml or .ini file given with --config.
Flags override file values.

For WebSocket authentication, the password is read from the ZWSERIAL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.StringVarP(&configPath, "config", "c", "", "Config file (.toml or .ini)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&logJSON, "log-json", false, "Log as JSON")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	flags.StringVar(&capturePath, "capture", "", "Append link traffic to this CBOR capture file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags())
	if err != nil {
		return err
	}
	settings = cfg

	logger, err = newLogger(cfg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		collector, err = serveMetrics(cfg.MetricsAddr)
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveConfig loads the config file, if any, then applies the flags the
// user actually set
func resolveConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}

	if flags.Changed("port") {
		cfg.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("capture") {
		cfg.Capture = capturePath
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	l := log.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	if cfg.LogJSON {
		l.SetFormatter(&log.JSONFormatter{})
	} else {
		l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

// serveMetrics registers a collector on a private registry and serves it
// on addr in the background
func serveMetrics(addr string) (*metrics.Collector, error) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector()
	if err := c.Register(reg); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("addr", addr).Error("metrics server stopped")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	return c, nil
}
