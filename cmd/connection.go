// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/zwserial/pkg/driver"
	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/Thermoquad/zwserial/pkg/trace"
	"github.com/Thermoquad/zwserial/pkg/transport"
	"golang.org/x/term"
)

const dialTimeout = 15 * time.Second

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("ZWSERIAL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openTransport opens either a serial port or a WebSocket bridge based on
// the resolved settings
func openTransport() (transport.Transport, error) {
	opts := settings.Transport(logger)

	if settings.URL != "" {
		password := ""
		if settings.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		return transport.DialWebSocket(ctx, transport.WebSocketConfig{
			URL:           settings.URL,
			Username:      settings.Username,
			Password:      password,
			SkipSSLVerify: settings.NoSSLVerify,
		}, opts)
	}

	if settings.Port != "" {
		return transport.OpenSerial(settings.Port, settings.Baud, opts)
	}

	return nil, errors.New("either --port or --url must be specified")
}

// link is an open driver plus the capture file feeding from it
type link struct {
	*driver.Driver
	recorder *trace.Recorder
}

func (l *link) Close() error {
	err := l.Driver.Close()
	if l.recorder != nil {
		if cerr := l.recorder.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		logger.WithField("records", l.recorder.Count()).Info("capture closed")
	}
	return err
}

// openLink opens the transport and starts a driver on it. tap, if not nil,
// sees the link traffic alongside the capture recorder.
func openLink(tap frame.Tap, extra ...driver.Option) (*link, error) {
	t, err := openTransport()
	if err != nil {
		return nil, err
	}
	return startLink(t, tap, extra...)
}

func startLink(t transport.Transport, tap frame.Tap, extra ...driver.Option) (*link, error) {
	l := &link{}
	var taps multiTap

	if settings.Capture != "" {
		rec, err := trace.Create(settings.Capture)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		l.recorder = rec
		taps = append(taps, rec)
	}
	if tap != nil {
		taps = append(taps, tap)
	}

	opts := []driver.Option{
		driver.WithLogger(logger),
		driver.WithMetrics(collector),
	}
	if len(taps) > 0 {
		opts = append(opts, driver.WithTap(taps))
	}
	opts = append(opts, extra...)

	d, err := driver.Open(t, settings.Driver(), opts...)
	if err != nil {
		if l.recorder != nil {
			_ = l.recorder.Close()
		}
		return nil, err
	}
	l.Driver = d
	return l, nil
}

// multiTap fans link traffic out to several taps
type multiTap []frame.Tap

func (m multiTap) Observe(direction frame.Direction, data []byte) {
	for _, t := range m {
		t.Observe(direction, data)
	}
}

// describeCommand formats a received command for printing
func describeCommand(c *session.Command) string {
	return fmt.Sprintf("[%s] %s", c.Received.Format("15:04:05.000"), c.String())
}
