// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/zwserial/pkg/driver"
	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var consoleShowTraffic bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive TUI for sending commands",
	Long: `Send serial API commands from an interactive terminal UI.

Type a command on the input line and press Enter:

  GET_VERSION
  SEND_DATA 02 01 25 /cb
  0x41 05

The first word is a command name or id, the rest is the payload in hex.
Options:
  /cb      append a function id and wait for the callback
  /nores   do not wait for a response frame

Responses, callbacks and unsolicited requests appear in the event log.
Link statistics are refreshed while the console runs. PgUp/PgDn scroll the log,
Esc or Ctrl+C quits.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().BoolVar(&consoleShowTraffic, "traffic", false, "Show every frame and token in the event log")
}

func runConsole(cmd *cobra.Command, args []string) error {
	tap := newChannelTap(consoleShowTraffic)

	// The program is created after the driver, so unsolicited deliveries
	// go through a channel drained by the model
	unsolicited := make(chan *session.Command, session.DefaultQueueSize)
	l, err := openLink(tap, driver.WithUnsolicited(func(c *session.Command) {
		select {
		case unsolicited <- c:
		default:
		}
	}))
	if err != nil {
		return err
	}
	defer l.Close()

	// Keep log output from tearing the alt screen
	logger.SetOutput(io.Discard)

	m := newConsoleModel(l, l.String(), l.Stats)
	m.traffic = tap.entries
	m.unsolicited = unsolicited

	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		select {
		case <-l.Done():
			p.Send(connectionLostMsg{})
		case <-m.quit:
		}
	}()

	_, err = p.Run()
	close(m.quit)
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// consoleRequest is one parsed input line
type consoleRequest struct {
	command uint8
	payload []byte
	flags   session.Flags
}

// parseConsoleLine parses "<command> [hex...] [/cb] [/nores]"
func parseConsoleLine(line string) (consoleRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return consoleRequest{}, fmt.Errorf("empty command")
	}

	command, err := frame.ParseCommand(fields[0])
	if err != nil {
		return consoleRequest{}, err
	}

	req := consoleRequest{command: command, flags: session.ExpectResponse}
	var hexParts []string
	for _, f := range fields[1:] {
		switch strings.ToLower(f) {
		case "/cb":
			req.flags |= session.ExpectCallback
		case "/nores":
			req.flags &^= session.ExpectResponse
		default:
			hexParts = append(hexParts, f)
		}
	}
	if len(hexParts) > 0 {
		if req.payload, err = parseHexPayload(strings.Join(hexParts, "")); err != nil {
			return consoleRequest{}, err
		}
	}
	return req, nil
}

// channelTap hands link traffic to the console without blocking the link
type channelTap struct {
	enabled bool
	entries chan string
}

func newChannelTap(enabled bool) *channelTap {
	return &channelTap{enabled: enabled, entries: make(chan string, 256)}
}

func (t *channelTap) Observe(direction frame.Direction, data []byte) {
	if !t.enabled {
		return
	}
	select {
	case t.entries <- fmt.Sprintf("%s %s", direction, frame.FormatWire(data)):
	default:
	}
}

const (
	consoleTick     = 250 * time.Millisecond
	consoleWait     = 10 * time.Second
	maxConsoleLines = 500
)

// Console messages
type consoleTickMsg time.Time

type commandDoneMsg struct {
	result exchangeResult
	err    error
}

type connectionLostMsg struct{}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(consoleTick, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

// exchangeCmd runs one exchange off the UI goroutine
func exchangeCmd(c commander, req consoleRequest, wait time.Duration) tea.Cmd {
	return func() tea.Msg {
		res, err := exchange(c, req.command, req.flags, req.payload, wait)
		return commandDoneMsg{result: res, err: err}
	}
}
