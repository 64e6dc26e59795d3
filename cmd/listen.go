// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/zwserial/pkg/driver"
	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/spf13/cobra"
)

var listenShowTokens bool

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Display link traffic in human-readable format",
	Long: `Continuously display frames exchanged with the controller.

Every frame is acknowledged by the driver. Requests that match no pending
callback are printed as unsolicited commands. Link statistics are printed
on exit.

Supports both serial and WebSocket connections.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().BoolVar(&listenShowTokens, "tokens", false, "Also print ACK/NAK/CAN tokens")
}

func runListen(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	tap := &printTap{w: out, tokens: listenShowTokens}

	l, err := openLink(tap, driver.WithUnsolicited(func(c *session.Command) {
		tap.println("UNSOLICITED " + describeCommand(c))
	}))
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Fprintf(out, "zwserial - Listen\n")
	fmt.Fprintf(out, "Connection: %s\n", l)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case <-l.Done():
		logger.Warn("connection closed")
	}

	fmt.Fprintf(out, "\n%s", l.Stats().Link)
	return nil
}

// printTap writes link traffic as text, one line per frame or token
type printTap struct {
	mu     sync.Mutex
	w      io.Writer
	tokens bool
}

func (p *printTap) Observe(direction frame.Direction, data []byte) {
	if len(data) == 1 && !p.tokens {
		return
	}
	p.println(fmt.Sprintf("[%s] %s %s", time.Now().Format("15:04:05.000"), direction, frame.FormatWire(data)))
}

func (p *printTap) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}
