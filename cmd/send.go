// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/spf13/cobra"
)

var (
	sendExpectResponse bool
	sendExpectCallback bool
	sendWait           time.Duration
)

// errNoCallback is returned when the callback did not arrive in time
var errNoCallback = errors.New("no callback received")

var sendCmd = &cobra.Command{
	Use:   "send <command> [payload-hex]",
	Short: "Send one serial API command",
	Long: `Send one request frame and print the outcome.

The command is a name such as GET_VERSION or SEND_DATA, or a numeric id
such as 0x15. The payload is hex, with optional spaces or colons.

With --callback a function id is appended to the payload and the command
waits up to --wait for the matching callback request.

Exit codes:
  0 - Command completed
  1 - Command failed (send, response or callback)`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendExpectResponse, "response", true, "Wait for a response frame")
	sendCmd.Flags().BoolVar(&sendExpectCallback, "callback", false, "Append a function id and wait for its callback")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "How long to wait for the callback")
}

func runSend(cmd *cobra.Command, args []string) error {
	command, err := frame.ParseCommand(args[0])
	if err != nil {
		return err
	}
	var payload []byte
	if len(args) > 1 {
		if payload, err = parseHexPayload(args[1]); err != nil {
			return err
		}
	}

	l, err := openLink(nil)
	if err != nil {
		return err
	}
	defer l.Close()

	out := cmd.OutOrStdout()
	res, err := exchange(l, command, commandFlags(sendExpectResponse, sendExpectCallback), payload, sendWait)
	printExchange(out, res)
	return err
}

// exchangeResult is everything one command produced
type exchangeResult struct {
	command  uint8
	response *session.Response
	callback *session.Command
}

// commander is the part of the driver used to send commands
type commander interface {
	SendCommand(command uint8, flags session.Flags, payload []byte, cb session.Callback) (*session.Response, error)
}

// exchange sends one command and, for callback commands, waits up to wait
// for the callback
func exchange(c commander, command uint8, flags session.Flags, payload []byte, wait time.Duration) (exchangeResult, error) {
	res := exchangeResult{command: command}

	var cb session.Callback
	callbacks := make(chan *session.Command, 1)
	if flags&session.ExpectCallback != 0 {
		cb = func(c *session.Command) {
			select {
			case callbacks <- c:
			default:
			}
		}
	}

	response, err := c.SendCommand(command, flags, payload, cb)
	res.response = response
	if err != nil {
		return res, fmt.Errorf("%s: %w", frame.FormatCommand(command), err)
	}
	if cb == nil {
		return res, nil
	}

	select {
	case res.callback = <-callbacks:
		return res, nil
	case <-time.After(wait):
		return res, fmt.Errorf("%s: %w within %s", frame.FormatCommand(command), errNoCallback, wait)
	}
}

func printExchange(w io.Writer, res exchangeResult) {
	fmt.Fprintf(w, "%s (0x%02X)\n", frame.FormatCommand(res.command), res.command)
	if res.response != nil {
		fmt.Fprintf(w, "  Response: % X\n", res.response.Payload)
	}
	if res.callback != nil {
		fmt.Fprintf(w, "  Callback: %s\n", describeCommand(res.callback))
	}
}

func commandFlags(response, callback bool) session.Flags {
	var flags session.Flags
	if response {
		flags |= session.ExpectResponse
	}
	if callback {
		flags |= session.ExpectCallback
	}
	return flags
}

// parseHexPayload accepts "01 02 ff", "01:02:ff" or "0102ff"
func parseHexPayload(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid payload %q: %w", s, err)
	}
	return data, nil
}
