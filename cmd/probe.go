// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/transport"
	"github.com/spf13/cobra"
)

var (
	probeTimeout time.Duration
	probePing    bool
	probeList    bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid frame or token",
	Long: `Wait for a valid data frame or ACK/NAK/CAN token until timeout.

The driver is not started: bytes are decoded directly and nothing is
acknowledged. Invalid bytes are counted and skipped. With --ping a
GET_VERSION request is written first so a quiet controller answers with ACK.

With --list the serial ports on this machine are printed instead.

Exit codes:
  0 - Frame or token received before timeout
  1 - Timeout reached without receiving anything valid
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "How long to wait")
	probeCmd.Flags().BoolVar(&probePing, "ping", false, "Write a GET_VERSION request before waiting")
	probeCmd.Flags().BoolVar(&probeList, "list", false, "List serial ports and exit")
}

func runProbe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if probeList {
		return listPorts(out)
	}

	t, err := openTransport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Fprintf(out, "zwserial - Probe\n")
	fmt.Fprintf(out, "Connection: %s\n", t)
	fmt.Fprintf(out, "Timeout: %s\n\n", probeTimeout)

	result, err := probe(t, probePing, probeTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	if !result.found() {
		fmt.Fprintf(os.Stderr, "TIMEOUT: nothing valid received within %s\n", probeTimeout)
		os.Exit(1)
	}

	if result.invalid > 0 {
		fmt.Fprintf(out, "(skipped %d invalid bytes or frames before sync)\n", result.invalid)
	}
	fmt.Fprintf(out, "SUCCESS: received %s\n", result)
	return nil
}

func listPorts(w io.Writer) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

// probeResult is the first valid thing seen on the wire
type probeResult struct {
	token   frame.Token
	frame   *frame.Frame
	invalid int
}

func (r probeResult) found() bool {
	return r.frame != nil || r.token != frame.TokenNone
}

func (r probeResult) String() string {
	if r.frame != nil {
		return "frame " + r.frame.String()
	}
	return "token " + frame.FormatToken(r.token)
}

// probe starts t and waits for the first valid frame or token
func probe(t transport.Transport, ping bool, timeout time.Duration) (probeResult, error) {
	h := &probeHandler{decoder: frame.NewDecoder(), found: make(chan struct{})}
	if err := t.Start(h); err != nil {
		return probeResult{}, err
	}
	if ping {
		if err := t.Write(frame.MustEncodeFrame(frame.TypeRequest, frame.CmdGetVersion, nil)); err != nil {
			return probeResult{}, err
		}
	}

	select {
	case <-h.found:
	case <-t.Done():
	case <-time.After(timeout):
	}
	return h.snapshot(), nil
}

// probeHandler decodes bytes until the first valid frame or token
type probeHandler struct {
	mu      sync.Mutex
	decoder *frame.Decoder
	result  probeResult
	found   chan struct{}
}

func (h *probeHandler) OnBytesReceived(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result.found() {
		return
	}
	for _, b := range data {
		token, f, err := h.decoder.DecodeByte(b)
		switch {
		case err != nil:
			h.result.invalid++
		case f != nil:
			h.result.frame = f
		case token != frame.TokenNone:
			h.result.token = token
		}
		if h.result.found() {
			close(h.found)
			return
		}
	}
}

func (h *probeHandler) OnReadTimeout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decoder.Timeout()
}

func (h *probeHandler) snapshot() probeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}
