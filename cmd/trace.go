// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/trace"
	"github.com/spf13/cobra"
)

var traceFrames bool

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print a link capture",
	Long: `Print the records of a capture written with --capture.

Each record shows its time, direction (rx/tx) and the decoded frame or
token. With --frames only data frames are shown, with their payload.`,
	Args: cobra.ExactArgs(1),
	// No connection or metrics needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().BoolVar(&traceFrames, "frames", false, "Only show data frames, with payload")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := printTrace(cmd.OutOrStdout(), f, traceFrames)
	fmt.Fprintf(cmd.ErrOrStderr(), "%d records\n", n)
	return err
}

// printTrace writes one line per record and returns the number of records read
func printTrace(w io.Writer, r io.Reader, framesOnly bool) (int, error) {
	reader := trace.NewReader(r)
	count := 0
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++

		if framesOnly {
			if rec.Kind != trace.KindFrame {
				continue
			}
			fmt.Fprintln(w, rec)
			if len(rec.Data) > 5 {
				fmt.Fprint(w, formatRecordPayload(rec))
			}
			continue
		}
		fmt.Fprintln(w, rec)
	}
}

// formatRecordPayload dumps the payload of a captured data frame
func formatRecordPayload(rec trace.Record) string {
	// SOF LEN TYPE CMD ... CHK
	payload := rec.Data[4 : len(rec.Data)-1]
	return frame.FormatPayload(payload)
}
