// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Query the controller's serial API version",
	Long: `Send GET_VERSION and print the controller's protocol version string and
library type.

Useful as a first check that the link is up in both directions.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	l, err := openLink(nil)
	if err != nil {
		return err
	}
	defer l.Close()

	res, err := l.SendCommand(frame.CmdGetVersion, session.ExpectResponse, nil, nil)
	if err != nil {
		return fmt.Errorf("GET_VERSION: %w", err)
	}

	info, err := parseVersion(res.Payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connection: %s\n", l)
	fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", info.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "Library:    %s (%d)\n", info.LibraryName(), info.Library)
	return nil
}

// controllerVersion is a decoded GET_VERSION response
type controllerVersion struct {
	Version string
	Library uint8
}

var libraryNames = map[uint8]string{
	1: "Static Controller",
	2: "Controller",
	3: "Enhanced Slave",
	4: "Slave",
	5: "Installer",
	6: "Routing Slave",
	7: "Bridge Controller",
	8: "Device Under Test",
}

func (v controllerVersion) LibraryName() string {
	if name, ok := libraryNames[v.Library]; ok {
		return name
	}
	return "Unknown"
}

// parseVersion decodes a NUL-terminated version string followed by the
// library type byte
func parseVersion(payload []byte) (controllerVersion, error) {
	end := bytes.IndexByte(payload, 0)
	if end < 0 || end+1 >= len(payload) {
		return controllerVersion{}, fmt.Errorf("GET_VERSION: malformed response % X", payload)
	}
	return controllerVersion{
		Version: string(payload[:end]),
		Library: payload[end+1],
	}, nil
}
