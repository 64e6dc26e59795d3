// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// zwserial - Z-Wave serial API host driver
//
// A CLI tool for talking to a Z-Wave controller over its serial API,
// directly or through a WebSocket serial bridge.

package main

import (
	"os"

	"github.com/Thermoquad/zwserial/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
