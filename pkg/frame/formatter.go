// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable block
func FormatFrame(f *Frame) string {
	result := FormatFrameLine(f) + "\n"
	if len(f.payload) > 0 {
		result += FormatPayload(f.payload)
	}
	return result
}

// FormatFrameLine formats a frame header on a single line
func FormatFrameLine(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] %s %s (0x%02X) len=%d chk=0x%02X",
		timestamp, FormatType(f.frameType), FormatCommand(f.command), f.command, f.length, f.checksum)
}

// FormatCommand returns the human-readable name for a command id
func FormatCommand(command uint8) string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return "UNKNOWN"
}

// FormatType returns "REQ" or "RES"
func FormatType(t Type) string {
	switch t {
	case TypeRequest:
		return "REQ"
	case TypeResponse:
		return "RES"
	default:
		return fmt.Sprintf("TYPE_%02X", uint8(t))
	}
}

// FormatToken returns the name of a control token
func FormatToken(t Token) string {
	switch t {
	case TokenACK:
		return "ACK"
	case TokenNAK:
		return "NAK"
	case TokenCAN:
		return "CAN"
	default:
		return fmt.Sprintf("0x%02X", uint8(t))
	}
}

// FormatPayload formats payload bytes as an indented hex dump
func FormatPayload(payload []byte) string {
	var sb strings.Builder
	sb.WriteString("  Payload: ")
	for i, b := range payload {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n           ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}
	sb.WriteString("\n")
	return sb.String()
}

// FormatWire formats raw link bytes: a data frame, a control token, or a hex dump
func FormatWire(data []byte) string {
	if len(data) == 1 {
		return FormatToken(Token(data[0]))
	}
	if err := VerifyFrame(data); err == nil {
		f := NewFrame(Type(data[2]), data[3], data[4:len(data)-1])
		return fmt.Sprintf("%s %s (0x%02X) % X", FormatType(f.Type()), FormatCommand(f.Command()), f.Command(), f.payload)
	}
	return fmt.Sprintf("% X", data)
}
