// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestCalculateChecksum_Empty(t *testing.T) {
	assert.Equal(t, byte(checksumSeed), CalculateChecksum(nil))
}

func TestCalculateChecksum_KnownFrames(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"get version request", []byte{0x03, 0x00, 0x15}, 0xE9},
		{"get init data request", []byte{0x03, 0x00, 0x02}, 0xFE},
		{"self cancelling bytes", []byte{0xAA, 0xAA}, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateChecksum(tt.data))
		})
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_GetVersion(t *testing.T) {
	wire, err := EncodeFrame(TypeRequest, CmdGetVersion, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{SOF, 0x03, 0x00, 0x15, 0xE9}, wire)
}

func TestEncodeFrame_LengthCountsTypeCommandPayloadChecksum(t *testing.T) {
	for _, n := range []int{0, 1, 2, 17, MaxPayloadSize} {
		payload := make([]byte, n)
		wire, err := EncodeFrame(TypeResponse, 0x20, payload)
		require.NoError(t, err)
		assert.Equal(t, byte(3+n), wire[1], "payload len %d", n)
		assert.Len(t, wire, 2+3+n)
	}
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(TypeRequest, 0x13, make([]byte, MaxPayloadSize+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestEncodeFrame_InvalidType(t *testing.T) {
	_, err := EncodeFrame(Type(0x02), 0x13, nil)
	assert.Error(t, err)
}

func TestMustEncodeFrame_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustEncodeFrame(TypeRequest, 0x13, make([]byte, MaxPayloadSize+1))
	})
}

func TestVerifyFrame(t *testing.T) {
	good := MustEncodeFrame(TypeRequest, 0x13, []byte{0x02, 0x01, 0x25, 0x01})
	require.NoError(t, VerifyFrame(good))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"too short", func(b []byte) []byte { return b[:3] }},
		{"missing SOF", func(b []byte) []byte { b[0] = ACK; return b }},
		{"length mismatch", func(b []byte) []byte { b[1]++; return b }},
		{"truncated", func(b []byte) []byte { return b[:len(b)-1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), good...))
			assert.Error(t, VerifyFrame(data))
		})
	}

	t.Run("checksum mismatch", func(t *testing.T) {
		data := append([]byte(nil), good...)
		data[len(data)-1] ^= 0x01
		var csErr *ChecksumError
		require.True(t, errors.As(VerifyFrame(data), &csErr))
		assert.Equal(t, good[len(good)-1], csErr.Expected)
	})
}

// ============================================================
// Frame Tests
// ============================================================

func TestNewFrame_CopiesPayload(t *testing.T) {
	payload := []byte{0x01, 0x02}
	f := NewFrame(TypeRequest, 0x04, payload)
	payload[0] = 0xFF

	b, ok := f.PayloadByte(0)
	require.True(t, ok)
	assert.Equal(t, byte(0x01), b)

	got := f.Payload()
	got[1] = 0xFF
	b, _ = f.PayloadByte(1)
	assert.Equal(t, byte(0x02), b)

	_, ok = f.PayloadByte(2)
	assert.False(t, ok)
	_, ok = f.PayloadByte(-1)
	assert.False(t, ok)
}

func TestNewFrame_Accessors(t *testing.T) {
	f := NewFrame(TypeResponse, CmdGetVersion, []byte{0x5A})
	assert.Equal(t, uint8(4), f.Length())
	assert.Equal(t, TypeResponse, f.Type())
	assert.Equal(t, uint8(CmdGetVersion), f.Command())
	assert.Equal(t, 1, f.PayloadLen())
	assert.True(t, f.IsResponse())
	assert.False(t, f.IsRequest())
	assert.NoError(t, VerifyFrame(f.Encode()))
}

// ============================================================
// Decoder Tests
// ============================================================

// decodeAll feeds data through d and collects tokens, frames and errors
func decodeAll(d *Decoder, data []byte) ([]Token, []*Frame, []error) {
	var tokens []Token
	var frames []*Frame
	var errs []error
	for _, b := range data {
		token, f, err := d.DecodeByte(b)
		switch {
		case err != nil:
			errs = append(errs, err)
		case token != TokenNone:
			tokens = append(tokens, token)
		case f != nil:
			frames = append(frames, f)
		}
	}
	return tokens, frames, errs
}

func TestDecoder_ControlTokens(t *testing.T) {
	d := NewDecoder()
	tokens, frames, errs := decodeAll(d, []byte{ACK, NAK, CAN})
	assert.Equal(t, []Token{TokenACK, TokenNAK, TokenCAN}, tokens)
	assert.Empty(t, frames)
	assert.Empty(t, errs)
	assert.False(t, d.InProgress())
}

func TestDecoder_ValidFrame(t *testing.T) {
	d := NewDecoder()
	wire := MustEncodeFrame(TypeResponse, CmdGetVersion, []byte("Z-Wave 7.18\x00\x07"))

	_, frames, errs := decodeAll(d, wire)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, TypeResponse, f.Type())
	assert.Equal(t, uint8(CmdGetVersion), f.Command())
	assert.Equal(t, []byte("Z-Wave 7.18\x00\x07"), f.Payload())
	assert.Equal(t, wire, f.Encode())
	assert.False(t, d.InProgress())
}

func TestDecoder_EmptyPayload(t *testing.T) {
	d := NewDecoder()
	_, frames, errs := decodeAll(d, []byte{SOF, 0x03, 0x00, 0x15, 0xE9})
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, 0, frames[0].PayloadLen())
}

func TestDecoder_UnexpectedByteInIdle(t *testing.T) {
	d := NewDecoder()
	_, _, errs := decodeAll(d, []byte{0x42})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnexpectedByte, errs[0])
	assert.False(t, d.InProgress())
}

func TestDecoder_ShortLengthDiscarded(t *testing.T) {
	for _, length := range []byte{0x00, 0x01, 0x02} {
		d := NewDecoder()
		_, frames, errs := decodeAll(d, []byte{SOF, length})
		assert.Empty(t, frames)
		require.Len(t, errs, 1)
		assert.Equal(t, ErrMalformedFrame, errs[0])
		assert.False(t, d.InProgress())
	}
}

func TestDecoder_BadTypeDiscarded(t *testing.T) {
	d := NewDecoder()
	_, _, errs := decodeAll(d, []byte{SOF, 0x03, 0x02})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrMalformedFrame, errs[0])
	assert.False(t, d.InProgress())

	// Recovers on the next frame
	_, frames, errs := decodeAll(d, []byte{SOF, 0x03, 0x00, 0x15, 0xE9})
	assert.Empty(t, errs)
	assert.Len(t, frames, 1)
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	d := NewDecoder()
	_, frames, errs := decodeAll(d, []byte{SOF, 0x03, 0x00, 0x15, 0xE8})
	assert.Empty(t, frames)
	require.Len(t, errs, 1)

	var csErr *ChecksumError
	require.True(t, errors.As(errs[0], &csErr))
	assert.Equal(t, byte(0xE9), csErr.Expected)
	assert.Equal(t, byte(0xE8), csErr.Received)
	assert.False(t, d.InProgress())
}

func TestDecoder_TimeoutAbandonsPartialFrame(t *testing.T) {
	d := NewDecoder()
	_, _, _ = decodeAll(d, []byte{SOF, 0x05, 0x00, 0x13})
	assert.True(t, d.InProgress())
	assert.Equal(t, []byte{SOF, 0x05, 0x00, 0x13}, d.GetRawBytes())

	assert.True(t, d.Timeout())
	assert.False(t, d.InProgress())
	assert.False(t, d.Timeout())

	_, frames, errs := decodeAll(d, []byte{SOF, 0x03, 0x00, 0x15, 0xE9})
	assert.Empty(t, errs)
	assert.Len(t, frames, 1)
}

func TestDecoder_BackToBackFramesAndTokens(t *testing.T) {
	d := NewDecoder()
	stream := []byte{ACK}
	stream = append(stream, MustEncodeFrame(TypeResponse, 0x13, []byte{0x01})...)
	stream = append(stream, MustEncodeFrame(TypeRequest, 0x13, []byte{0x07, 0x00})...)
	stream = append(stream, CAN)

	tokens, frames, errs := decodeAll(d, stream)
	assert.Empty(t, errs)
	assert.Equal(t, []Token{TokenACK, TokenCAN}, tokens)
	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsResponse())
	assert.True(t, frames[1].IsRequest())
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatCommand(t *testing.T) {
	assert.Equal(t, "SEND_DATA", FormatCommand(CmdSendData))
	assert.Equal(t, "GET_VERSION", FormatCommand(CmdGetVersion))
	assert.Equal(t, "UNKNOWN", FormatCommand(0xEE))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want uint8
	}{
		{"SEND_DATA", CmdSendData},
		{"get_version", CmdGetVersion},
		{"0x13", 0x13},
		{"21", 21},
		{"0xEE", 0xEE},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseCommand("FLY_AWAY")
	assert.Error(t, err)
	_, err = ParseCommand("0x100")
	assert.Error(t, err)
}

func TestFormatTypeAndToken(t *testing.T) {
	assert.Equal(t, "REQ", FormatType(TypeRequest))
	assert.Equal(t, "RES", FormatType(TypeResponse))
	assert.Equal(t, "TYPE_07", FormatType(Type(7)))
	assert.Equal(t, "ACK", FormatToken(TokenACK))
	assert.Equal(t, "NAK", FormatToken(TokenNAK))
	assert.Equal(t, "CAN", FormatToken(TokenCAN))
}

func TestFormatFrame(t *testing.T) {
	f := NewFrame(TypeRequest, CmdSendData, []byte{0x02, 0x01, 0x25})
	out := FormatFrame(f)
	assert.Contains(t, out, "REQ SEND_DATA (0x13) len=6")
	assert.Contains(t, out, "Payload: 02 01 25")
	assert.Equal(t, FormatFrameLine(f), f.String())
}

func TestFormatWire(t *testing.T) {
	assert.Equal(t, "NAK", FormatWire([]byte{NAK}))
	assert.True(t, strings.HasPrefix(FormatWire(MustEncodeFrame(TypeResponse, CmdGetVersion, []byte{0x01})), "RES GET_VERSION"))
	assert.Equal(t, "01 02", FormatWire([]byte{0x01, 0x02}))
}

func TestSendStatus_Err(t *testing.T) {
	assert.NoError(t, SendOK.Err())
	assert.Equal(t, ErrResendExhaustedChecksum, SendFailChecksum.Err())
	assert.Equal(t, ErrResendExhaustedDropped, SendFailDropped.Err())
	assert.Equal(t, ErrSendTimeout, SendTimeout.Err())

	var tErr *TransportError
	assert.True(t, errors.As(SendTransportError.Err(), &tErr))
	assert.Equal(t, "SEND_FAIL_CHECKSUM", SendFailChecksum.String())
}
