// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trace

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	getVersion := frame.MustEncodeFrame(frame.TypeRequest, frame.CmdGetVersion, nil)
	rec.Observe(frame.DirectionTx, getVersion)
	rec.Observe(frame.DirectionRx, []byte{frame.ACK})
	rec.Observe(frame.DirectionRx, []byte{0x42, 0x43})
	require.NoError(t, rec.Err())
	assert.Equal(t, 3, rec.Count())

	records, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, frame.DirectionTx, records[0].Direction)
	assert.Equal(t, KindFrame, records[0].Kind)
	assert.Equal(t, getVersion, records[0].Data)
	assert.Equal(t, KindToken, records[1].Kind)
	assert.Equal(t, KindRaw, records[2].Kind)
	assert.LessOrEqual(t, records[0].Time, records[1].Time)

	assert.Contains(t, records[0].String(), "tx REQ GET_VERSION (0x15)")
	assert.Contains(t, records[1].String(), "rx ACK")
}

func TestRecord_IntegerKeys(t *testing.T) {
	data, err := cbor.Marshal(Record{Time: 1, Direction: frame.DirectionRx, Kind: KindToken, Data: []byte{frame.NAK}})
	require.NoError(t, err)

	var m map[int]interface{}
	require.NoError(t, cbor.Unmarshal(data, &m))
	assert.Equal(t, uint64(1), m[0])
	assert.Equal(t, uint64(frame.DirectionRx), m[1])
	assert.Equal(t, uint64(KindToken), m[2])
	assert.Equal(t, []byte{frame.NAK}, m[3])
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	rec.Observe(frame.DirectionTx, frame.MustEncodeFrame(frame.TypeRequest, 0x13, []byte{1, 2, 3}))

	data := buf.Bytes()
	records, err := ReadAll(bytes.NewReader(data[:len(data)-2]))
	assert.Error(t, err)
	assert.Empty(t, records)
}

// failingWriter fails every write
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorder_StopsAfterWriteError(t *testing.T) {
	rec := NewRecorder(failingWriter{})
	rec.Observe(frame.DirectionTx, []byte{frame.ACK})
	rec.Observe(frame.DirectionTx, []byte{frame.ACK})

	assert.Error(t, rec.Err())
	assert.Equal(t, 0, rec.Count())
	assert.Error(t, rec.Close())
}

func TestCreate_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.cbor")

	for i := 0; i < 2; i++ {
		rec, err := Create(path)
		require.NoError(t, err)
		rec.Observe(frame.DirectionRx, []byte{frame.CAN})
		require.NoError(t, rec.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadAll(f)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
