// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package trace captures link traffic as a stream of CBOR records.
//
// Each record is a map with integer keys:
//
//	{0: unix-nanos, 1: direction, 2: kind, 3: bytes}
//
// Records are written back to back with no framing, so a capture can be
// appended to and read while it grows.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/fxamacker/cbor/v2"
)

// Kind classifies the bytes of a record
type Kind uint8

// Record kinds
const (
	KindFrame Kind = iota
	KindToken
	KindRaw
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "FRAME"
	case KindToken:
		return "TOKEN"
	case KindRaw:
		return "RAW"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

// Record is one captured link event
type Record struct {
	Time      int64           `cbor:"0,keyasint"`
	Direction frame.Direction `cbor:"1,keyasint"`
	Kind      Kind            `cbor:"2,keyasint"`
	Data      []byte          `cbor:"3,keyasint"`
}

// Timestamp returns the record time
func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// String formats the record on one line
func (r Record) String() string {
	return fmt.Sprintf("[%s] %s %s", r.Timestamp().Format("15:04:05.000"), r.Direction, frame.FormatWire(r.Data))
}

// classify returns the record kind for wire bytes
func classify(data []byte) Kind {
	switch {
	case len(data) == 1:
		return KindToken
	case len(data) > 1 && data[0] == frame.SOF:
		return KindFrame
	default:
		return KindRaw
	}
}

// Recorder writes link traffic to a capture. It implements frame.Tap.
type Recorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	err    error
	count  int
}

// NewRecorder writes records to w
func NewRecorder(w io.Writer) *Recorder {
	r := &Recorder{enc: cbor.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Create opens path for appending and returns a recorder writing to it
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	return NewRecorder(f), nil
}

// Observe records one frame or token. After the first write error the
// recorder stops writing; the error is returned by Err and Close.
func (r *Recorder) Observe(direction frame.Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	rec := Record{
		Time:      time.Now().UnixNano(),
		Direction: direction,
		Kind:      classify(data),
		Data:      append([]byte(nil), data...),
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("write capture record: %w", err)
		return
	}
	r.count++
}

// Count returns the number of records written
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying writer if it is closable
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	return errors.Join(r.err, err)
}

// Reader iterates the records of a capture
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every record in r
func ReadAll(r io.Reader) ([]Record, error) {
	reader := NewReader(r)
	var records []Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
