// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/zwserial/pkg/frame"
	"github.com/Thermoquad/zwserial/pkg/metrics"
	"github.com/Thermoquad/zwserial/pkg/session"
	"github.com/Thermoquad/zwserial/pkg/trace"
	"github.com/Thermoquad/zwserial/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Simulated Device
// ============================================================

// device is the far end of a pipe speaking the link protocol.
// onFrame scripts its answer to each host frame.
type device struct {
	end *transport.Pipe
	dec *frame.Decoder

	mu      sync.Mutex
	wire    [][]byte
	frames  []*frame.Frame
	tokens  []frame.Token
	onFrame func(d *device, f *frame.Frame)
}

func newDevice(t *testing.T, end *transport.Pipe, onFrame func(d *device, f *frame.Frame)) *device {
	t.Helper()
	d := &device{end: end, dec: frame.NewDecoder(), onFrame: onFrame}
	require.NoError(t, end.Start(d))
	t.Cleanup(func() { _ = end.Close() })
	return d
}

func (d *device) OnBytesReceived(data []byte) {
	for _, b := range data {
		token, f, err := d.dec.DecodeByte(b)
		switch {
		case err != nil:
			// Host frames are always well formed in these tests
		case token != frame.TokenNone:
			d.mu.Lock()
			d.tokens = append(d.tokens, token)
			d.mu.Unlock()
		case f != nil:
			d.mu.Lock()
			d.frames = append(d.frames, f)
			d.wire = append(d.wire, f.Encode())
			onFrame := d.onFrame
			d.mu.Unlock()
			if onFrame != nil {
				onFrame(d, f)
			}
		}
	}
}

func (d *device) OnReadTimeout() {
	d.dec.Timeout()
}

func (d *device) send(data ...[]byte) {
	for _, b := range data {
		_ = d.end.Write(b)
	}
}

func (d *device) receivedFrames() []*frame.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*frame.Frame(nil), d.frames...)
}

func (d *device) receivedWire() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.wire...)
}

func (d *device) receivedTokens() []frame.Token {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]frame.Token(nil), d.tokens...)
}

var ack = []byte{frame.ACK}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NAKOnStart = false
	return cfg
}

func openTestDriver(t *testing.T, cfg Config, onFrame func(d *device, f *frame.Frame), opts ...Option) (*Driver, *device) {
	t.Helper()
	host, far := transport.NewPipe(transport.Options{})
	dev := newDevice(t, far, onFrame)
	drv, err := Open(host, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return drv, dev
}

// ============================================================
// Scenario Tests
// ============================================================

// counterValue returns the value of the counter series with label=value
func counterValue(t *testing.T, reg prometheus.Gatherer, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestDriver_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector()
	require.NoError(t, c.Register(reg))

	drv, _ := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send(ack, frame.MustEncodeFrame(frame.TypeResponse, f.Command(), []byte{0x01}))
	}, WithMetrics(c))

	_, err := drv.SendCommand(frame.CmdGetVersion, session.ExpectResponse, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, counterValue(t, reg, "zwserial_session_commands_total", "result", "ok"))
	count, err := testutil.GatherAndCount(reg, "zwserial_frame_frames_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one tx REQ series and one rx RES series")
}

func TestDriver_GetVersion(t *testing.T) {
	drv, dev := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send(ack, frame.MustEncodeFrame(frame.TypeResponse, f.Command(), []byte("Z-Wave 7.18\x00\x07")))
	})

	resp, err := drv.SendCommand(frame.CmdGetVersion, session.ExpectResponse, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("Z-Wave 7.18\x00\x07"), resp.Payload)

	assert.Equal(t, [][]byte{{frame.SOF, 0x03, 0x00, 0x15, 0xE9}}, dev.receivedWire())
	// The host acknowledges the response frame
	require.Eventually(t, func() bool {
		return len(dev.receivedTokens()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []frame.Token{frame.TokenACK}, dev.receivedTokens())
}

func TestDriver_SendDataWithCallback(t *testing.T) {
	callbacks := make(chan *session.Command, 4)
	drv, dev := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send(ack)
	})

	// Empty user payload: type, command, function id and checksum
	_, err := drv.SendCommand(frame.CmdSendData, session.ExpectCallback, nil, func(cmd *session.Command) {
		callbacks <- cmd
	})
	require.NoError(t, err)

	sent := dev.receivedFrames()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(4), sent[0].Length())
	funcID, ok := sent[0].PayloadByte(0)
	require.True(t, ok)
	assert.Equal(t, uint8(1), funcID)
	assert.NoError(t, frame.VerifyFrame(dev.receivedWire()[0]))

	// One byte of user payload adds one to the length
	_, err = drv.SendCommand(frame.CmdSendData, session.ExpectCallback, []byte{0x07}, func(cmd *session.Command) {
		callbacks <- cmd
	})
	require.NoError(t, err)
	sent = dev.receivedFrames()
	assert.Equal(t, uint8(5), sent[1].Length())
	assert.Equal(t, []byte{0x07, 0x02}, sent[1].Payload())

	// Transmit-complete callback for the first command
	dev.send(frame.MustEncodeFrame(frame.TypeRequest, frame.CmdSendData, []byte{funcID, 0x00}))

	select {
	case cmd := <-callbacks:
		assert.Equal(t, funcID, cmd.FunctionID)
		assert.Equal(t, []byte{0x00}, cmd.Args())
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, callbacks, "callback must run exactly once")
}

func TestDriver_ThreeNAKs(t *testing.T) {
	drv, dev := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send([]byte{frame.NAK})
	})

	_, err := drv.SendCommand(frame.CmdGetVersion, session.ExpectResponse, nil, nil)
	assert.True(t, errors.Is(err, frame.ErrResendExhaustedChecksum), "got %v", err)
	assert.Len(t, dev.receivedFrames(), 1+frame.MaxResend)
	assert.False(t, drv.Busy())

	stats := drv.Stats()
	assert.Equal(t, uint64(frame.MaxResend), stats.Link.Resends)
	assert.Equal(t, uint64(1), stats.Session.Failures)
}

func TestDriver_CANExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.ResendDelay = 5 * time.Millisecond
	drv, dev := openTestDriver(t, cfg, func(d *device, f *frame.Frame) {
		d.send([]byte{frame.CAN})
	})

	_, err := drv.SendCommand(frame.CmdSendData, 0, []byte{0x01}, nil)
	assert.True(t, errors.Is(err, frame.ErrResendExhaustedDropped), "got %v", err)
	assert.Len(t, dev.receivedFrames(), 1+frame.MaxResend)
}

func TestDriver_SendTimeoutThenNextCommandAccepted(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the protocol send timeout")
	}

	answer := false
	var mu sync.Mutex
	drv, _ := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		mu.Lock()
		defer mu.Unlock()
		if answer {
			d.send(ack)
		}
	})

	start := time.Now()
	_, err := drv.SendCommand(frame.CmdGetVersion, session.ExpectResponse, nil, nil)
	elapsed := time.Since(start)
	assert.True(t, errors.Is(err, frame.ErrSendTimeout), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, frame.MinSendTimeout)
	assert.Less(t, elapsed, frame.MinSendTimeout+time.Second)

	mu.Lock()
	answer = true
	mu.Unlock()

	_, err = drv.SendCommand(frame.CmdSerialAPISoftReset, 0, nil, nil)
	assert.NoError(t, err)
}

func TestDriver_UnsolicitedRouted(t *testing.T) {
	unsolicited := make(chan *session.Command, 2)
	drv, dev := openTestDriver(t, testConfig(), nil, WithUnsolicited(func(cmd *session.Command) {
		unsolicited <- cmd
	}))

	// Application command handler: function id 0, rx status, node 5, basic report
	dev.send(frame.MustEncodeFrame(frame.TypeRequest, frame.CmdApplicationCommandHandler, []byte{0x00, 0x05, 0x03, 0x20, 0x03, 0xFF}))

	select {
	case cmd := <-unsolicited:
		assert.Equal(t, uint8(frame.CmdApplicationCommandHandler), cmd.ID)
		assert.Equal(t, uint8(0), cmd.FunctionID)
	case <-time.After(time.Second):
		t.Fatal("unsolicited command not delivered")
	}
	assert.Equal(t, uint64(1), drv.Stats().Session.Unsolicited)
	require.Eventually(t, func() bool { return len(dev.receivedTokens()) == 1 }, time.Second, time.Millisecond)
}

func TestDriver_DeviceResendsAfterHostNAK(t *testing.T) {
	unsolicited := make(chan *session.Command, 2)
	_, dev := openTestDriver(t, testConfig(), nil, WithUnsolicited(func(cmd *session.Command) {
		unsolicited <- cmd
	}))

	good := frame.MustEncodeFrame(frame.TypeRequest, frame.CmdApplicationUpdate, []byte{0x00, 0x84, 0x05})
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0xFF

	dev.send(bad)
	require.Eventually(t, func() bool { return len(dev.receivedTokens()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []frame.Token{frame.TokenNAK}, dev.receivedTokens())
	assert.Empty(t, unsolicited)

	dev.send(good)
	select {
	case cmd := <-unsolicited:
		assert.Equal(t, uint8(frame.CmdApplicationUpdate), cmd.ID)
	case <-time.After(time.Second):
		t.Fatal("resent frame not delivered")
	}
}

func TestDriver_NetworkManagementNotify(t *testing.T) {
	notified := make(chan uint8, 2)
	callbacks := make(chan struct{}, 2)
	drv, dev := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send(ack)
	}, WithNetworkManagementNotify(func(cmd *session.Command) { notified <- cmd.ID }, nil))

	_, err := drv.SendCommand(frame.CmdAddNodeToNetwork, session.ExpectCallback, []byte{0x81}, func(*session.Command) {
		callbacks <- struct{}{}
	})
	require.NoError(t, err)
	funcID := dev.receivedFrames()[0].Payload()[1]

	dev.send(frame.MustEncodeFrame(frame.TypeRequest, frame.CmdAddNodeToNetwork, []byte{funcID, 0x01, 0x00, 0x00}))
	select {
	case id := <-notified:
		assert.Equal(t, uint8(frame.CmdAddNodeToNetwork), id)
	case <-time.After(time.Second):
		t.Fatal("network management hook not called")
	}
	select {
	case <-callbacks:
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

// ============================================================
// Lifecycle Tests
// ============================================================

func TestDriver_NAKOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.NAKOnStart = true
	_, dev := openTestDriver(t, cfg, nil)

	require.Eventually(t, func() bool { return len(dev.receivedTokens()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []frame.Token{frame.TokenNAK}, dev.receivedTokens())
}

func TestDriver_ResponseTimeoutCoversSendTimeout(t *testing.T) {
	tests := []struct {
		name     string
		send     time.Duration
		response time.Duration
		want     time.Duration
	}{
		{"defaults", 0, 0, frame.MinResponseTimeout},
		{"long send timeout raises response floor", 5 * time.Second, 0, 15500 * time.Millisecond},
		{"response below derived floor", 5 * time.Second, 10 * time.Second, 15500 * time.Millisecond},
		{"response above derived floor kept", 5 * time.Second, 20 * time.Second, 20 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SendTimeout = tt.send
			cfg.ResponseTimeout = tt.response
			drv, _ := openTestDriver(t, cfg, nil)

			assert.Equal(t, tt.want, drv.session.ResponseTimeout())
			assert.GreaterOrEqual(t, drv.session.ResponseTimeout(),
				drv.layer.SendTimeout()*(frame.MaxResend+1)+500*time.Millisecond)
		})
	}
}

func TestDriver_OpenFailsOnClosedTransport(t *testing.T) {
	host, far := transport.NewPipe(transport.Options{})
	defer far.Close()
	require.NoError(t, host.Close())

	_, err := Open(host, testConfig())
	assert.True(t, errors.Is(err, transport.ErrClosed), "got %v", err)
}

func TestDriver_CloseIsIdempotent(t *testing.T) {
	drv, _ := openTestDriver(t, testConfig(), nil)
	assert.NoError(t, drv.Close())
	assert.NoError(t, drv.Close())

	_, err := drv.SendCommand(frame.CmdGetVersion, 0, nil, nil)
	assert.Error(t, err)

	select {
	case <-drv.Done():
	case <-time.After(time.Second):
		t.Fatal("transport not stopped")
	}
}

func TestDriver_TraceRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := trace.NewRecorder(&buf)
	drv, _ := openTestDriver(t, testConfig(), func(d *device, f *frame.Frame) {
		d.send(ack, frame.MustEncodeFrame(frame.TypeResponse, f.Command(), []byte{0x01}))
	}, WithTap(rec))

	_, err := drv.SendCommand(frame.CmdMemoryGetID, session.ExpectResponse, nil, nil)
	require.NoError(t, err)
	require.NoError(t, drv.Close())

	records, err := trace.ReadAll(&buf)
	require.NoError(t, err)
	// tx frame, rx ACK, rx frame, tx ACK
	require.Len(t, records, 4)
	assert.Equal(t, trace.KindFrame, records[0].Kind)
	assert.Equal(t, frame.DirectionTx, records[0].Direction)
	assert.Equal(t, trace.KindToken, records[1].Kind)
	assert.Equal(t, trace.KindFrame, records[2].Kind)
	assert.Equal(t, frame.DirectionTx, records[3].Direction)
}
