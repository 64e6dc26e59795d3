// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketConfig describes a serial-over-WebSocket bridge endpoint
type WebSocketConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WebSocket is a transport over a WebSocket bridge carrying raw serial
// bytes in binary messages
type WebSocket struct {
	conn   *websocket.Conn
	url    string
	opts   Options
	logger log.FieldLogger

	wmu    sync.Mutex
	closed atomic.Bool

	lmu     sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth
func DialWebSocket(ctx context.Context, cfg WebSocketConfig, opts Options) (*WebSocket, error) {
	// Parse and validate URL
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocket(conn, cfg.URL, opts), nil
}

func newWebSocket(conn *websocket.Conn, rawURL string, opts Options) *WebSocket {
	opts = opts.withDefaults()
	return &WebSocket{
		conn:   conn,
		url:    rawURL,
		opts:   opts,
		logger: opts.Logger.WithField("url", rawURL),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins reading binary messages
func (w *WebSocket) Start(h Handler) error {
	w.lmu.Lock()
	defer w.lmu.Unlock()

	if w.closed.Load() {
		return ErrClosed
	}
	if w.started {
		return fmt.Errorf("websocket %s: already started", w.url)
	}
	w.started = true

	messages := make(chan []byte, 16)
	go w.readMessages(messages)
	go func() {
		defer close(w.done)
		pump(h, messages, w.opts.ReadTimeout, w.stop)
	}()
	return nil
}

// readMessages forwards binary messages until the connection fails
func (w *WebSocket) readMessages(out chan<- []byte) {
	defer close(out)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed.Load() {
				w.logger.WithError(err).Error("websocket read failed")
			}
			return
		}
		// Only binary messages carry serial bytes
		if messageType != websocket.BinaryMessage {
			continue
		}
		select {
		case out <- data:
		case <-w.stop:
			return
		}
	}
}

// Write sends data as one binary message
func (w *WebSocket) Write(data []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket %s: write: %w", w.url, err)
	}
	return nil
}

// Close sends a close message and tears down the connection
func (w *WebSocket) Close() error {
	w.lmu.Lock()
	defer w.lmu.Unlock()

	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.wmu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.wmu.Unlock()

	close(w.stop)
	err := w.conn.Close()
	if w.started {
		<-w.done
	} else {
		close(w.done)
	}
	return err
}

// Done is closed when inbound delivery stops
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

func (w *WebSocket) String() string {
	return fmt.Sprintf("WebSocket: %s", w.url)
}
