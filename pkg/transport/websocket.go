// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Cogni-Robot/servo-controller/pkg/st3215"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketOptions configures DialWebSocket
type WebSocketOptions struct {
	Username           string
	Password           string
	InsecureSkipVerify bool // wss:// only
	HandshakeTimeout   time.Duration
}

// WebSocket is a serial-over-WebSocket bridge. Bus bytes travel as binary
// messages in both directions; message boundaries carry no meaning.
//
// A gorilla connection cannot be read again after a read deadline expires,
// so a reader goroutine pumps messages into a channel and ReadByte waits on
// that instead.
type WebSocket struct {
	conn *websocket.Conn
	url  string

	rx   chan []byte
	done chan struct{}
	once sync.Once

	errMu sync.Mutex
	err   error

	buf []byte
	off int
}

// DialWebSocket connects to a bridge at rawURL (ws:// or wss://)
func DialWebSocket(ctx context.Context, rawURL string, opts WebSocketOptions) (*WebSocket, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &st3215.OpenError{Path: rawURL, Err: errors.Wrap(err, "invalid URL")}
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, &st3215.OpenError{
			Path: rawURL,
			Err:  errors.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme),
		}
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			err = errors.Wrapf(err, "HTTP %d", resp.StatusCode)
		}
		return nil, &st3215.OpenError{Path: rawURL, Err: err}
	}

	w := &WebSocket{
		conn: conn,
		url:  rawURL,
		rx:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// WebSocketOpener returns an st3215.Opener that dials the bridge. The path
// passed to the opener is used as the URL and the baud rate is ignored.
func WebSocketOpener(ctx context.Context, opts WebSocketOptions) st3215.Opener {
	return func(path string, _ int) (st3215.Transport, error) {
		return DialWebSocket(ctx, path, opts)
	}
}

func (w *WebSocket) readLoop() {
	defer close(w.rx)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.setErr(err)
			return
		}

		// Only binary messages carry bus bytes
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		select {
		case w.rx <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

func (w *WebSocket) readErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		return ErrConnectionClosed
	}
	return errors.Wrap(ErrConnectionClosed, w.err.Error())
}

func (w *WebSocket) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.Wrapf(err, "write %s", w.url)
	}
	return len(p), nil
}

// ReadByte returns the next received byte, waiting up to timeout.
func (w *WebSocket) ReadByte(timeout time.Duration) (byte, error) {
	if w.off < len(w.buf) {
		b := w.buf[w.off]
		w.off++
		return b, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-w.rx:
		if !ok {
			return 0, w.readErr()
		}
		w.buf, w.off = data, 1
		return data[0], nil
	case <-timer.C:
		return 0, st3215.ErrReadTimeout
	}
}

// Flush is a no-op, every Write is sent as one message
func (w *WebSocket) Flush() error {
	return nil
}

// ResetInput discards received but unread bytes
func (w *WebSocket) ResetInput() error {
	w.buf, w.off = nil, 0
	for {
		select {
		case _, ok := <-w.rx:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}
