// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

// lineTerminator ends every command sent to the stimulator
const lineTerminator = "\r\n"

// ErrReadTimeout is returned when no complete response line arrived in time
var ErrReadTimeout = errors.New("timed out waiting for response")

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// SerialConnection is a line transport over a serial port. Bluetooth SPP
// links show up as serial devices (/dev/rfcomm0, COM5).
type SerialConnection struct {
	port    serial.Port
	timeout time.Duration
	pending []byte
	buf     []byte
}

// WriteLine sends one command line
func (s *SerialConnection) WriteLine(line string) error {
	_, err := s.port.Write([]byte(line + lineTerminator))
	return err
}

// ReadLine returns the next response line. A serial read that returns no
// bytes means the port read timeout expired.
func (s *SerialConnection) ReadLine() (string, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := string(s.pending[:i])
			s.pending = s.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if !time.Now().Before(deadline) {
			return "", ErrReadTimeout
		}

		n, err := s.port.Read(s.buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		s.pending = append(s.pending, s.buf[:n]...)
	}
}

// Close closes the serial port
func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection is a line transport over a WebSocket bridge. Every
// command is one text message; a message may carry several response lines.
type WebSocketConnection struct {
	conn    *websocket.Conn
	timeout time.Duration
	lines   []string
	closed  bool // Track if connection has failed/closed
}

// WriteLine sends one command as a text message
func (w *WebSocketConnection) WriteLine(line string) error {
	return w.conn.WriteMessage(websocket.TextMessage, []byte(line+lineTerminator))
}

// ReadLine returns the next response line
func (w *WebSocketConnection) ReadLine() (string, error) {
	if len(w.lines) > 0 {
		line := w.lines[0]
		w.lines = w.lines[1:]
		return line, nil
	}
	if w.closed {
		return "", ErrConnectionClosed
	}

	if err := w.conn.SetReadDeadline(time.Now().Add(w.timeout)); err != nil {
		return "", err
	}
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// A read error leaves the gorilla connection unusable
			w.closed = true
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", ErrReadTimeout
			}
			return "", err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(string(data), lineTerminator), "\n") {
			w.lines = append(w.lines, strings.TrimRight(line, "\r"))
		}
		line := w.lines[0]
		w.lines = w.lines[1:]
		return line, nil
	}
}

// Close closes the WebSocket connection
func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection (8N1)
func OpenSerialConnection(portName string, baudRate int, timeout time.Duration) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	return &SerialConnection{port: port, timeout: timeout, buf: make([]byte, 256)}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(ctx context.Context, wsURL, username, password string, skipSSLVerify bool, timeout time.Duration) (*WebSocketConnection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn, timeout: timeout}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("TACTILITY_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// connectionDescription names the configured transport for status output
func connectionDescription() string {
	if cfg.Transport.URL != "" {
		return fmt.Sprintf("WebSocket: %s", cfg.Transport.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", cfg.Transport.Port, cfg.Transport.Baud)
}

// newDialer returns a DialFunc for the configured transport. The password
// is asked once, before the first dial.
func newDialer() (tactility.DialFunc, error) {
	t := cfg.Transport
	if t.URL != "" {
		password := ""
		if t.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}
		return func(ctx context.Context) (tactility.Transport, error) {
			return OpenWebSocketConnection(ctx, t.URL, t.Username, password, t.NoSSLVerify, t.ReadTimeout)
		}, nil
	}

	if t.Port != "" {
		return func(ctx context.Context) (tactility.Transport, error) {
			return OpenSerialConnection(t.Port, t.Baud, t.ReadTimeout)
		}, nil
	}

	return nil, fmt.Errorf("either --port or --url must be specified")
}

// OpenConnection dials the configured transport directly, without a session
func OpenConnection(ctx context.Context) (tactility.Transport, string, error) {
	dial, err := newDialer()
	if err != nil {
		return nil, "", err
	}
	conn, err := dial(ctx)
	if err != nil {
		return nil, "", err
	}
	return conn, connectionDescription(), nil
}
