// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for playing patterns on the stimulator",
	Long: `Control a Tactility stimulator via an interactive terminal UI.

This command connects, runs the handshake and lets you pick one of the
configured patterns and play it live.

Features:
  - Pattern list with play/stop and reset
  - Live intensity, pulse width and pattern frequency adjustment
  - Device frequency entry (1-200 Hz)
  - Crossfade toggle
  - Emergency stop (stim off)
  - Command log and statistics
  - Automatic reconnection on transport errors

Log records are discarded unless --log-output is given, since the panel
owns the terminal.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// eventBuffer collects session events until the TUI drains them. Events
// are emitted from the connect goroutine as well as from Update.
type eventBuffer struct {
	mu     sync.Mutex
	events []tactility.Event
}

func (b *eventBuffer) add(e tactility.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *eventBuffer) drain() []tactility.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.events
	b.events = nil
	return events
}

// errControlClosed is returned by a connect attempt started after the
// panel was closed
var errControlClosed = errors.New("control panel closed")

// controller owns the session of the control panel. The session is used
// either by a connect command or by Update, never by both at once; the
// model's connecting flag tracks which.
type controller struct {
	session  *sessionHandle
	events   *eventBuffer
	connInfo string
	ctx      context.Context

	// mu serializes a running connect with close
	mu     sync.Mutex
	closed bool
}

// close waits for a running connect and closes the session
func (c *controller) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.session.Close()
}

func runControl(cmd *cobra.Command, args []string) error {
	if len(cfg.Patterns) == 0 {
		return fmt.Errorf("no patterns configured")
	}

	events := &eventBuffer{}
	session, err := newSession(events.add)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctl := &controller{
		session:  session,
		events:   events,
		connInfo: connectionDescription(),
		ctx:      ctx,
	}

	m := initialControlModel(ctl)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	_, runErr := p.Run()
	// Cancel first so a handshake in progress gives up
	cancel()
	closeErr := ctl.close()
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return closeErr
}

//////////////////////////////////////////////////////////////
// Connection commands
//////////////////////////////////////////////////////////////

type connectResultMsg struct {
	err error
}

type reconnectMsg struct{}

// connectCmd opens the session off the UI goroutine
func (c *controller) connectCmd() tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return connectResultMsg{err: errControlClosed}
		}
		return connectResultMsg{err: c.session.Open(c.ctx)}
	}
}

// reconnectCmd waits out the backoff before the next connect attempt
func reconnectCmd(backoff time.Duration) tea.Cmd {
	return tea.Tick(backoff, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

// nextBackoff doubles the reconnect delay up to 30 seconds
func nextBackoff(backoff time.Duration) time.Duration {
	const (
		minBackoff = 1 * time.Second
		maxBackoff = 30 * time.Second
	)
	if backoff < minBackoff {
		return minBackoff
	}
	backoff *= 2
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
