// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"time"
)

// EventKind identifies a session lifecycle event
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectFailed
	EventDisconnected
	EventStimStarted
	EventStimEnded
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventStimStarted:
		return "stim_started"
	case EventStimEnded:
		return "stim_ended"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted to SessionConfig.OnEvent. StimID and Name are set for
// stimulation events, Err for EventConnectFailed.
type Event struct {
	Kind   EventKind
	Time   time.Time
	StimID int
	Name   string
	Err    error
}

func (e Event) String() string {
	switch e.Kind {
	case EventStimStarted, EventStimEnded:
		return fmt.Sprintf("%s velec %d (%s)", e.Kind, e.StimID, e.Name)
	case EventConnectFailed:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}
