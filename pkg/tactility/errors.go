// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"errors"
	"fmt"
)

// Structural errors. They abort the requested operation and are never
// retried.
var (
	ErrInvalidID            = errors.New("invalid velec id")
	ErrInvalidPatternConfig = errors.New("invalid pattern configuration")
	ErrNoElectrodeForPart   = errors.New("no electrode connected for hand part")
	ErrUnknownStimulation   = errors.New("unknown stimulation")
	ErrDuplicateID          = errors.New("duplicate stimulation id")
	ErrInvalidConnector     = errors.New("electrode layout not wired to connector")
	ErrInvalidLayout        = errors.New("invalid electrode layout")
)

// Session errors
var (
	ErrTransport     = errors.New("transport error")
	ErrConnectFailed = errors.New("connect failed")
	ErrNotReady      = errors.New("session not ready")
)

// TransportError wraps a failed write or read on the transport.
// It matches ErrTransport with errors.Is.
type TransportError struct {
	Op      string // "write" or "read"
	Command string
	Err     error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed for %q: %v", e.Op, e.Command, e.Err)
}

// Unwrap returns the underlying transport error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ClampWarning describes an out-of-range value that was corrected to the
// nearest bound. It is a warning, never a failure.
type ClampWarning struct {
	Field string
	ID    int
	Name  string
	Value float64
	Min   float64
	Max   float64
}

// Error implements the error interface so warnings can be logged as errors
func (w ClampWarning) Error() string {
	return fmt.Sprintf("clamping %s=%v to [%v,%v] for stim id=%d name=%s",
		w.Field, w.Value, w.Min, w.Max, w.ID, w.Name)
}

func invalidID(id int) error {
	return fmt.Errorf("%w: id=%d, valid range [%d-%d]", ErrInvalidID, id, MinVelecID, MaxVelecID)
}

// ValidID reports whether id is a host-definable velec id
func ValidID(id int) bool {
	return id >= MinVelecID && id <= MaxVelecID
}
