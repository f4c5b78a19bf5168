// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// CommandRecord is one command sent to the stimulator. Only the response
// and timing fields are filled in after transmission.
type CommandRecord struct {
	Seq           uint8         `cbor:"1,keyasint"`
	Command       string        `cbor:"2,keyasint"`
	Response      string        `cbor:"3,keyasint,omitempty"`
	SentAt        time.Time     `cbor:"4,keyasint"`
	SincePrevious time.Duration `cbor:"5,keyasint"`
	RoundTrip     time.Duration `cbor:"6,keyasint"`
	Tick          uint64        `cbor:"7,keyasint"`
	Err           string        `cbor:"8,keyasint,omitempty"`
}

// Failed reports whether the transport failed for this command
func (r CommandRecord) Failed() bool {
	return r.Err != ""
}

// CommandLog is the append-only log of a session. SentAt is kept monotonic
// and SincePrevious is never negative.
type CommandLog struct {
	records []CommandRecord
	nextSeq int
	flushed int
}

// NewCommandLog creates an empty log
func NewCommandLog() *CommandLog {
	return &CommandLog{}
}

// begin appends a record for a command about to be sent and returns its
// index for completion.
func (l *CommandLog) begin(command string, now time.Time, tick uint64) int {
	rec := CommandRecord{
		Seq:     uint8(l.nextSeq),
		Command: command,
		SentAt:  now,
		Tick:    tick,
	}
	if n := len(l.records); n > 0 {
		prev := l.records[n-1].SentAt
		if rec.SentAt.Before(prev) {
			rec.SentAt = prev
		}
		rec.SincePrevious = rec.SentAt.Sub(prev)
	}
	l.nextSeq = (l.nextSeq + 1) % seqModulo
	l.records = append(l.records, rec)
	return len(l.records) - 1
}

// complete fills in the response and timing of a begun record
func (l *CommandLog) complete(idx int, response string, roundTrip time.Duration, err error) {
	rec := &l.records[idx]
	rec.Response = response
	if roundTrip < 0 {
		roundTrip = 0
	}
	rec.RoundTrip = roundTrip
	if err != nil {
		rec.Err = err.Error()
	}
}

// Len returns the number of records
func (l *CommandLog) Len() int {
	return len(l.records)
}

// Records returns a copy of all records
func (l *CommandLog) Records() []CommandRecord {
	out := make([]CommandRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Last returns up to n most recent records, oldest first
func (l *CommandLog) Last(n int) []CommandRecord {
	if n > len(l.records) {
		n = len(l.records)
	}
	if n < 0 {
		n = 0
	}
	out := make([]CommandRecord, n)
	copy(out, l.records[len(l.records)-n:])
	return out
}

// Flush writes every record not yet flushed to w as a CBOR sequence
func (l *CommandLog) Flush(w io.Writer) error {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return err
	}
	enc := em.NewEncoder(w)
	for l.flushed < len(l.records) {
		if err := enc.Encode(l.records[l.flushed]); err != nil {
			return fmt.Errorf("failed to encode command record: %w", err)
		}
		l.flushed++
	}
	return nil
}

// ReadCommandLog decodes a CBOR sequence written by Flush
func ReadCommandLog(r io.Reader) ([]CommandRecord, error) {
	dec := cbor.NewDecoder(r)
	var records []CommandRecord
	for {
		var rec CommandRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("failed to decode command record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
