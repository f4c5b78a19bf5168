// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"strings"
	"time"
)

// Statistics tracks command counts and round-trip times of a session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCommands   uint64
	Responses       uint64
	TransportErrors uint64
	Definitions     uint64
	SelectChanges   uint64
	GlobalOnOff     uint64
	Queries         uint64

	// Round trip
	RoundTripTotal time.Duration
	RoundTripMax   time.Duration

	// Rates (calculated)
	CommandRate float64 // commands/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update accounts for one command record
func (s *Statistics) Update(rec CommandRecord) {
	s.TotalCommands++
	s.LastUpdateTime = rec.SentAt

	if rec.Failed() {
		s.TransportErrors++
		return
	}
	if rec.Response != "" {
		s.Responses++
	}

	s.RoundTripTotal += rec.RoundTrip
	if rec.RoundTrip > s.RoundTripMax {
		s.RoundTripMax = rec.RoundTrip
	}

	switch {
	case rec.Command == CmdStimOn || rec.Command == CmdStimOff:
		s.GlobalOnOff++
	case strings.HasSuffix(rec.Command, " ?"):
		s.Queries++
	case strings.HasPrefix(rec.Command, cmdVelec+" "):
		if strings.Contains(rec.Command, " *name ") {
			s.Definitions++
		} else {
			s.SelectChanges++
		}
	}
}

// AverageRoundTrip returns the mean round trip of successful commands
func (s *Statistics) AverageRoundTrip() time.Duration {
	ok := s.TotalCommands - s.TransportErrors
	if ok == 0 {
		return 0
	}
	return s.RoundTripTotal / time.Duration(ok)
}

// CalculateRates calculates command and error rates up to now
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CommandRate = float64(s.TotalCommands) / elapsed
		s.ErrorRate = float64(s.TransportErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	var errorPercent float64
	if s.TotalCommands > 0 {
		errorPercent = float64(s.TransportErrors) * 100.0 / float64(s.TotalCommands)
	}

	result := fmt.Sprintf("=== Statistics (%.1f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Commands:  %8d\n", s.TotalCommands)
	result += fmt.Sprintf("Responses:       %8d\n", s.Responses)
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d (%.1f%%)\n", s.TransportErrors, errorPercent)
	}
	result += fmt.Sprintf("Definitions:     %8d\n", s.Definitions)
	result += fmt.Sprintf("Select Changes:  %8d\n", s.SelectChanges)
	result += fmt.Sprintf("Stim On/Off:     %8d\n", s.GlobalOnOff)
	result += fmt.Sprintf("Avg Round Trip:  %8s\n", s.AverageRoundTrip().Round(time.Microsecond))
	result += fmt.Sprintf("Max Round Trip:  %8s\n", s.RoundTripMax.Round(time.Microsecond))
	result += "================================\n"

	return result
}
