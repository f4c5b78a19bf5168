// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"strings"
	"testing"
	"time"
)

func TestSummarizeCommand(t *testing.T) {
	s := testStimulation(t)

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{
			name:    "definition",
			command: s.Command(),
			want:    "velec 11 name=test cathodes=[10] amp=2.5 width=200 anode=0x00004000 selected=1",
		},
		{
			name:    "select",
			command: "velec 11 *selected 0",
			want:    "velec 11 *selected 0",
		},
		{
			name:    "frequency",
			command: "freq 35",
			want:    "freq 35",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SummarizeCommand(tt.command); got != tt.want {
				t.Errorf("SummarizeCommand() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarizeCommand_NoCathodes(t *testing.T) {
	s, _ := NewStimulation(12, "off", 1, 100, nil, 0, false)
	got := SummarizeCommand(s.Command())
	want := "velec 12 name=off cathodes=[] amp=0 width=0 anode=0x00000000 selected=0"
	if got != want {
		t.Errorf("SummarizeCommand() = %q, want %q", got, want)
	}
}

func TestFormatRecord(t *testing.T) {
	tests := []struct {
		name     string
		rec      CommandRecord
		contains []string
	}{
		{
			name: "with response",
			rec: CommandRecord{
				Seq: 7, Command: "battery ?", Response: "battery 91",
				SentAt: epoch, SincePrevious: 50 * time.Millisecond, RoundTrip: 12 * time.Millisecond, Tick: 3,
			},
			contains: []string{"[12:00:00.000]", "#007", "tick=3", "battery ? -> battery 91", "+50.00ms", "rtt 12.00ms"},
		},
		{
			name: "failed",
			rec: CommandRecord{
				Seq: 1, Command: "stim on", SentAt: epoch, Err: "timeout",
			},
			contains: []string{"stim on !! timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatRecord(tt.rec)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("FormatRecord() = %q, missing %q", got, want)
				}
			}
			if !strings.HasSuffix(got, "\n") {
				t.Error("FormatRecord() should end with a newline")
			}
		})
	}
}

func TestFormatStimulation(t *testing.T) {
	got := FormatStimulation(testStimulation(t))
	for _, want := range []string{"velec 11", "test", "2.5mA", "200us", "cathodes=[10]", "anode=0x00004000", "selected"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatStimulation() = %q, missing %q", got, want)
		}
	}
}
