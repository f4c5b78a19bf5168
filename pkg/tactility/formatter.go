// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatRecord formats a command record into a human-readable line
func FormatRecord(r CommandRecord) string {
	timestamp := r.SentAt.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] #%03d tick=%d %s", timestamp, r.Seq, r.Tick, SummarizeCommand(r.Command))

	switch {
	case r.Failed():
		result += fmt.Sprintf(" !! %s", r.Err)
	case r.Response != "":
		result += fmt.Sprintf(" -> %s", r.Response)
	}

	result += fmt.Sprintf(" (+%s, rtt %s)\n", formatMillis(r.SincePrevious), formatMillis(r.RoundTrip))
	return result
}

// SummarizeCommand abbreviates velec definitions to their active values.
// Other commands are returned unchanged.
func SummarizeCommand(command string) string {
	if !strings.HasPrefix(command, cmdVelec+" ") || !strings.Contains(command, " *name ") {
		return command
	}

	parts := strings.Split(command, " *")
	head := parts[0]
	fields := make(map[string]string, len(parts)-1)
	for _, part := range parts[1:] {
		key, value, _ := strings.Cut(part, " ")
		fields[key] = value
	}

	var cathodes []string
	amp, width := "0", "0"
	for _, entry := range strings.Split(fields["cathodes"], ",") {
		ch, v, ok := strings.Cut(entry, "=")
		if ok && v == "1" {
			cathodes = append(cathodes, ch)
		}
	}
	if len(cathodes) > 0 {
		amp = channelValue(fields["amp"], cathodes[0])
		width = channelValue(fields["width"], cathodes[0])
	}

	anode := fields["anode"]
	if mask, err := strconv.ParseUint(anode, 10, 32); err == nil {
		anode = fmt.Sprintf("0x%08X", mask)
	}

	return fmt.Sprintf("%s name=%s cathodes=[%s] amp=%s width=%s anode=%s selected=%s",
		head, fields["name"], strings.Join(cathodes, ","), amp, width, anode, fields["selected"])
}

func channelValue(segment, channel string) string {
	for _, entry := range strings.Split(segment, ",") {
		ch, v, ok := strings.Cut(entry, "=")
		if ok && ch == channel {
			return v
		}
	}
	return "0"
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

// FormatStimulation formats the parameters of a stimulation on one line
func FormatStimulation(s *Stimulation) string {
	state := "deselected"
	if s.Selected() {
		state = "selected"
	}
	channels := make([]string, len(s.cathodes))
	for i, ch := range s.cathodes {
		channels[i] = strconv.Itoa(ch)
	}
	return fmt.Sprintf("velec %d %-12s %smA %dus cathodes=[%s] anode=0x%08X %s",
		s.ID(), s.Name(), formatIntensity(s.Intensity()), s.PulseWidth(),
		strings.Join(channels, ","), s.Anodes(), state)
}
