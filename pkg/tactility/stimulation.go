// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// ClampIntensity returns v limited to [MinIntensity, MaxIntensity] and
// whether it had to be changed. NaN becomes MinIntensity.
func ClampIntensity(v float32) (float32, bool) {
	if v != v || v < MinIntensity {
		return MinIntensity, true
	}
	if v > MaxIntensity {
		return MaxIntensity, true
	}
	return v, false
}

// ClampPulseWidth returns v limited to [MinPulseWidth, MaxPulseWidth]
func ClampPulseWidth(v int) (int, bool) {
	if v < MinPulseWidth {
		return MinPulseWidth, true
	}
	if v > MaxPulseWidth {
		return MaxPulseWidth, true
	}
	return v, false
}

// ClampFrequency returns v limited to [MinFrequency, MaxFrequency].
// The session does not clamp; callers use this before SetFrequency.
func ClampFrequency(v int) (int, bool) {
	if v < MinFrequency {
		return MinFrequency, true
	}
	if v > MaxFrequency {
		return MaxFrequency, true
	}
	return v, false
}

// Stimulation is the parameter set of one virtual electrode together with
// its encoded "velec" definition command.
//
// Setters never fail: out-of-range values are clamped and a warning is
// logged. Every setter invalidates the cached command, which is rebuilt on
// the next call to Command and then reused until the next mutation.
type Stimulation struct {
	id   int
	name string

	selected   bool
	intensity  float32
	pulseWidth int
	cathodes   []int
	anodes     uint32

	// Per-segment caches. The amp and width segments depend on which
	// channels are cathodes.
	cathodeSeg, ampSeg, widthSeg     string
	cathodeOK, ampOK, widthOK, cmdOK bool
	command                          string

	logger *slog.Logger
}

// NewStimulation creates a stimulation. It fails with ErrInvalidID when id
// is outside [MinVelecID, MaxVelecID]; intensity and pulse width are
// clamped.
func NewStimulation(id int, name string, intensity float32, pulseWidth int, cathodes []int, anodes uint32, selected bool) (*Stimulation, error) {
	if !ValidID(id) {
		return nil, invalidID(id)
	}
	s := &Stimulation{
		id:       id,
		name:     name,
		selected: selected,
		anodes:   anodes,
	}
	s.SetCathodes(cathodes)
	s.SetIntensity(intensity)
	s.SetPulseWidth(pulseWidth)
	return s, nil
}

// ID returns the velec id
func (s *Stimulation) ID() int { return s.id }

// Name returns the velec name
func (s *Stimulation) Name() string { return s.name }

// Selected reports whether the definition marks the velec as selected
func (s *Stimulation) Selected() bool { return s.selected }

// Intensity returns the clamped intensity in mA
func (s *Stimulation) Intensity() float32 { return s.intensity }

// PulseWidth returns the clamped pulse width in µs
func (s *Stimulation) PulseWidth() int { return s.pulseWidth }

// Anodes returns the anode channel bitmask
func (s *Stimulation) Anodes() uint32 { return s.anodes }

// Cathodes returns a copy of the cathode channels
func (s *Stimulation) Cathodes() []int {
	out := make([]int, len(s.cathodes))
	copy(out, s.cathodes)
	return out
}

// SetLogger sets the logger used for clamp warnings
func (s *Stimulation) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetSelected sets the selected flag of the definition
func (s *Stimulation) SetSelected(selected bool) {
	s.selected = selected
	s.cmdOK = false
}

// SetIntensity stores v clamped to the intensity range
func (s *Stimulation) SetIntensity(v float32) {
	clamped, changed := ClampIntensity(v)
	if changed {
		s.warn(ClampWarning{Field: "intensity", ID: s.id, Name: s.name,
			Value: float64(v), Min: float64(MinIntensity), Max: float64(MaxIntensity)})
	}
	s.intensity = clamped
	s.ampOK = false
	s.cmdOK = false
}

// SetPulseWidth stores v clamped to the pulse width range
func (s *Stimulation) SetPulseWidth(v int) {
	clamped, changed := ClampPulseWidth(v)
	if changed {
		s.warn(ClampWarning{Field: "pulse_width", ID: s.id, Name: s.name,
			Value: float64(v), Min: MinPulseWidth, Max: MaxPulseWidth})
	}
	s.pulseWidth = clamped
	s.widthOK = false
	s.cmdOK = false
}

// SetCathodes replaces the cathode channel set
func (s *Stimulation) SetCathodes(cathodes []int) {
	s.cathodes = make([]int, len(cathodes))
	copy(s.cathodes, cathodes)
	s.cathodeOK = false
	s.ampOK = false
	s.widthOK = false
	s.cmdOK = false
}

// SetAnodes replaces the anode channel bitmask
func (s *Stimulation) SetAnodes(mask uint32) {
	s.anodes = mask
	s.cmdOK = false
}

// Command returns the velec definition line. Repeated calls without an
// intervening mutation return the cached string.
func (s *Stimulation) Command() string {
	if s.cmdOK {
		return s.command
	}

	var isCathode [ChannelCount + 1]bool
	for _, ch := range s.cathodes {
		if ch >= 1 && ch <= ChannelCount {
			isCathode[ch] = true
		}
	}
	if !s.cathodeOK {
		s.cathodeSeg = channelSegment("cathodes", &isCathode, "1")
		s.cathodeOK = true
	}
	if !s.ampOK {
		s.ampSeg = channelSegment("amp", &isCathode, formatIntensity(s.intensity))
		s.ampOK = true
	}
	if !s.widthOK {
		s.widthSeg = channelSegment("width", &isCathode, strconv.Itoa(s.pulseWidth))
		s.widthOK = true
	}

	var b strings.Builder
	b.Grow(len(s.cathodeSeg) + len(s.ampSeg) + len(s.widthSeg) + 96)
	b.WriteString(cmdVelec)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(s.id))
	b.WriteString(" *name ")
	b.WriteString(s.name)
	b.WriteString(" *elec 1")
	b.WriteString(s.cathodeSeg)
	b.WriteString(s.ampSeg)
	b.WriteString(s.widthSeg)
	b.WriteString(" *anode ")
	b.WriteString(strconv.FormatUint(uint64(s.anodes), 10))
	b.WriteString(" *selected ")
	b.WriteString(boolFlag(s.selected))
	b.WriteString(" *sync 0")

	s.command = b.String()
	s.cmdOK = true
	return s.command
}

// Clone returns an independent copy, including the cached command
func (s *Stimulation) Clone() *Stimulation {
	c := *s
	c.cathodes = make([]int, len(s.cathodes))
	copy(c.cathodes, s.cathodes)
	return &c
}

// apply copies the mutable fields of other into s
func (s *Stimulation) apply(other *Stimulation) {
	if s.intensity != other.intensity {
		s.intensity = other.intensity
		s.ampOK = false
		s.cmdOK = false
	}
	if s.pulseWidth != other.pulseWidth {
		s.pulseWidth = other.pulseWidth
		s.widthOK = false
		s.cmdOK = false
	}
	if !slices.Equal(s.cathodes, other.cathodes) {
		s.SetCathodes(other.cathodes)
	}
	if s.anodes != other.anodes {
		s.SetAnodes(other.anodes)
	}
	if s.selected != other.selected {
		s.SetSelected(other.selected)
	}
}

func (s *Stimulation) warn(w ClampWarning) {
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("clamping stimulation parameter",
		slog.Int("id", w.ID),
		slog.String("name", w.Name),
		slog.String("field", w.Field),
		slog.Float64("value", w.Value),
		slog.Float64("min", w.Min),
		slog.Float64("max", w.Max),
	)
}

// channelSegment renders " *<key> 1=v,2=0,...,32=0," where cathode channels
// carry value and all others 0. The trailing comma is accepted by the device.
func channelSegment(key string, isCathode *[ChannelCount + 1]bool, value string) string {
	var b strings.Builder
	b.Grow(len(key) + ChannelCount*(len(value)+4) + 4)
	b.WriteString(" *")
	b.WriteString(key)
	b.WriteByte(' ')
	for ch := 1; ch <= ChannelCount; ch++ {
		b.WriteString(strconv.Itoa(ch))
		b.WriteByte('=')
		if isCathode[ch] {
			b.WriteString(value)
		} else {
			b.WriteByte('0')
		}
		b.WriteByte(',')
	}
	return b.String()
}

// SelectedCommand returns "velec <id> *selected <0|1>"
func SelectedCommand(id int, selected bool) string {
	return cmdVelec + " " + strconv.Itoa(id) + " *selected " + boolFlag(selected)
}

// FrequencyCommand returns "freq <hz>"
func FrequencyCommand(hz int) string {
	return cmdFrequency + " " + strconv.Itoa(hz)
}

// PlayCommand returns the legacy "stim <name>" command
func PlayCommand(name string) string {
	return cmdStim + " " + name
}

func formatIntensity(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
