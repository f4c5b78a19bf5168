// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the tactility YAML configuration and converts it to
// the core types of package tactility.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

// Config is the root of the configuration file
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Session     SessionConfig     `yaml:"session"`
	Stimulation StimulationConfig `yaml:"stimulation"`
	Connectors  []ConnectorEntry  `yaml:"connectors"`
	Electrodes  []ElectrodeEntry  `yaml:"electrodes"`
	Patterns    []PatternEntry    `yaml:"patterns"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// TransportConfig selects the serial port or WebSocket bridge
type TransportConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	NoSSLVerify bool          `yaml:"no_ssl_verify"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// SessionConfig holds session settings
type SessionConfig struct {
	InitialFrequency int           `yaml:"initial_frequency"`
	InitDelay        time.Duration `yaml:"init_delay"`
	Verbose          bool          `yaml:"verbose"`
	CommandLog       string        `yaml:"command_log"`
}

// StimulationConfig holds default stimulation parameters
type StimulationConfig struct {
	Intensity  float32 `yaml:"intensity"`
	PulseWidth int     `yaml:"pulse_width"`
}

// ConnectorEntry describes what is plugged into one connector
type ConnectorEntry struct {
	Connector int    `yaml:"connector"`
	Electrode string `yaml:"electrode"`
	Part      string `yaml:"part"`
}

// ElectrodeEntry defines a named virtual electrode. Pads lists one role
// per pad: "c" cathode, "a" anode, "-" unused.
type ElectrodeEntry struct {
	ID     int      `yaml:"id"`
	Name   string   `yaml:"name"`
	Layout string   `yaml:"layout"`
	Pads   []string `yaml:"pads"`
}

// PatternEntry defines a named pattern and its timing
type PatternEntry struct {
	Name         string      `yaml:"name"`
	Frequency    float64     `yaml:"frequency"`
	Gaps         bool        `yaml:"gaps"`
	GapAfterLast bool        `yaml:"gap_after_last"`
	Duty         float64     `yaml:"duty"`
	Crossfade    bool        `yaml:"crossfade"`
	TurnOffDelay float64     `yaml:"turn_off_delay_ms"`
	StartDelay   *float64    `yaml:"start_delay_ms"`
	Steps        []StepEntry `yaml:"steps"`
}

// StepEntry lists the electrodes stimulated together in one step
type StepEntry struct {
	Electrodes []ElectrodeRef `yaml:"electrodes"`
}

// ElectrodeRef places a named electrode on a hand part
type ElectrodeRef struct {
	Electrode string `yaml:"electrode"`
	Part      string `yaml:"part"`
}

// MQTTConfig configures the lifecycle event publisher
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when no file is given: one
// finger matrix on the index finger with a four step sweep.
func Default() *Config {
	start := tactility.DefaultStartDelayMS
	return &Config{
		Transport: TransportConfig{
			Baud:        tactility.DefaultBaudRate,
			ReadTimeout: tactility.DefaultReadTimeout,
		},
		Session: SessionConfig{
			InitialFrequency: tactility.DefaultFrequency,
			InitDelay:        tactility.DefaultInitDelay,
		},
		Stimulation: StimulationConfig{
			Intensity:  2.5,
			PulseWidth: 200,
		},
		Connectors: []ConnectorEntry{
			{Connector: 3, Electrode: "finger_matrix", Part: "index"},
		},
		Electrodes: []ElectrodeEntry{
			{ID: 10, Name: "pad1", Layout: "finger_matrix", Pads: []string{"c", "-", "-", "-", "a", "-", "-", "-"}},
			{ID: 11, Name: "pad2", Layout: "finger_matrix", Pads: []string{"-", "c", "-", "-", "-", "a", "-", "-"}},
			{ID: 12, Name: "pad3", Layout: "finger_matrix", Pads: []string{"-", "-", "c", "-", "-", "-", "a", "-"}},
			{ID: 13, Name: "pad4", Layout: "finger_matrix", Pads: []string{"-", "-", "-", "c", "-", "-", "-", "a"}},
		},
		Patterns: []PatternEntry{
			{
				Name:       "sweep",
				Frequency:  5,
				Duty:       0.5,
				StartDelay: &start,
				Steps: []StepEntry{
					{Electrodes: []ElectrodeRef{{Electrode: "pad1", Part: "index"}}},
					{Electrodes: []ElectrodeRef{{Electrode: "pad2", Part: "index"}}},
					{Electrodes: []ElectrodeRef{{Electrode: "pad3", Part: "index"}}},
					{Electrodes: []ElectrodeRef{{Electrode: "pad4", Part: "index"}}},
				},
			},
		},
		MQTT: MQTTConfig{
			Topic: "tactility/events",
		},
	}
}

// Load reads a configuration file. Missing sections keep their defaults;
// unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. The
// default electrode layout is kept only when the document defines no
// connectors, electrodes or patterns.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	def := *cfg
	cfg.Connectors, cfg.Electrodes, cfg.Patterns = nil, nil, nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if len(cfg.Connectors) == 0 && len(cfg.Electrodes) == 0 && len(cfg.Patterns) == 0 {
		cfg.Connectors, cfg.Electrodes, cfg.Patterns = def.Connectors, def.Electrodes, def.Patterns
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the connector table, electrodes and patterns
func (c *Config) Validate() error {
	if _, err := c.ConnectorConfig(); err != nil {
		return err
	}
	if _, clamped := tactility.ClampPulseWidth(c.Stimulation.PulseWidth); clamped {
		return fmt.Errorf("stimulation.pulse_width %d out of range %d-%d", c.Stimulation.PulseWidth, tactility.MinPulseWidth, tactility.MaxPulseWidth)
	}
	if _, clamped := tactility.ClampIntensity(c.Stimulation.Intensity); clamped {
		return fmt.Errorf("stimulation.intensity %g out of range %g-%g", c.Stimulation.Intensity, tactility.MinIntensity, tactility.MaxIntensity)
	}
	electrodes, err := c.VirtualElectrodes()
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Patterns))
	for _, p := range c.Patterns {
		if names[p.Name] {
			return fmt.Errorf("duplicate pattern %q", p.Name)
		}
		names[p.Name] = true
		if _, err := p.build(electrodes); err != nil {
			return err
		}
		if _, err := tactility.Durations(len(p.Steps), p.Timing()); err != nil {
			return fmt.Errorf("pattern %q: %w", p.Name, err)
		}
	}
	return nil
}

// ConnectorConfig converts the connector entries
func (c *Config) ConnectorConfig() (tactility.ConnectorConfig, error) {
	var out tactility.ConnectorConfig
	for _, e := range c.Connectors {
		if e.Connector < 1 || e.Connector > tactility.ConnectorCount {
			return out, fmt.Errorf("%w: connector %d out of range 1-%d", tactility.ErrInvalidConnector, e.Connector, tactility.ConnectorCount)
		}
		electrode, err := tactility.ParseElectrodeType(e.Electrode)
		if err != nil {
			return out, fmt.Errorf("connector %d: %w", e.Connector, err)
		}
		part, err := tactility.ParseHandPart(e.Part)
		if err != nil {
			return out, fmt.Errorf("connector %d: %w", e.Connector, err)
		}
		out[e.Connector-1] = tactility.ConnectorSlot{Electrode: electrode, Part: part}
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// VirtualElectrodes builds every configured electrode, keyed by name
func (c *Config) VirtualElectrodes() (map[string]*tactility.VirtualElectrode, error) {
	out := make(map[string]*tactility.VirtualElectrode, len(c.Electrodes))
	for _, e := range c.Electrodes {
		if e.Name == "" {
			return nil, fmt.Errorf("electrode with id %d has no name", e.ID)
		}
		if _, ok := out[e.Name]; ok {
			return nil, fmt.Errorf("duplicate electrode %q", e.Name)
		}
		layout, err := tactility.ParseElectrodeType(e.Layout)
		if err != nil {
			return nil, fmt.Errorf("electrode %q: %w", e.Name, err)
		}
		pads := make([]tactility.PadRole, len(e.Pads))
		for i, p := range e.Pads {
			if pads[i], err = tactility.ParsePadRole(p); err != nil {
				return nil, fmt.Errorf("electrode %q pad %d: %w", e.Name, i+1, err)
			}
		}
		v, err := tactility.NewVirtualElectrode(e.ID, e.Name, layout, pads)
		if err != nil {
			return nil, fmt.Errorf("electrode %q: %w", e.Name, err)
		}
		out[e.Name] = v
	}
	return out, nil
}

// Electrode returns the named virtual electrode
func (c *Config) Electrode(name string) (*tactility.VirtualElectrode, error) {
	electrodes, err := c.VirtualElectrodes()
	if err != nil {
		return nil, err
	}
	v, ok := electrodes[name]
	if !ok {
		return nil, fmt.Errorf("unknown electrode %q (have %s)", name, strings.Join(c.ElectrodeNames(), ", "))
	}
	return v, nil
}

// ElectrodeNames lists the configured electrode names in file order
func (c *Config) ElectrodeNames() []string {
	names := make([]string, len(c.Electrodes))
	for i, e := range c.Electrodes {
		names[i] = e.Name
	}
	return names
}

// PatternNames lists the configured pattern names in file order
func (c *Config) PatternNames() []string {
	names := make([]string, len(c.Patterns))
	for i, p := range c.Patterns {
		names[i] = p.Name
	}
	return names
}

// Pattern returns the named pattern entry
func (c *Config) Pattern(name string) (*PatternEntry, error) {
	for i := range c.Patterns {
		if c.Patterns[i].Name == name {
			return &c.Patterns[i], nil
		}
	}
	return nil, fmt.Errorf("unknown pattern %q (have %s)", name, strings.Join(c.PatternNames(), ", "))
}

// BuildPattern resolves the electrode references of the named pattern
func (c *Config) BuildPattern(name string) (tactility.Pattern, *PatternEntry, error) {
	entry, err := c.Pattern(name)
	if err != nil {
		return tactility.Pattern{}, nil, err
	}
	electrodes, err := c.VirtualElectrodes()
	if err != nil {
		return tactility.Pattern{}, nil, err
	}
	p, err := entry.build(electrodes)
	return p, entry, err
}

func (p *PatternEntry) build(electrodes map[string]*tactility.VirtualElectrode) (tactility.Pattern, error) {
	out := tactility.Pattern{Name: p.Name, Steps: make([]tactility.PatternStep, len(p.Steps))}
	for i, step := range p.Steps {
		for _, ref := range step.Electrodes {
			v, ok := electrodes[ref.Electrode]
			if !ok {
				return out, fmt.Errorf("pattern %q step %d: unknown electrode %q", p.Name, i+1, ref.Electrode)
			}
			part, err := tactility.ParseHandPart(ref.Part)
			if err != nil {
				return out, fmt.Errorf("pattern %q step %d: %w", p.Name, i+1, err)
			}
			out.Steps[i].Electrodes = append(out.Steps[i].Electrodes, tactility.StepElectrode{Electrode: v, Part: part})
		}
	}
	return out, nil
}

// Timing returns the pattern timing
func (p *PatternEntry) Timing() tactility.Timing {
	return tactility.Timing{
		Frequency:    p.Frequency,
		UseGaps:      p.Gaps,
		GapAfterLast: p.GapAfterLast,
		Duty:         p.Duty,
	}
}

// SequencerConfig returns the sequencer settings of the pattern
func (p *PatternEntry) SequencerConfig() tactility.SequencerConfig {
	start := tactility.DefaultStartDelayMS
	if p.StartDelay != nil {
		start = *p.StartDelay
	}
	return tactility.SequencerConfig{
		Timing:         p.Timing(),
		Crossfade:      p.Crossfade,
		TurnOffDelayMS: p.TurnOffDelay,
		StartDelayMS:   start,
	}
}
