// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"math"
)

// StepElectrode places a virtual electrode on a hand part
type StepElectrode struct {
	Electrode *VirtualElectrode
	Part      HandPart
}

// PatternStep is the set of electrodes stimulated together in one step
type PatternStep struct {
	Electrodes []StepElectrode
}

// Pattern is an ordered sequence of steps
type Pattern struct {
	Name  string
	Steps []PatternStep
}

// Timing controls how a pattern cycle is divided into step and gap slots
type Timing struct {
	// Frequency is the number of pattern cycles per second
	Frequency float64
	// UseGaps inserts an inter-step interval after each step except the
	// last, or after every step when GapAfterLast is set.
	UseGaps      bool
	GapAfterLast bool
	// Duty is the fraction of the cycle spent in steps when UseGaps is set
	Duty float64
}

// SlotKind tells step slots from gap slots
type SlotKind int

const (
	SlotStep SlotKind = iota
	SlotGap
)

func (k SlotKind) String() string {
	if k == SlotGap {
		return "gap"
	}
	return "step"
}

// Durations returns the length in milliseconds of each slot of one
// pattern cycle. With gaps, even slots are steps and odd slots are gaps.
func Durations(steps int, t Timing) ([]float64, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("%w: pattern has no steps", ErrInvalidPatternConfig)
	}
	if math.IsNaN(t.Frequency) || math.IsInf(t.Frequency, 0) || t.Frequency <= 0 {
		return nil, fmt.Errorf("%w: pattern frequency %v must be positive", ErrInvalidPatternConfig, t.Frequency)
	}

	total := 1000 / t.Frequency

	if !t.UseGaps {
		out := make([]float64, steps)
		for i := range out {
			out[i] = total / float64(steps)
		}
		return out, nil
	}

	if math.IsNaN(t.Duty) || t.Duty < 0 || t.Duty > 1 {
		return nil, fmt.Errorf("%w: duty %v outside [0, 1]", ErrInvalidPatternConfig, t.Duty)
	}

	gaps := steps - 1
	if t.GapAfterLast {
		gaps = steps
	}
	if gaps == 0 {
		return nil, fmt.Errorf("%w: single step pattern needs a gap after the last step", ErrInvalidPatternConfig)
	}

	active := total * t.Duty
	stepMS := active / float64(steps)
	gapMS := (total - active) / float64(gaps)

	out := make([]float64, steps+gaps)
	for i := range out {
		if i%2 == 0 {
			out[i] = stepMS
		} else {
			out[i] = gapMS
		}
	}
	return out, nil
}

// StepWindow is the time a step is selected within one pattern cycle, in
// milliseconds from the start of the cycle.
type StepWindow struct {
	Step  int
	Start float64
	End   float64
}

// Timeline returns the selection window of every step of one cycle. A
// positive turnOffDelayMS extends each window the way crossfade does,
// bounded to 90% of a step slot.
func Timeline(steps int, t Timing, turnOffDelayMS float64) ([]StepWindow, error) {
	durations, err := Durations(steps, t)
	if err != nil {
		return nil, err
	}
	delay := 0.0
	if len(durations) > 1 {
		delay = math.Min(math.Max(turnOffDelayMS, 0), maxTurnOffDelayFactor*durations[0])
	}

	windows := make([]StepWindow, 0, steps)
	start := 0.0
	for i, d := range durations {
		if !t.UseGaps || i%2 == 0 {
			windows = append(windows, StepWindow{Step: len(windows), Start: start, End: start + d + delay})
		}
		start += d
	}
	return windows, nil
}

// BuildStepStimulations creates one selected stimulation per electrode of
// every step, each on the connector serving its hand part. That connector
// must hold the electrode's layout.
func BuildStepStimulations(p Pattern, connectors ConnectorConfig, intensity float32, pulseWidth int) ([][]*Stimulation, error) {
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("%w: pattern %q has no steps", ErrInvalidPatternConfig, p.Name)
	}

	steps := make([][]*Stimulation, len(p.Steps))
	for i, step := range p.Steps {
		if len(step.Electrodes) == 0 {
			return nil, fmt.Errorf("%w: step %d of pattern %q has no electrodes", ErrInvalidPatternConfig, i, p.Name)
		}
		seen := make(map[int]bool, len(step.Electrodes))
		for _, se := range step.Electrodes {
			if se.Electrode == nil {
				return nil, fmt.Errorf("%w: step %d has a nil electrode", ErrInvalidPatternConfig, i)
			}
			if seen[se.Electrode.ID()] {
				return nil, fmt.Errorf("%w: step %d uses velec %d twice", ErrInvalidPatternConfig, i, se.Electrode.ID())
			}
			seen[se.Electrode.ID()] = true

			connector, err := se.Electrode.Connector(se.Part, connectors)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			stim, err := se.Electrode.Stimulation(connector, intensity, pulseWidth, true)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			steps[i] = append(steps[i], stim)
		}
	}
	return steps, nil
}
