// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

// Commander is the part of a session the sequencer drives
type Commander interface {
	SubmitDirect(stim *Stimulation) error
	Deselect(id int) error
	StartAll() error
}

// SequencerConfig configures a Sequencer
type SequencerConfig struct {
	Timing Timing

	// Crossfade keeps the outgoing step selected for TurnOffDelayMS after
	// the incoming step is activated. The delay is limited to 90% of one
	// step slot.
	Crossfade      bool
	TurnOffDelayMS float64

	// StartDelayMS is the wait between submitting a step and "stim on".
	// Zero sends it immediately.
	StartDelayMS float64

	Logger *slog.Logger
}

// Sequencer plays the steps of a pattern in time. It is driven by Advance
// and holds no goroutines or timers of its own.
type Sequencer struct {
	cmd    Commander
	steps  [][]*Stimulation
	cfg    SequencerConfig
	logger *slog.Logger

	durations    []float64
	turnOffDelay float64

	playing bool
	index   int
	elapsed float64

	// Commands last submitted per velec still selected on the device
	live map[int]string

	startPending   bool
	startRemaining float64

	fading        []int
	fadeRemaining float64
}

// NewSequencer creates a stopped sequencer at slot 0. steps holds the
// stimulations of each pattern step, as built by BuildStepStimulations.
func NewSequencer(cmd Commander, steps [][]*Stimulation, cfg SequencerConfig) (*Sequencer, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: pattern has no steps", ErrInvalidPatternConfig)
	}
	for i, step := range steps {
		if len(step) == 0 {
			return nil, fmt.Errorf("%w: step %d is empty", ErrInvalidPatternConfig, i)
		}
	}
	durations, err := Durations(len(steps), cfg.Timing)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Sequencer{
		cmd:       cmd,
		steps:     steps,
		cfg:       cfg,
		logger:    cfg.Logger,
		durations: durations,
		live:      make(map[int]string),
	}
	s.turnOffDelay = s.boundTurnOffDelay(cfg.TurnOffDelayMS)
	return s, nil
}

// Toggle starts or stops playback. Playback resumes at the slot and
// elapsed time where it was stopped.
func (s *Sequencer) Toggle() error {
	if s.playing {
		return s.stop()
	}
	return s.play()
}

func (s *Sequencer) play() error {
	s.playing = true
	s.logger.Debug("pattern playing", slog.Int("index", s.index), slog.Float64("elapsed_ms", s.elapsed))
	if step, ok := s.stepAt(s.index); ok {
		return s.activate(step, true)
	}
	return nil
}

func (s *Sequencer) stop() error {
	s.playing = false
	s.startPending = false

	var ids []int
	if step, ok := s.stepAt(s.index); ok {
		ids = stimIDs(step)
	}
	var rest []int
	for id := range s.live {
		if !slices.Contains(ids, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	ids = append(ids, rest...)
	s.fading = nil

	s.logger.Debug("pattern stopped", slog.Int("index", s.index), slog.Float64("elapsed_ms", s.elapsed))
	return s.deselect(ids, nil)
}

// Reset moves playback back to slot 0. A playing sequencer switches to
// the first step immediately.
func (s *Sequencer) Reset() error {
	s.index = 0
	s.elapsed = 0
	if !s.playing {
		return nil
	}
	return s.resync(true)
}

// Advance moves the sequencer clock forward by delta milliseconds. At most
// one slot transition happens per call.
func (s *Sequencer) Advance(delta float64) error {
	if !s.playing || !(delta > 0) {
		return nil
	}

	var errs []error
	if s.startPending {
		s.startRemaining -= delta
		if s.startRemaining <= 0 {
			s.startPending = false
			errs = append(errs, s.cmd.StartAll())
		}
	}
	var expired []int
	if len(s.fading) > 0 {
		s.fadeRemaining -= delta
		if s.fadeRemaining <= 0 {
			expired = s.fading
			s.fading = nil
		}
	}

	s.elapsed += delta
	if s.elapsed > s.durations[s.index] {
		errs = append(errs, s.transition())
	}

	// An expired fade is released after the incoming step is active
	if len(expired) > 0 {
		keep := map[int]bool{}
		if step, ok := s.stepAt(s.index); ok {
			for _, stim := range step {
				keep[stim.ID()] = true
			}
		}
		errs = append(errs, s.deselect(expired, keep))
	}
	return errors.Join(errs...)
}

// transition enters the next slot. The incoming step is activated before
// the outgoing one is deselected; velecs used by both are left alone.
func (s *Sequencer) transition() error {
	s.elapsed = 0
	if len(s.durations) == 1 {
		return nil
	}

	from := s.index
	s.index = (s.index + 1) % len(s.durations)

	var errs []error
	incoming, entering := s.stepAt(s.index)
	if entering {
		errs = append(errs, s.activate(incoming, true))
	}

	outgoing, leaving := s.stepAt(from)
	if !leaving {
		return errors.Join(errs...)
	}

	keep := make(map[int]bool, len(incoming))
	for _, stim := range incoming {
		keep[stim.ID()] = true
	}

	if s.cfg.Crossfade && s.turnOffDelay > 0 {
		if len(s.fading) > 0 {
			errs = append(errs, s.deselect(s.fading, keep))
		}
		s.fading = nil
		for _, id := range stimIDs(outgoing) {
			if !keep[id] {
				s.fading = append(s.fading, id)
			}
		}
		s.fadeRemaining = s.turnOffDelay
		return errors.Join(errs...)
	}

	errs = append(errs, s.deselect(stimIDs(outgoing), keep))
	return errors.Join(errs...)
}

// activate submits every stimulation of step whose definition is not
// already live on the device, then schedules "stim on" if start is set.
func (s *Sequencer) activate(step []*Stimulation, start bool) error {
	var errs []error
	submitted := false
	for _, stim := range step {
		command := stim.Command()
		if s.live[stim.ID()] == command {
			continue
		}
		if err := s.cmd.SubmitDirect(stim); err != nil {
			errs = append(errs, err)
			continue
		}
		s.live[stim.ID()] = command
		s.unfade(stim.ID())
		submitted = true
	}

	if submitted && start {
		if s.cfg.StartDelayMS > 0 {
			s.startPending = true
			s.startRemaining = s.cfg.StartDelayMS
		} else {
			errs = append(errs, s.cmd.StartAll())
		}
	}
	return errors.Join(errs...)
}

// deselect sends a deselect for each id not in keep. Ids not live are
// skipped.
func (s *Sequencer) deselect(ids []int, keep map[int]bool) error {
	var errs []error
	for _, id := range ids {
		if keep[id] {
			continue
		}
		if _, ok := s.live[id]; !ok {
			continue
		}
		if err := s.cmd.Deselect(id); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(s.live, id)
	}
	return errors.Join(errs...)
}

// resync makes the live set match the step at the current index
func (s *Sequencer) resync(start bool) error {
	var errs []error
	keep := map[int]bool{}
	if step, ok := s.stepAt(s.index); ok {
		errs = append(errs, s.activate(step, start))
		for _, stim := range step {
			keep[stim.ID()] = true
		}
	}
	var others []int
	for id := range s.live {
		if !keep[id] {
			others = append(others, id)
		}
	}
	slices.Sort(others)
	s.fading = nil
	errs = append(errs, s.deselect(others, keep))
	return errors.Join(errs...)
}

func (s *Sequencer) unfade(id int) {
	for i, f := range s.fading {
		if f == id {
			s.fading = append(s.fading[:i], s.fading[i+1:]...)
			return
		}
	}
}

// SetTiming recomputes the slot durations. The turn-off delay and a
// pending deselect are clamped to the new step length, and the elapsed
// time to the new slot length.
func (s *Sequencer) SetTiming(t Timing) error {
	durations, err := Durations(len(s.steps), t)
	if err != nil {
		return err
	}
	oldSlots := len(s.durations)
	s.cfg.Timing = t
	s.durations = durations

	s.turnOffDelay = s.boundTurnOffDelay(s.cfg.TurnOffDelayMS)
	if s.fadeRemaining > s.turnOffDelay {
		s.fadeRemaining = s.turnOffDelay
	}

	if s.index >= len(durations) {
		s.index = len(durations) - 1
	}
	if s.elapsed > durations[s.index] {
		s.elapsed = durations[s.index]
	}

	if s.playing && oldSlots != len(durations) {
		return s.resync(false)
	}
	return nil
}

// SetTurnOffDelay sets the crossfade delay, limited to 90% of one step
func (s *Sequencer) SetTurnOffDelay(ms float64) {
	s.cfg.TurnOffDelayMS = ms
	s.turnOffDelay = s.boundTurnOffDelay(ms)
	if s.fadeRemaining > s.turnOffDelay {
		s.fadeRemaining = s.turnOffDelay
	}
}

// SetCrossfade enables or disables the crossfade
func (s *Sequencer) SetCrossfade(enabled bool) {
	s.cfg.Crossfade = enabled
}

// SetStimParams changes intensity and pulse width of every step. The
// active step is resubmitted right away.
func (s *Sequencer) SetStimParams(intensity float32, pulseWidth int) error {
	for _, step := range s.steps {
		for _, stim := range step {
			stim.SetIntensity(intensity)
			stim.SetPulseWidth(pulseWidth)
		}
	}
	if !s.playing {
		return nil
	}
	if step, ok := s.stepAt(s.index); ok {
		return s.activate(step, false)
	}
	return nil
}

func (s *Sequencer) boundTurnOffDelay(ms float64) float64 {
	limit := maxTurnOffDelayFactor * s.durations[0]
	return math.Max(0, math.Min(ms, limit))
}

// SlotKind returns whether slot index is a step or a gap
func (s *Sequencer) SlotKind(index int) SlotKind {
	if s.cfg.Timing.UseGaps && index%2 == 1 {
		return SlotGap
	}
	return SlotStep
}

func (s *Sequencer) stepAt(index int) ([]*Stimulation, bool) {
	if s.SlotKind(index) == SlotGap {
		return nil, false
	}
	if s.cfg.Timing.UseGaps {
		index /= 2
	}
	return s.steps[index], true
}

// Playing reports whether the sequencer is playing
func (s *Sequencer) Playing() bool { return s.playing }

// Index returns the current slot index
func (s *Sequencer) Index() int { return s.index }

// Elapsed returns the time spent in the current slot in milliseconds
func (s *Sequencer) Elapsed() float64 { return s.elapsed }

// TurnOffDelay returns the effective crossfade delay in milliseconds
func (s *Sequencer) TurnOffDelay() float64 { return s.turnOffDelay }

// Timing returns the current timing
func (s *Sequencer) Timing() Timing { return s.cfg.Timing }

// Durations returns a copy of the slot durations in milliseconds
func (s *Sequencer) Durations() []float64 {
	out := make([]float64, len(s.durations))
	copy(out, s.durations)
	return out
}

// Steps returns the number of pattern steps
func (s *Sequencer) Steps() int { return len(s.steps) }

func stimIDs(step []*Stimulation) []int {
	ids := make([]int, len(step))
	for i, stim := range step {
		ids[i] = stim.ID()
	}
	return ids
}
