// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

// sequencerTick is the wall-clock period driving pattern playback
const sequencerTick = 10 * time.Millisecond

var (
	patternDuration   time.Duration
	patternIntensity  float32
	patternPulseWidth int
)

var patternCmd = &cobra.Command{
	Use:   "pattern <name>",
	Short: "Play a configured spatio-temporal pattern",
	Long: `Play a named pattern from the configuration for --duration without
the interactive panel.

Every step is submitted as a velec definition with the selected flag set;
the next step is activated before the previous one is deselected, so no
gap appears between steps unless the pattern uses gaps. With crossfade the
previous step stays on for the turn-off delay.

Press Ctrl+C to stop early.`,
	Args: cobra.ExactArgs(1),
	RunE: runPattern,
}

func init() {
	rootCmd.AddCommand(patternCmd)
	patternCmd.Flags().DurationVarP(&patternDuration, "duration", "d", 5*time.Second, "How long to play the pattern")
	patternCmd.Flags().Float32VarP(&patternIntensity, "intensity", "i", 0, "Intensity in mA (default from config)")
	patternCmd.Flags().IntVarP(&patternPulseWidth, "pulse-width", "w", 0, "Pulse width in us (default from config)")
}

func runPattern(cmd *cobra.Command, args []string) error {
	intensity := cfg.Stimulation.Intensity
	if cmd.Flags().Changed("intensity") {
		intensity = patternIntensity
	}
	pulseWidth := cfg.Stimulation.PulseWidth
	if cmd.Flags().Changed("pulse-width") {
		pulseWidth = patternPulseWidth
	}

	steps, sc, err := loadSteps(args[0], intensity, pulseWidth)
	if err != nil {
		return err
	}

	session, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer session.Close()

	seq, err := tactility.NewSequencer(session, steps, sc)
	if err != nil {
		return err
	}

	fmt.Printf("Playing %q: %d steps, %d slots, %.1f Hz cycle, for %v\n",
		args[0], seq.Steps(), len(seq.Durations()), sc.Timing.Frequency, patternDuration)

	if err := seq.Toggle(); err != nil {
		return err
	}

	ticker := time.NewTicker(sequencerTick)
	defer ticker.Stop()
	deadline := time.After(patternDuration)
	last := time.Now()

	for running := true; running; {
		select {
		case now := <-ticker.C:
			session.BeginTick()
			if err := seq.Advance(float64(now.Sub(last)) / float64(time.Millisecond)); err != nil {
				slog.Error("pattern step failed", "err", err)
			}
			last = now
		case <-deadline:
			running = false
		case <-cmd.Context().Done():
			fmt.Printf("Interrupted\n")
			running = false
		}
	}

	if err := seq.Toggle(); err != nil {
		return err
	}
	fmt.Printf("\n%s", session.Statistics().String())
	return nil
}
