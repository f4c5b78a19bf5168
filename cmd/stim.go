// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var (
	stimElectrode  string
	stimPart       string
	stimIntensity  float32
	stimPulseWidth int
	stimFrequency  int
	stimDuration   time.Duration
)

var stimCmd = &cobra.Command{
	Use:   "stim",
	Short: "Play one virtual electrode for a fixed duration",
	Long: `Define one stimulation from a configured virtual electrode, switch the
stimulator on, hold for --duration and switch it off again.

The electrode is resolved to physical channels through the connector
table: the hand part selects the connector, the electrode layout maps its
pads to channels on that connector.

Intensity and pulse width outside the device ranges (0-9 mA, 30-500 us)
are clamped with a warning.`,
	RunE: runStim,
}

func init() {
	rootCmd.AddCommand(stimCmd)
	stimCmd.Flags().StringVarP(&stimElectrode, "electrode", "e", "", "Name of the virtual electrode (required)")
	stimCmd.Flags().StringVar(&stimPart, "part", "", "Hand part the electrode is placed on (default: first connector holding its layout)")
	stimCmd.Flags().Float32VarP(&stimIntensity, "intensity", "i", 0, "Intensity in mA (default from config)")
	stimCmd.Flags().IntVarP(&stimPulseWidth, "pulse-width", "w", 0, "Pulse width in us (default from config)")
	stimCmd.Flags().IntVarP(&stimFrequency, "frequency", "f", 0, "Stimulation frequency in Hz (default: keep initial frequency)")
	stimCmd.Flags().DurationVarP(&stimDuration, "duration", "d", time.Second, "How long to stimulate")
	stimCmd.MarkFlagRequired("electrode")
}

func runStim(cmd *cobra.Command, args []string) error {
	electrode, err := cfg.Electrode(stimElectrode)
	if err != nil {
		return err
	}
	connectors, err := cfg.ConnectorConfig()
	if err != nil {
		return err
	}
	part, err := stimHandPart(electrode.Layout(), connectors)
	if err != nil {
		return err
	}
	connector, err := electrode.Connector(part, connectors)
	if err != nil {
		return err
	}

	intensity := cfg.Stimulation.Intensity
	if cmd.Flags().Changed("intensity") {
		intensity = stimIntensity
	}
	pulseWidth := cfg.Stimulation.PulseWidth
	if cmd.Flags().Changed("pulse-width") {
		pulseWidth = stimPulseWidth
	}

	stim, err := electrode.Stimulation(connector, intensity, pulseWidth, true)
	if err != nil {
		return err
	}

	session, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer session.Close()

	if stimFrequency != 0 {
		hz, clamped := tactility.ClampFrequency(stimFrequency)
		if clamped {
			fmt.Printf("Frequency %d Hz out of range, using %d Hz\n", stimFrequency, hz)
		}
		if err := session.SetFrequency(hz); err != nil {
			return err
		}
	}

	if err := session.Define(stim); err != nil {
		return err
	}
	if err := session.StartAll(); err != nil {
		return err
	}
	fmt.Printf("Stimulating %s on %s (connector %d) at %d Hz for %v\n", tactility.FormatStimulation(stim), part, connector, session.Frequency(), stimDuration)

	select {
	case <-time.After(stimDuration):
	case <-cmd.Context().Done():
		fmt.Printf("Interrupted\n")
	}

	if err := session.Deselect(stim.ID()); err != nil {
		return err
	}
	return nil
}

// stimHandPart returns --part, or the part of the first connector that
// holds an electrode of the given layout.
func stimHandPart(layout tactility.ElectrodeType, connectors tactility.ConnectorConfig) (tactility.HandPart, error) {
	if stimPart != "" {
		return tactility.ParseHandPart(stimPart)
	}
	for _, slot := range connectors {
		if slot.Electrode == layout && slot.Part != tactility.PartNone {
			return slot.Part, nil
		}
	}
	return tactility.PartNone, fmt.Errorf("no connector holds a %s electrode, use --part", layout)
}
