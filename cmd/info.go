// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Run the device handshake and print device information",
	Long: `Connect, run the initialization handshake and print the battery,
hardware and firmware answers of the stimulator together with the command
log of the handshake.

The handshake sends, in order: iam TACTILITY, battery ?, hardware ?,
firmware ?, elec 1 *pads_qty 32, freq <initial frequency>, and a deselect
for every velec slot 1..16.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	session, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer session.Close()

	info := session.DeviceInfo()
	fmt.Printf("\nTactility - Device Info\n")
	fmt.Printf("  Identity:  %s\n", info.Identity)
	fmt.Printf("  Battery:   %s\n", info.Battery)
	fmt.Printf("  Hardware:  %s\n", info.Hardware)
	fmt.Printf("  Firmware:  %s\n", info.Firmware)
	fmt.Printf("  Frequency: %d Hz\n\n", session.Frequency())

	for _, r := range session.Log().Records() {
		fmt.Print(tactility.FormatRecord(r))
	}
	fmt.Printf("\n%s", session.Statistics().String())
	return nil
}
