// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var (
	logDumpStats bool
)

var logDumpCmd = &cobra.Command{
	Use:   "log_dump <file>",
	Short: "Display a recorded command log in human-readable format",
	Long: `Decode a CBOR command log written with --command-log and print every
command with its sequence id, timestamp, response and round trip.

Long velec definitions are summarized to id, name, cathodes, amplitude,
pulse width, anode mask and selected flag.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogDump,
}

func init() {
	rootCmd.AddCommand(logDumpCmd)
	logDumpCmd.Flags().BoolVar(&logDumpStats, "stats", false, "Print command statistics after the log")
}

func runLogDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open command log: %w", err)
	}
	defer f.Close()

	records, err := tactility.ReadCommandLog(f)
	if err != nil {
		return err
	}

	fmt.Printf("Tactility - Command Log\n")
	fmt.Printf("File: %s (%d commands)\n\n", args[0], len(records))

	for _, r := range records {
		fmt.Print(tactility.FormatRecord(r))
	}

	if logDumpStats && len(records) > 0 {
		stats := tactility.NewStatistics(records[0].SentAt)
		for _, r := range records {
			stats.Update(r)
		}
		stats.CalculateRates(records[len(records)-1].SentAt)
		fmt.Printf("\n%s", stats.String())
	}
	return nil
}
