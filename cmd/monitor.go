// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	monitorDuration int
	monitorSend     []string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print every line the stimulator sends",
	Long: `Open the transport without running the handshake, optionally send raw
command lines, and print every response line received.

Useful for debugging link stability and checking how the firmware answers
individual commands, for example:

  tactility monitor -p /dev/rfcomm0 --send "iam TACTILITY" --send "battery ?"

Exit codes:
  0 - Monitoring completed normally
  1 - Connection lost while monitoring
  2 - Connection error`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorDuration, "duration", 30, "Monitoring duration in seconds")
	monitorCmd.Flags().StringArrayVar(&monitorSend, "send", nil, "Command line to send before monitoring (repeatable)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	duration := time.Duration(monitorDuration) * time.Second
	// One read spans the whole run; WebSocket reads cannot resume after a timeout
	cfg.Transport.ReadTimeout = duration + time.Second

	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Tactility - Line Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", monitorDuration)

	for _, line := range monitorSend {
		if err := conn.WriteLine(line); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("[%s] >> %s\n", time.Now().Format("15:04:05.000"), line)
	}

	lineChan := make(chan string, 100)
	errChan := make(chan error, 1)
	go func() {
		for {
			line, err := conn.ReadLine()
			if err != nil {
				errChan <- err
				return
			}
			lineChan <- line
		}
	}()

	endTime := time.Now().Add(duration)
	linesReceived := 0

	for time.Now().Before(endTime) {
		select {
		case line := <-lineChan:
			linesReceived++
			fmt.Printf("[%s] << %s\n", time.Now().Format("15:04:05.000"), line)

		case err := <-errChan:
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Monitor Results ---\n")
			fmt.Printf("Lines received: %d\n", linesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-cmd.Context().Done():
			endTime = time.Now()

		case <-time.After(5 * time.Second):
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n", time.Now().Format("15:04:05.000"), remaining)
		}
	}

	fmt.Printf("\n--- Monitor Results ---\n")
	fmt.Printf("Lines received: %d\n", linesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}
