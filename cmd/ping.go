// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

var (
	pingTimeout int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test connection by waiting for a response to the identify command",
	Long: `Send "iam TACTILITY" and wait for one response line until timeout.

This command opens the transport directly, without running the session
handshake, and reports the first line the stimulator answers with.

Exit codes:
  0 - Response received before timeout
  1 - Timeout reached without a response
  2 - Connection error

Useful for testing a Bluetooth serial link or WebSocket bridge.`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
}

func runPing(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(pingTimeout) * time.Second
	cfg.Transport.ReadTimeout = timeout

	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Tactility - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", pingTimeout)

	if err := conn.WriteLine(tactility.CmdIdentify); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		os.Exit(2)
	}
	sent := time.Now()
	fmt.Printf("Sent %q, waiting for response...\n\n", tactility.CmdIdentify)

	// Reader goroutine; one ReadLine waits for the whole timeout
	lineChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		for {
			line, err := conn.ReadLine()
			if err != nil {
				errChan <- err
				return
			}
			if line == "" {
				continue
			}
			lineChan <- line
			return
		}
	}()

	select {
	case line := <-lineChan:
		fmt.Printf("SUCCESS: Received response\n")
		fmt.Printf("  Response: %s\n", line)
		fmt.Printf("  Round trip: %v\n", time.Since(sent).Round(time.Millisecond))
		os.Exit(0)

	case err := <-errChan:
		if errors.Is(err, ErrReadTimeout) {
			break
		}
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(timeout + time.Second):
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No response received within %d seconds\n", pingTimeout)
	os.Exit(1)
	return nil
}
