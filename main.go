// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tactility - Electrotactile Stimulator Control Tool
//
// A CLI tool for driving a Tactility stimulator over its line-oriented
// command protocol: handshake, single stimulations, timed spatio-temporal
// patterns and an interactive control panel.

package main

import (
	"os"

	"github.com/Thermoquad/tactility/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
