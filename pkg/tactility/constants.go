// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tactility implements the command/session layer for the Tactility
// electrotactile stimulator.
//
// The stimulator speaks a line-oriented text protocol over a Bluetooth
// serial link. This package encodes virtual electrode definitions into that
// grammar, maps logical electrodes onto physical channels, keeps the
// session's "selected" bookkeeping consistent with what was sent on the
// wire, and sequences stimulations in time to build spatio-temporal
// patterns.
package tactility

import "time"

// Stimulation parameter ranges
const (
	MinIntensity float32 = 0 // mA
	MaxIntensity float32 = 9 // mA

	MinPulseWidth = 30  // µs
	MaxPulseWidth = 500 // µs

	MinFrequency = 1   // Hz
	MaxFrequency = 200 // Hz
)

// Velec identifiers usable by the host. The device owns slots 1..16, the
// host may only define 10..16.
const (
	MinVelecID      = 10
	MaxVelecID      = 16
	DeviceSlotCount = 16
	velecTableSize  = MaxVelecID - MinVelecID + 1
)

// ChannelCount is the number of physical stimulation outputs addressed by
// the protocol. Channels are numbered 1..ChannelCount.
const ChannelCount = 32

// ConnectorCount is the number of physical electrode sockets on the device.
const ConnectorCount = 4

// Session defaults
const (
	DefaultFrequency   = 35
	DefaultReadTimeout = 1000 * time.Millisecond
	DefaultBaudRate    = 115200
	DefaultInitDelay   = 50 * time.Millisecond
)

// Sequencer defaults
const (
	DefaultStartDelayMS   = 25.0
	maxTurnOffDelayFactor = 0.9
)

// Protocol commands (one per line)
const (
	CmdIdentify  = "iam TACTILITY"
	CmdBattery   = "battery ?"
	CmdHardware  = "hardware ?"
	CmdFirmware  = "firmware ?"
	CmdPadsQty   = "elec 1 *pads_qty 32"
	CmdStimOn    = "stim on"
	CmdStimOff   = "stim off"
	cmdFrequency = "freq"
	cmdStim      = "stim"
	cmdVelec     = "velec"
)

// Response keywords located in query answers
const (
	keywordBattery  = "battery"
	keywordHardware = "hardware"
	keywordFirmware = "firmware"
)

// seqModulo is the wrap-around value for command log sequence ids.
const seqModulo = 256
