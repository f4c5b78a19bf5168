// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"strings"
)

// ElectrodeType identifies the hardware layout plugged into a connector
type ElectrodeType int

const (
	ElectrodeNone ElectrodeType = iota
	ElectrodeHandConcentric
	ElectrodeHandMatrix
	ElectrodeFingerCircular
	ElectrodeFingerMatrix
)

var electrodeTypeNames = map[ElectrodeType]string{
	ElectrodeNone:           "none",
	ElectrodeHandConcentric: "hand_concentric",
	ElectrodeHandMatrix:     "hand_matrix",
	ElectrodeFingerCircular: "finger_circular",
	ElectrodeFingerMatrix:   "finger_matrix",
}

func (t ElectrodeType) String() string {
	if name, ok := electrodeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ElectrodeType(%d)", int(t))
}

// ParseElectrodeType parses names such as "finger_matrix" or "FingerMatrix"
func ParseElectrodeType(s string) (ElectrodeType, error) {
	key := normalizeName(s)
	for t, name := range electrodeTypeNames {
		if normalizeName(name) == key {
			return t, nil
		}
	}
	return ElectrodeNone, fmt.Errorf("%w: unknown electrode type %q", ErrInvalidLayout, s)
}

// HandPart is the location an electrode is attached to
type HandPart int

const (
	PartNone HandPart = iota
	PartPalm
	PartDorsal
	PartIndex
	PartThumb
)

var handPartNames = map[HandPart]string{
	PartNone:   "none",
	PartPalm:   "palm",
	PartDorsal: "dorsal",
	PartIndex:  "index",
	PartThumb:  "thumb",
}

func (p HandPart) String() string {
	if name, ok := handPartNames[p]; ok {
		return name
	}
	return fmt.Sprintf("HandPart(%d)", int(p))
}

// ParseHandPart parses a hand part name (case-insensitive)
func ParseHandPart(s string) (HandPart, error) {
	key := normalizeName(s)
	for p, name := range handPartNames {
		if name == key {
			return p, nil
		}
	}
	return PartNone, fmt.Errorf("unknown hand part %q", s)
}

// ConnectorSlot describes what is plugged into one connector
type ConnectorSlot struct {
	Electrode ElectrodeType
	Part      HandPart
}

// ConnectorConfig holds connectors 1..4 at indices 0..3
type ConnectorConfig [ConnectorCount]ConnectorSlot

// Slot returns the slot for a 1-based connector id
func (c ConnectorConfig) Slot(connector int) (ConnectorSlot, bool) {
	if connector < 1 || connector > ConnectorCount {
		return ConnectorSlot{}, false
	}
	return c[connector-1], true
}

// candidateConnectors lists the connectors that can physically serve a part
func candidateConnectors(part HandPart) []int {
	switch part {
	case PartPalm, PartDorsal:
		return []int{1, 2}
	case PartIndex, PartThumb:
		return []int{3, 4}
	}
	return nil
}

// ResolveConnector returns the connector serving part. When both candidate
// connectors are valid the lower-numbered one wins.
func ResolveConnector(part HandPart, cfg ConnectorConfig) (int, error) {
	for _, connector := range candidateConnectors(part) {
		slot := cfg[connector-1]
		if slot.Electrode != ElectrodeNone && slot.Part == part {
			return connector, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoElectrodeForPart, part)
}

// Validate checks that every populated slot holds an electrode type and a
// hand part the physical connector accepts.
func (c ConnectorConfig) Validate() error {
	for i, slot := range c {
		connector := i + 1
		if slot.Electrode == ElectrodeNone {
			continue
		}
		if !connectorAcceptsElectrode(connector, slot.Electrode) {
			return fmt.Errorf("%w: connector %d cannot hold %s", ErrInvalidConnector, connector, slot.Electrode)
		}
		if slot.Part == PartNone {
			continue
		}
		allowed := false
		for _, candidate := range candidateConnectors(slot.Part) {
			if candidate == connector {
				allowed = true
			}
		}
		if !allowed {
			return fmt.Errorf("%w: connector %d cannot be placed on %s", ErrInvalidConnector, connector, slot.Part)
		}
	}
	return nil
}

func connectorAcceptsElectrode(connector int, t ElectrodeType) bool {
	switch connector {
	case 1:
		return t == ElectrodeHandConcentric
	case 2:
		return t == ElectrodeHandMatrix
	case 3, 4:
		return t == ElectrodeFingerCircular || t == ElectrodeFingerMatrix
	}
	return false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, "_", "")
}
