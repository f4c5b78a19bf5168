// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"fmt"
	"strings"
)

// PadRole is the function of one pad inside a virtual electrode
type PadRole int

const (
	RoleNone PadRole = iota
	RoleCathode
	RoleAnode
)

func (r PadRole) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleCathode:
		return "cathode"
	case RoleAnode:
		return "anode"
	}
	return fmt.Sprintf("PadRole(%d)", int(r))
}

// ParsePadRole accepts "none", "cathode", "anode" or the short forms
// "-", "c", "a".
func ParsePadRole(s string) (PadRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "-", "", "n":
		return RoleNone, nil
	case "cathode", "c":
		return RoleCathode, nil
	case "anode", "a":
		return RoleAnode, nil
	}
	return RoleNone, fmt.Errorf("unknown pad role %q", s)
}

// padLayout is the fixed wiring of one electrode type: for each connector
// it can be plugged into, entry i is the physical channel of pad i+1.
type padLayout struct {
	pads    int
	mapping map[int][]int
}

var layouts = map[ElectrodeType]padLayout{
	ElectrodeFingerMatrix: {
		pads: 8,
		mapping: map[int][]int{
			3: {4, 5, 2, 3, 8, 6, 1, 7},
			4: {10, 14, 9, 12, 16, 11, 13, 15},
		},
	},
	ElectrodeHandConcentric: {
		pads: 16,
		mapping: map[int][]int{
			1: {29, 24, 20, 30, 26, 23, 19, 31, 27, 22, 18, 32, 28, 21, 17, 25},
		},
	},
}

// PadCount returns the number of pads of a layout, or 0 if the electrode
// type has no pad table.
func (t ElectrodeType) PadCount() int {
	return layouts[t].pads
}

// Channels returns the pad-to-channel table of a layout on a connector
func (t ElectrodeType) Channels(connector int) ([]int, error) {
	layout, ok := layouts[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no pad table", ErrInvalidLayout, t)
	}
	channels, ok := layout.mapping[connector]
	if !ok {
		return nil, fmt.Errorf("%w: %s should not be connected in connector %d", ErrInvalidConnector, t, connector)
	}
	out := make([]int, len(channels))
	copy(out, channels)
	return out, nil
}

// VirtualElectrode is a named cathode/anode layout over the pads of one
// electrode type. It is immutable once built.
type VirtualElectrode struct {
	id     int
	name   string
	layout ElectrodeType
	pads   []PadRole
}

// NewVirtualElectrode validates the id and the pad count against layout
func NewVirtualElectrode(id int, name string, layout ElectrodeType, pads []PadRole) (*VirtualElectrode, error) {
	if !ValidID(id) {
		return nil, invalidID(id)
	}
	count := layout.PadCount()
	if count == 0 {
		return nil, fmt.Errorf("%w: %s has no pad table", ErrInvalidLayout, layout)
	}
	if len(pads) != count {
		return nil, fmt.Errorf("%w: %s needs %d pads, got %d", ErrInvalidLayout, layout, count, len(pads))
	}
	roles := make([]PadRole, len(pads))
	copy(roles, pads)
	return &VirtualElectrode{id: id, name: name, layout: layout, pads: roles}, nil
}

// ID returns the velec id
func (v *VirtualElectrode) ID() int { return v.id }

// Name returns the velec name
func (v *VirtualElectrode) Name() string { return v.name }

// Layout returns the electrode type the pads belong to
func (v *VirtualElectrode) Layout() ElectrodeType { return v.layout }

// Pads returns a copy of the pad roles
func (v *VirtualElectrode) Pads() []PadRole {
	out := make([]PadRole, len(v.pads))
	copy(out, v.pads)
	return out
}

// Cathodes returns the physical channels of all cathode pads on connector,
// in pad order.
func (v *VirtualElectrode) Cathodes(connector int) ([]int, error) {
	channels, err := v.layout.Channels(connector)
	if err != nil {
		return nil, err
	}
	var cathodes []int
	for i, role := range v.pads {
		if role == RoleCathode {
			cathodes = append(cathodes, channels[i])
		}
	}
	return cathodes, nil
}

// Anodes returns the anode channel bitmask (bit n-1 for channel n)
func (v *VirtualElectrode) Anodes(connector int) (uint32, error) {
	channels, err := v.layout.Channels(connector)
	if err != nil {
		return 0, err
	}
	var mask uint32
	for i, role := range v.pads {
		if role == RoleAnode {
			mask |= 1 << uint(channels[i]-1)
		}
	}
	return mask, nil
}

// Connector returns the connector serving part. It fails with
// ErrInvalidConnector when that connector holds a different layout.
func (v *VirtualElectrode) Connector(part HandPart, cfg ConnectorConfig) (int, error) {
	connector, err := ResolveConnector(part, cfg)
	if err != nil {
		return 0, err
	}
	if slot := cfg[connector-1]; slot.Electrode != v.layout {
		return 0, fmt.Errorf("%w: velec %d is a %s but connector %d for %s holds a %s",
			ErrInvalidConnector, v.id, v.layout, connector, part, slot.Electrode)
	}
	return connector, nil
}

// Stimulation builds a stimulation of this electrode plugged into connector
func (v *VirtualElectrode) Stimulation(connector int, intensity float32, pulseWidth int, selected bool) (*Stimulation, error) {
	cathodes, err := v.Cathodes(connector)
	if err != nil {
		return nil, err
	}
	anodes, err := v.Anodes(connector)
	if err != nil {
		return nil, err
	}
	return NewStimulation(v.id, v.name, intensity, pulseWidth, cathodes, anodes, selected)
}
