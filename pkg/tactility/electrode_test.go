// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"errors"
	"slices"
	"testing"
)

func fingerPads(cathode, anode int) []PadRole {
	pads := make([]PadRole, 8)
	pads[cathode] = RoleCathode
	pads[anode] = RoleAnode
	return pads
}

func TestVirtualElectrode_FingerMatrix(t *testing.T) {
	// pad 1 cathode, pad 7 anode
	v, err := NewVirtualElectrode(11, "tip", ElectrodeFingerMatrix, fingerPads(0, 6))
	if err != nil {
		t.Fatalf("NewVirtualElectrode failed: %v", err)
	}

	tests := []struct {
		connector    int
		wantCathodes []int
		wantAnodes   uint32
	}{
		{3, []int{4}, 1 << 0},
		{4, []int{10}, 1 << 12},
	}

	for _, tt := range tests {
		cathodes, err := v.Cathodes(tt.connector)
		if err != nil {
			t.Fatalf("Cathodes(%d) failed: %v", tt.connector, err)
		}
		if !slices.Equal(cathodes, tt.wantCathodes) {
			t.Errorf("Cathodes(%d) = %v, want %v", tt.connector, cathodes, tt.wantCathodes)
		}
		anodes, err := v.Anodes(tt.connector)
		if err != nil {
			t.Fatalf("Anodes(%d) failed: %v", tt.connector, err)
		}
		if anodes != tt.wantAnodes {
			t.Errorf("Anodes(%d) = 0x%08X, want 0x%08X", tt.connector, anodes, tt.wantAnodes)
		}
	}
}

func TestVirtualElectrode_HandConcentric(t *testing.T) {
	pads := make([]PadRole, 16)
	pads[0] = RoleCathode
	pads[1] = RoleCathode
	pads[15] = RoleAnode
	v, err := NewVirtualElectrode(10, "palm", ElectrodeHandConcentric, pads)
	if err != nil {
		t.Fatalf("NewVirtualElectrode failed: %v", err)
	}

	cathodes, err := v.Cathodes(1)
	if err != nil {
		t.Fatalf("Cathodes failed: %v", err)
	}
	if !slices.Equal(cathodes, []int{29, 24}) {
		t.Errorf("Cathodes(1) = %v, want [29 24]", cathodes)
	}
	anodes, _ := v.Anodes(1)
	if anodes != 1<<24 {
		t.Errorf("Anodes(1) = 0x%08X, want 0x%08X", anodes, uint32(1<<24))
	}

	if _, err := v.Cathodes(3); !errors.Is(err, ErrInvalidConnector) {
		t.Errorf("Cathodes(3) error = %v, want ErrInvalidConnector", err)
	}
}

func TestNewVirtualElectrode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		id      int
		layout  ElectrodeType
		pads    []PadRole
		wantErr error
	}{
		{"id too low", 9, ElectrodeFingerMatrix, make([]PadRole, 8), ErrInvalidID},
		{"wrong pad count", 11, ElectrodeFingerMatrix, make([]PadRole, 16), ErrInvalidLayout},
		{"layout without table", 11, ElectrodeHandMatrix, make([]PadRole, 16), ErrInvalidLayout},
		{"no electrode", 11, ElectrodeNone, nil, ErrInvalidLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVirtualElectrode(tt.id, "x", tt.layout, tt.pads)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVirtualElectrode_Immutable(t *testing.T) {
	pads := fingerPads(0, 1)
	v, _ := NewVirtualElectrode(12, "a", ElectrodeFingerMatrix, pads)
	pads[0] = RoleNone
	v.Pads()[1] = RoleNone

	got := v.Pads()
	if got[0] != RoleCathode || got[1] != RoleAnode {
		t.Errorf("Pads() = %v, pads were mutated", got)
	}
}

func TestVirtualElectrode_Stimulation(t *testing.T) {
	v, _ := NewVirtualElectrode(13, "ring", ElectrodeFingerMatrix, fingerPads(2, 3))
	s, err := v.Stimulation(3, 2, 150, true)
	if err != nil {
		t.Fatalf("Stimulation failed: %v", err)
	}
	if s.ID() != 13 || s.Name() != "ring" {
		t.Errorf("got id=%d name=%s", s.ID(), s.Name())
	}
	if !slices.Equal(s.Cathodes(), []int{2}) {
		t.Errorf("Cathodes() = %v, want [2]", s.Cathodes())
	}
	if s.Anodes() != 1<<2 {
		t.Errorf("Anodes() = 0x%08X, want 0x00000004", s.Anodes())
	}
}

func TestVirtualElectrode_Connector(t *testing.T) {
	matrix, _ := NewVirtualElectrode(13, "ring", ElectrodeFingerMatrix, fingerPads(2, 3))

	tests := []struct {
		name    string
		cfg     ConnectorConfig
		part    HandPart
		want    int
		wantErr error
	}{
		{
			name: "matching layout",
			cfg:  ConnectorConfig{2: {ElectrodeFingerMatrix, PartIndex}},
			part: PartIndex,
			want: 3,
		},
		{
			name: "matrix on connector 4",
			cfg:  ConnectorConfig{3: {ElectrodeFingerMatrix, PartThumb}},
			part: PartThumb,
			want: 4,
		},
		{
			name: "resolved connector holds another layout",
			cfg: ConnectorConfig{
				2: {ElectrodeFingerCircular, PartIndex},
				3: {ElectrodeFingerMatrix, PartIndex},
			},
			part:    PartIndex,
			wantErr: ErrInvalidConnector,
		},
		{
			name:    "no connector for part",
			cfg:     ConnectorConfig{2: {ElectrodeFingerMatrix, PartIndex}},
			part:    PartThumb,
			wantErr: ErrNoElectrodeForPart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := matrix.Connector(tt.part, tt.cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Connector() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Connector() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Connector() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestChannelsCoverEveryPad(t *testing.T) {
	for layout, table := range layouts {
		for connector, channels := range table.mapping {
			if len(channels) != table.pads {
				t.Errorf("%s connector %d has %d channels, want %d", layout, connector, len(channels), table.pads)
			}
			seen := map[int]bool{}
			for _, ch := range channels {
				if ch < 1 || ch > ChannelCount {
					t.Errorf("%s connector %d channel %d out of range", layout, connector, ch)
				}
				if seen[ch] {
					t.Errorf("%s connector %d channel %d repeated", layout, connector, ch)
				}
				seen[ch] = true
			}
		}
	}
}

func TestParsePadRole(t *testing.T) {
	tests := []struct {
		in      string
		want    PadRole
		wantErr bool
	}{
		{"c", RoleCathode, false},
		{"Cathode", RoleCathode, false},
		{"a", RoleAnode, false},
		{"-", RoleNone, false},
		{"", RoleNone, false},
		{"x", RoleNone, true},
	}

	for _, tt := range tests {
		got, err := ParsePadRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePadRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePadRole(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
