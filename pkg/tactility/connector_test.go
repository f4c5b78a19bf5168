// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"errors"
	"testing"
)

func TestResolveConnector(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectorConfig
		part    HandPart
		want    int
		wantErr bool
	}{
		{
			name: "index on connector 3",
			cfg: ConnectorConfig{
				2: {ElectrodeFingerMatrix, PartIndex},
			},
			part: PartIndex,
			want: 3,
		},
		{
			name: "lower connector wins",
			cfg: ConnectorConfig{
				2: {ElectrodeFingerMatrix, PartIndex},
				3: {ElectrodeFingerMatrix, PartIndex},
			},
			part: PartIndex,
			want: 3,
		},
		{
			name: "thumb on connector 4",
			cfg: ConnectorConfig{
				2: {ElectrodeFingerMatrix, PartIndex},
				3: {ElectrodeFingerCircular, PartThumb},
			},
			part: PartThumb,
			want: 4,
		},
		{
			name: "palm on connector 1",
			cfg: ConnectorConfig{
				0: {ElectrodeHandConcentric, PartPalm},
			},
			part: PartPalm,
			want: 1,
		},
		{
			name: "dorsal on connector 2",
			cfg: ConnectorConfig{
				0: {ElectrodeHandConcentric, PartPalm},
				1: {ElectrodeHandMatrix, PartDorsal},
			},
			part: PartDorsal,
			want: 2,
		},
		{
			name: "connector without electrode",
			cfg: ConnectorConfig{
				2: {ElectrodeNone, PartIndex},
			},
			part:    PartIndex,
			wantErr: true,
		},
		{
			name: "part assigned elsewhere",
			cfg: ConnectorConfig{
				2: {ElectrodeFingerMatrix, PartThumb},
			},
			part:    PartIndex,
			wantErr: true,
		},
		{
			name:    "nothing configured",
			part:    PartPalm,
			wantErr: true,
		},
		{
			name: "part none",
			cfg: ConnectorConfig{
				0: {ElectrodeHandConcentric, PartNone},
			},
			part:    PartNone,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveConnector(tt.part, tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrNoElectrodeForPart) {
					t.Errorf("error = %v, want ErrNoElectrodeForPart", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveConnector() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConnectorConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectorConfig
		wantErr bool
	}{
		{"empty", ConnectorConfig{}, false},
		{"full hand", ConnectorConfig{
			{ElectrodeHandConcentric, PartPalm},
			{ElectrodeHandMatrix, PartDorsal},
			{ElectrodeFingerMatrix, PartIndex},
			{ElectrodeFingerCircular, PartThumb},
		}, false},
		{"finger electrode on connector 1", ConnectorConfig{
			0: {ElectrodeFingerMatrix, PartPalm},
		}, true},
		{"finger connector on palm", ConnectorConfig{
			2: {ElectrodeFingerMatrix, PartPalm},
		}, true},
		{"unassigned part", ConnectorConfig{
			3: {ElectrodeFingerMatrix, PartNone},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConnector) {
				t.Errorf("Validate() error = %v, want ErrInvalidConnector", err)
			}
		})
	}
}

func TestParseElectrodeType(t *testing.T) {
	tests := []struct {
		in   string
		want ElectrodeType
	}{
		{"finger_matrix", ElectrodeFingerMatrix},
		{"FingerMatrix", ElectrodeFingerMatrix},
		{"hand-concentric", ElectrodeHandConcentric},
		{"none", ElectrodeNone},
	}

	for _, tt := range tests {
		got, err := ParseElectrodeType(tt.in)
		if err != nil {
			t.Errorf("ParseElectrodeType(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseElectrodeType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseElectrodeType("foot"); !errors.Is(err, ErrInvalidLayout) {
		t.Errorf("ParseElectrodeType(foot) error = %v, want ErrInvalidLayout", err)
	}
}

func TestParseHandPart(t *testing.T) {
	for part, name := range handPartNames {
		got, err := ParseHandPart(name)
		if err != nil || got != part {
			t.Errorf("ParseHandPart(%q) = %s, %v", name, got, err)
		}
	}
	if got, err := ParseHandPart(" Index "); err != nil || got != PartIndex {
		t.Errorf("ParseHandPart(Index) = %s, %v", got, err)
	}
	if _, err := ParseHandPart("elbow"); err == nil {
		t.Error("expected error for unknown part")
	}
}

func TestConnectorConfigSlot(t *testing.T) {
	cfg := ConnectorConfig{2: {ElectrodeFingerMatrix, PartIndex}}
	slot, ok := cfg.Slot(3)
	if !ok || slot.Electrode != ElectrodeFingerMatrix {
		t.Errorf("Slot(3) = %+v, %v", slot, ok)
	}
	if _, ok := cfg.Slot(0); ok {
		t.Error("Slot(0) should not exist")
	}
	if _, ok := cfg.Slot(5); ok {
		t.Error("Slot(5) should not exist")
	}
}
