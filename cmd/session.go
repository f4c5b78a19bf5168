// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

// sessionHandle bundles a session with the resources opened for it
type sessionHandle struct {
	*tactility.Session
	publisher *EventPublisher
	logSink   *os.File
}

// newSession builds a session from the configuration without opening it.
// onEvent, when set, receives every event after the MQTT publisher.
func newSession(onEvent func(tactility.Event)) (*sessionHandle, error) {
	dial, err := newDialer()
	if err != nil {
		return nil, err
	}

	h := &sessionHandle{}
	if cfg.MQTT.Broker != "" {
		h.publisher, err = NewEventPublisher(cfg.MQTT.Broker, cfg.MQTT.Topic, cfg.MQTT.ClientID, cfg.MQTT.Username, cfg.MQTT.QoS)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Session.CommandLog != "" {
		h.logSink, err = os.Create(cfg.Session.CommandLog)
		if err != nil {
			h.release()
			return nil, fmt.Errorf("failed to create command log: %w", err)
		}
	}

	sc := tactility.SessionConfig{
		Verbose:          cfg.Session.Verbose,
		InitialFrequency: cfg.Session.InitialFrequency,
		InitDelay:        cfg.Session.InitDelay,
		Logger:           slog.Default(),
		OnEvent: func(e tactility.Event) {
			if h.publisher != nil {
				h.publisher.Publish(e)
			}
			if onEvent != nil {
				onEvent(e)
			}
		},
	}
	if h.logSink != nil {
		sc.LogSink = h.logSink
	}
	h.Session = tactility.NewSession(dial, sc)
	return h, nil
}

// openSession builds and opens a session, printing progress to stdout
func openSession(ctx context.Context) (*sessionHandle, error) {
	h, err := newSession(nil)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Connecting to %s\n", connectionDescription())
	if err := h.Open(ctx); err != nil {
		h.release()
		return nil, err
	}
	return h, nil
}

// Close closes the session and the resources opened for it
func (h *sessionHandle) Close() error {
	err := h.Session.Close()
	return errors.Join(err, h.release())
}

func (h *sessionHandle) release() error {
	var err error
	if h.logSink != nil {
		err = h.logSink.Close()
		h.logSink = nil
	}
	if h.publisher != nil {
		h.publisher.Close()
		h.publisher = nil
	}
	return err
}

// loadSteps resolves a configured pattern into per-step stimulations
func loadSteps(name string, intensity float32, pulseWidth int) ([][]*tactility.Stimulation, tactility.SequencerConfig, error) {
	connectors, err := cfg.ConnectorConfig()
	if err != nil {
		return nil, tactility.SequencerConfig{}, err
	}
	p, entry, err := cfg.BuildPattern(name)
	if err != nil {
		return nil, tactility.SequencerConfig{}, err
	}
	steps, err := tactility.BuildStepStimulations(p, connectors, intensity, pulseWidth)
	if err != nil {
		return nil, tactility.SequencerConfig{}, fmt.Errorf("pattern %q: %w", name, err)
	}
	sc := entry.SequencerConfig()
	sc.Logger = slog.Default()
	return steps, sc, nil
}
