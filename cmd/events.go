// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Thermoquad/tactility/pkg/tactility"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// EventMessage is the JSON body published for every session event
type EventMessage struct {
	MessageID string `json:"messageID"`
	SessionID string `json:"sessionID"`
	Kind      string `json:"kind"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	StimID    int    `json:"stimID,omitempty"`
	Name      string `json:"name,omitempty"`
	Error     string `json:"error,omitempty"`
}

// newEventMessage builds the message for one event
func newEventMessage(sessionID string, e tactility.Event) EventMessage {
	msg := EventMessage{
		MessageID: uuid.NewString(),
		SessionID: sessionID,
		Kind:      e.Kind.String(),
		Timestamp: e.Time.UnixMilli(),
		StimID:    e.StimID,
		Name:      e.Name,
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// EventPublisher forwards session events to an MQTT topic
type EventPublisher struct {
	client    mqtt.Client
	topic     string
	qos       byte
	sessionID string
	logger    *slog.Logger
}

// NewEventPublisher connects to the broker
func NewEventPublisher(broker, topic, clientID, username string, qos byte) (*EventPublisher, error) {
	sessionID := uuid.NewString()
	if clientID == "" {
		clientID = "tactility-" + sessionID[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		password, err := GetPassword()
		if err != nil {
			return nil, err
		}
		opts.SetPassword(password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(mqttConnectTimeout); !ok {
		return nil, fmt.Errorf("MQTT connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connection failed: %w", err)
	}

	return &EventPublisher{
		client:    client,
		topic:     topic,
		qos:       qos,
		sessionID: sessionID,
		logger:    slog.Default().With("component", "mqtt"),
	}, nil
}

// Publish sends one event. Failures are logged; a broker outage never
// interrupts the session.
func (p *EventPublisher) Publish(e tactility.Event) {
	body, err := json.Marshal(newEventMessage(p.sessionID, e))
	if err != nil {
		p.logger.Error("failed to encode event", "kind", e.Kind, "err", err)
		return
	}
	token := p.client.Publish(p.topic, p.qos, false, body)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.logger.Warn("event publish timed out", "kind", e.Kind)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error("event publish failed", "kind", e.Kind, "err", err)
	}
}

// Close disconnects from the broker after pending messages are delivered
func (p *EventPublisher) Close() {
	p.client.Disconnect(250)
}
