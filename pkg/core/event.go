// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the small set of types shared by the conversation
// runtime: run identifiers carried on the context and semantic events.
package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted during a group chat run.
type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventSpeakerSelected EventType = "speaker.selected"
	EventMessage         EventType = "message"
	EventCommandExecuted EventType = "command.executed"
	EventRunCompleted    EventType = "run.completed"
	EventError           EventType = "error"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType      `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	RunID     string         `json:"run_id"`
	Round     int            `json:"round,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter discards every event.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current UTC time.
func NewEvent(eventType EventType, agent, runID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
