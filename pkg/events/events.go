// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package events delivers run events to logs and to NATS subscribers.
package events

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/core"
)

// SlogEmitter writes each event as a structured log record.
type SlogEmitter struct {
	Logger *slog.Logger
	Level  slog.Level
}

// NewSlogEmitter logs events on logger at info level.
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{Logger: logger, Level: slog.LevelInfo}
}

// Emit implements core.EventEmitter.
func (s *SlogEmitter) Emit(ctx context.Context, event core.Event) {
	attrs := []slog.Attr{
		slog.String("event", string(event.Type)),
		slog.String("run_id", event.RunID),
	}
	if event.Agent != "" {
		attrs = append(attrs, slog.String("agent", event.Agent))
	}
	if event.Round > 0 {
		attrs = append(attrs, slog.Int("round", event.Round))
	}
	if len(event.Payload) > 0 {
		keys := make([]string, 0, len(event.Payload))
		for k := range event.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		payload := make([]any, 0, len(keys))
		for _, k := range keys {
			payload = append(payload, slog.Any(k, event.Payload[k]))
		}
		attrs = append(attrs, slog.Group("payload", payload...))
	}
	s.Logger.LogAttrs(ctx, s.Level, "groupchat.event", attrs...)
}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []core.EventEmitter

// Emit implements core.EventEmitter.
func (m MultiEmitter) Emit(ctx context.Context, event core.Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}

// Subject returns the NATS subject for an event: <prefix>.<run_id>.<type>.
func Subject(prefix, runID string, eventType core.EventType) string {
	return strings.Join([]string{prefix, sanitize(runID), string(eventType)}, ".")
}

// RunSubjects returns the wildcard subject matching every event of runID, or
// of every run when runID is empty.
func RunSubjects(prefix, runID string) string {
	if runID == "" {
		return prefix + ".*.>"
	}
	return prefix + "." + sanitize(runID) + ".>"
}

// sanitize keeps a run ID to a single subject token.
func sanitize(token string) string {
	if token == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, token)
}
