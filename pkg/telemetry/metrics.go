// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// ConversationMetrics records what happens during a group chat run.
// A nil *ConversationMetrics is valid and records nothing.
type ConversationMetrics struct {
	messages    metric.Int64Counter
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	tokens      metric.Int64Counter
	commands    metric.Int64Counter
	errors      metric.Int64Counter
}

// NewConversationMetrics creates the instruments on mp, or on the global
// meter provider when mp is nil.
func NewConversationMetrics(mp metric.MeterProvider) (*ConversationMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	m := &ConversationMetrics{}
	var err error
	if m.messages, err = meter.Int64Counter("kairosci.messages.total",
		metric.WithDescription("Messages appended to the group chat by speaker")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("kairosci.runs.total",
		metric.WithDescription("Completed group chat runs by termination reason")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("kairosci.run.duration",
		metric.WithDescription("Group chat run duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.tokens, err = meter.Int64Counter("kairosci.llm.tokens",
		metric.WithDescription("LLM tokens consumed by agent and kind")); err != nil {
		return nil, err
	}
	if m.commands, err = meter.Int64Counter("kairosci.commands.total",
		metric.WithDescription("Code blocks handled by the executor by outcome")); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter("kairosci.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordMessage counts one message from speaker.
func (m *ConversationMetrics) RecordMessage(ctx context.Context, speaker string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", speaker)))
}

// RecordRun counts a finished run and its duration.
func (m *ConversationMetrics) RecordRun(ctx context.Context, termination string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("termination", termination))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTokens counts prompt and completion tokens for agent.
func (m *ConversationMetrics) RecordTokens(ctx context.Context, agent string, prompt, completion int) {
	if m == nil {
		return
	}
	m.tokens.Add(ctx, int64(prompt), metric.WithAttributes(
		attribute.String("agent", agent), attribute.String("kind", "prompt")))
	m.tokens.Add(ctx, int64(completion), metric.WithAttributes(
		attribute.String("agent", agent), attribute.String("kind", "completion")))
}

// RecordCommand counts one executed, failed or denied code block.
func (m *ConversationMetrics) RecordCommand(ctx context.Context, language, outcome string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("language", language),
		attribute.String("outcome", outcome),
	))
}

// RecordError counts err under its error code.
func (m *ConversationMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	recoverable := "false"
	if e := errors.As(err); e != nil {
		recoverable = e.RecoverableString()
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(errors.CodeOf(err))),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}
