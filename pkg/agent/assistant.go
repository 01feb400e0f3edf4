// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
	"github.com/jllopis/kairos-ci/pkg/resilience"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// Assistant is an LLM-backed agent.
type Assistant struct {
	profile
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int64
	strategy    memory.TruncationStrategy
	retry       resilience.RetryConfig
	metrics     *telemetry.ConversationMetrics
	logger      *slog.Logger
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant) error

// NewAssistant creates an assistant that answers through provider.
func NewAssistant(name string, provider llm.Provider, opts ...AssistantOption) (*Assistant, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New(errors.CodeConfig, "assistant requires an LLM provider", nil).
			WithContext("agent", name)
	}
	a := &Assistant{
		profile:  profile{name: name},
		provider: provider,
		retry:    resilience.DefaultRetryConfig().WithMaxAttempts(1),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WithSystemMessage sets the assistant system message.
func WithSystemMessage(msg string) AssistantOption {
	return func(a *Assistant) error {
		a.systemMessage = msg
		return nil
	}
}

// WithDescription sets the description shown to the speaker selector.
func WithDescription(desc string) AssistantOption {
	return func(a *Assistant) error {
		a.description = desc
		return nil
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) AssistantOption {
	return func(a *Assistant) error {
		a.model = model
		return nil
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) AssistantOption {
	return func(a *Assistant) error {
		if t < 0 || t > 2 {
			return errors.New(errors.CodeInvalidInput, "temperature must be between 0 and 2", nil).
				WithContext("temperature", t)
		}
		a.temperature = t
		return nil
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) AssistantOption {
	return func(a *Assistant) error {
		a.maxTokens = n
		return nil
	}
}

// WithHistoryStrategy trims the history before each call.
func WithHistoryStrategy(s memory.TruncationStrategy) AssistantOption {
	return func(a *Assistant) error {
		a.strategy = s
		return nil
	}
}

// WithRetry retries recoverable provider errors.
func WithRetry(rc resilience.RetryConfig) AssistantOption {
	return func(a *Assistant) error {
		a.retry = rc
		return nil
	}
}

// WithMetrics records token usage.
func WithMetrics(m *telemetry.ConversationMetrics) AssistantOption {
	return func(a *Assistant) error {
		a.metrics = m
		return nil
	}
}

// WithLogger sets the assistant logger.
func WithLogger(l *slog.Logger) AssistantOption {
	return func(a *Assistant) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// Generate implements Agent.
func (a *Assistant) Generate(ctx context.Context, history []Message) (Reply, error) {
	runID, _ := core.RunID(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("llm.model", a.model),
		attribute.Int("llm.history", len(history)),
	))
	defer span.End()

	trimmed := history
	if a.strategy != nil {
		var err error
		trimmed, err = a.strategy.Truncate(ctx, history)
		if err != nil {
			return Reply{}, errors.New(errors.CodeMemoryError, "truncate history", err).WithContext("agent", a.name)
		}
	}

	req := llm.ChatRequest{
		Model:       a.model,
		Messages:    a.buildMessages(trimmed),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}
	resp, err := resilience.DoValue(ctx, a.retry, func() (*llm.ChatResponse, error) {
		return a.provider.Chat(ctx, req)
	})
	if err != nil {
		err = WrapLLMError(err, a.name, a.model)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.ErrorContext(ctx, "agent.llm.failed",
			slog.String("agent", a.name),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return Reply{}, err
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	a.metrics.RecordTokens(ctx, a.name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	a.logger.DebugContext(ctx, "agent.llm.reply",
		slog.String("agent", a.name),
		slog.String("run_id", runID),
		slog.Int("messages", len(req.Messages)),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return Reply{Content: resp.Content, Usage: resp.Usage}, nil
}

// buildMessages maps the shared history onto chat roles from this agent's
// point of view: its own turns are assistant turns, everyone else speaks as
// a named user.
func (a *Assistant) buildMessages(history []Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if a.systemMessage != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: a.systemMessage})
	}
	for _, m := range history {
		switch {
		case m.Role == memory.RoleSystem:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		case m.Name == a.name:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		default:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Name: m.Name, Content: m.Content})
		}
	}
	return msgs
}

var _ Agent = (*Assistant)(nil)
