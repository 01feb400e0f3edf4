// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package groupchat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-ci/pkg/agent"
	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// Termination reasons.
const (
	TerminationKeyword   = "terminated"
	TerminationMaxRounds = "max_rounds"
	TerminationCancelled = "cancelled"
	TerminationError     = "error"
)

// Result is the outcome of a conversation.
type Result struct {
	RunID       string
	Messages    []agent.Message
	Rounds      int
	Termination string
	// Summary is the last message with the TERMINATE keyword stripped.
	Summary  string
	Usage    llm.Usage
	Duration time.Duration
}

// Manager drives a GroupChat.
type Manager struct {
	chat     *GroupChat
	selector SpeakerSelector
	store    memory.ConversationMemory
	emitter  core.EventEmitter
	metrics  *telemetry.ConversationMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSelector overrides the selector derived from the chat's selection method.
func WithSelector(s SpeakerSelector) ManagerOption {
	return func(m *Manager) { m.selector = s }
}

// WithSelectorProvider sets the model used by auto speaker selection.
func WithSelectorProvider(p llm.Provider, model string) ManagerOption {
	if p == nil {
		return func(*Manager) {}
	}
	return WithSelector(&LLMSelector{Provider: p, Model: model})
}

// WithMemory persists every message under the run ID.
func WithMemory(store memory.ConversationMemory) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithEventEmitter sets the event sink.
func WithEventEmitter(em core.EventEmitter) ManagerOption {
	return func(m *Manager) {
		if em != nil {
			m.emitter = em
		}
	}
}

// WithMetrics records conversation metrics.
func WithMetrics(mt *telemetry.ConversationMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager for chat. Auto selection requires a selector
// provider.
func NewManager(chat *GroupChat, opts ...ManagerOption) (*Manager, error) {
	if chat == nil {
		return nil, errors.New(errors.CodeInvalidInput, "manager requires a group chat", nil)
	}
	m := &Manager{
		chat:    chat,
		emitter: core.NoopEventEmitter{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.selector == nil {
		switch chat.method {
		case SelectRoundRobin:
			m.selector = RoundRobinSelector{}
		case SelectRandom:
			m.selector = NewRandomSelector(0)
		default:
			return nil, errors.New(errors.CodeConfig, "auto speaker selection requires an LLM provider", nil)
		}
	}
	return m, nil
}

// Chat returns the managed group chat.
func (m *Manager) Chat() *GroupChat { return m.chat }

// Run starts the conversation with message from initiator and drives it
// until a message ends with TERMINATE, the message count reaches MaxRound or
// ctx is done. The partial result is returned alongside any error.
func (m *Manager) Run(ctx context.Context, initiator, message string) (*Result, error) {
	if _, ok := m.chat.Agent(initiator); !ok {
		return nil, errors.New(errors.CodeNotFound, "initiator is not a group chat member", nil).
			WithContext("initiator", initiator)
	}
	if strings.TrimSpace(message) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "opening message is empty", nil)
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := telemetry.Tracer().Start(ctx, "groupchat.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("groupchat.initiator", initiator),
		attribute.Int("groupchat.max_round", m.chat.maxRound),
		attribute.String("groupchat.selection", m.chat.method),
	))
	defer span.End()

	start := m.now()
	res := &Result{RunID: runID}
	m.logger.InfoContext(ctx, "groupchat.run.started",
		slog.String("run_id", runID),
		slog.String("initiator", initiator),
		slog.Int("agents", len(m.chat.agents)),
		slog.Int("max_round", m.chat.maxRound),
		slog.String("selection", m.chat.method),
	)
	m.emitter.Emit(ctx, core.NewEvent(core.EventRunStarted, initiator, runID, map[string]any{
		"agents":    m.chat.AgentNames(),
		"max_round": m.chat.maxRound,
		"selection": m.chat.method,
	}))

	err := m.loop(ctx, res, initiator, message)

	res.Duration = m.now().Sub(start)
	res.Rounds = len(res.Messages)
	if n := len(res.Messages); n > 0 {
		res.Summary = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(res.Messages[n-1].Content), TerminateKeyword))
	}
	span.SetAttributes(
		attribute.String("groupchat.termination", res.Termination),
		attribute.Int("groupchat.rounds", res.Rounds),
	)
	m.metrics.RecordRun(ctx, res.Termination, res.Duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.RecordError(ctx, err, "groupchat")
		m.logger.ErrorContext(ctx, "groupchat.run.failed",
			slog.String("run_id", runID),
			slog.String("termination", res.Termination),
			slog.Int("rounds", res.Rounds),
			slog.String("error", err.Error()),
		)
		m.emitter.Emit(ctx, core.NewEvent(core.EventError, "", runID, map[string]any{
			"error":       err.Error(),
			"code":        string(errors.CodeOf(err)),
			"termination": res.Termination,
		}))
	} else {
		m.logger.InfoContext(ctx, "groupchat.run.completed",
			slog.String("run_id", runID),
			slog.String("termination", res.Termination),
			slog.Int("rounds", res.Rounds),
			slog.Duration("duration", res.Duration),
		)
	}
	m.emitter.Emit(ctx, core.NewEvent(core.EventRunCompleted, "", runID, map[string]any{
		"termination":  res.Termination,
		"rounds":       res.Rounds,
		"duration_ms":  res.Duration.Milliseconds(),
		"total_tokens": res.Usage.TotalTokens,
	}))
	return res, err
}

func (m *Manager) loop(ctx context.Context, res *Result, initiator, message string) error {
	if err := m.append(ctx, res, initiator, memory.RoleUser, message, nil); err != nil {
		res.Termination = TerminationError
		return err
	}
	last := initiator
	for {
		if IsTerminationMessage(res.Messages[len(res.Messages)-1]) {
			res.Termination = TerminationKeyword
			return nil
		}
		if len(res.Messages) >= m.chat.maxRound {
			res.Termination = TerminationMaxRounds
			return nil
		}
		if err := ctx.Err(); err != nil {
			return m.cancelled(res, err)
		}

		speaker, err := m.turn(ctx, res, last)
		if err != nil {
			if ctx.Err() != nil {
				return m.cancelled(res, ctx.Err())
			}
			res.Termination = TerminationError
			return err
		}
		last = speaker
	}
}

// turn selects the next speaker and appends its reply.
func (m *Manager) turn(ctx context.Context, res *Result, last string) (string, error) {
	round := len(res.Messages) + 1
	ctx, span := telemetry.Tracer().Start(ctx, "groupchat.turn", trace.WithAttributes(
		attribute.Int("groupchat.round", round),
	))
	defer span.End()

	speaker, sel, err := m.selector.Select(ctx, m.chat, last, res.Messages)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	res.Usage = res.Usage.Add(sel.Usage)
	span.SetAttributes(attribute.String("agent.name", speaker.Name()))

	attrs := []any{
		slog.String("run_id", res.RunID),
		slog.Int("round", round),
		slog.String("speaker", speaker.Name()),
		slog.String("method", sel.Method),
	}
	if sel.Fallback {
		m.logger.WarnContext(ctx, "groupchat.speaker.fallback", append(attrs, slog.String("reason", sel.Reason))...)
	} else {
		m.logger.DebugContext(ctx, "groupchat.speaker.selected", attrs...)
	}
	payload := map[string]any{"method": sel.Method, "previous": last}
	if sel.Fallback {
		payload["fallback"] = true
		payload["reason"] = sel.Reason
	}
	ev := core.NewEvent(core.EventSpeakerSelected, speaker.Name(), res.RunID, payload)
	ev.Round = round
	m.emitter.Emit(ctx, ev)

	reply, err := speaker.Generate(ctx, res.Messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e := errors.As(err); e != nil {
			return "", e.WithContext("round", round)
		}
		return "", errors.New(errors.CodeInternal, "agent reply failed", err).
			WithContext("agent", speaker.Name()).
			WithContext("round", round)
	}
	res.Usage = res.Usage.Add(reply.Usage)
	if err := m.append(ctx, res, speaker.Name(), memory.RoleAssistant, reply.Content, reply.Metadata); err != nil {
		return "", err
	}
	return speaker.Name(), nil
}

func (m *Manager) append(ctx context.Context, res *Result, name, role, content string, meta map[string]string) error {
	msg := agent.Message{
		ID:        uuid.NewString(),
		SessionID: res.RunID,
		Name:      name,
		Role:      role,
		Content:   content,
		Round:     len(res.Messages) + 1,
		Metadata:  meta,
		CreatedAt: m.now().UTC(),
	}
	if m.store != nil {
		if err := m.store.AppendMessage(ctx, res.RunID, msg); err != nil {
			return errors.New(errors.CodeMemoryError, "persist transcript message", err).
				WithContext("run_id", res.RunID).
				WithContext("round", msg.Round)
		}
	}
	res.Messages = append(res.Messages, msg)
	m.metrics.RecordMessage(ctx, name)

	m.logger.InfoContext(ctx, "groupchat.message",
		slog.String("run_id", res.RunID),
		slog.Int("round", msg.Round),
		slog.String("agent", name),
		slog.Int("chars", len(content)),
	)
	payload := map[string]any{"role": role, "content": content}
	for k, v := range meta {
		payload[k] = v
	}
	ev := core.NewEvent(core.EventMessage, name, res.RunID, payload)
	ev.Round = msg.Round
	m.emitter.Emit(ctx, ev)
	return nil
}

func (m *Manager) cancelled(res *Result, cause error) error {
	res.Termination = TerminationCancelled
	return errors.New(errors.CodeTimeout, "conversation cancelled", cause).
		WithContext("run_id", res.RunID).
		WithContext("rounds", len(res.Messages))
}
