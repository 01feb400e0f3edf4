// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/executor"
	"github.com/jllopis/kairos-ci/pkg/governance"
	"github.com/jllopis/kairos-ci/pkg/guardrails"
)

// DefaultAutoReply is sent when the last message has nothing to run.
const DefaultAutoReply = "No code blocks found in the last message. Reply with a fenced sh or python block to run it in the repository, or end your message with TERMINATE once the review is finished."

// Executor runs the code blocks of the previous message. It never calls an LLM.
type Executor struct {
	profile
	runner          executor.Executor
	policy          governance.PolicyEngine
	approval        governance.ApprovalHook
	requireApproval bool
	guard           *guardrails.Guardrails
	emitter         core.EventEmitter
	logger          *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor) error

// NewExecutor creates a code-executing agent backed by runner.
func NewExecutor(name string, runner executor.Executor, opts ...ExecutorOption) (*Executor, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, errors.New(errors.CodeConfig, "executor agent requires a code executor", nil).
			WithContext("agent", name)
	}
	e := &Executor{
		profile: profile{name: name, description: "Runs the shell and python code blocks proposed by the other agents inside the repository and reports the output."},
		runner:  runner,
		policy:  governance.NewRuleSet(nil),
		emitter: core.NoopEventEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// WithExecutorDescription overrides the description shown to the speaker selector.
func WithExecutorDescription(desc string) ExecutorOption {
	return func(e *Executor) error {
		if desc != "" {
			e.description = desc
		}
		return nil
	}
}

// WithExecutorSystemMessage records the role text of the executor. It is
// shown to the speaker selector when no description is set.
func WithExecutorSystemMessage(msg string) ExecutorOption {
	return func(e *Executor) error {
		e.systemMessage = msg
		return nil
	}
}

// WithPolicy sets the command policy engine.
func WithPolicy(p governance.PolicyEngine) ExecutorOption {
	return func(e *Executor) error {
		if p != nil {
			e.policy = p
		}
		return nil
	}
}

// WithApprovalHook sets the hook consulted for pending decisions.
func WithApprovalHook(h governance.ApprovalHook) ExecutorOption {
	return func(e *Executor) error {
		e.approval = h
		return nil
	}
}

// WithRequireApproval routes every block through the approval hook.
func WithRequireApproval(required bool) ExecutorOption {
	return func(e *Executor) error {
		e.requireApproval = required
		return nil
	}
}

// WithGuardrails filters command output before it is posted.
func WithGuardrails(g *guardrails.Guardrails) ExecutorOption {
	return func(e *Executor) error {
		e.guard = g
		return nil
	}
}

// WithEventEmitter reports executed commands.
func WithEventEmitter(em core.EventEmitter) ExecutorOption {
	return func(e *Executor) error {
		if em != nil {
			e.emitter = em
		}
		return nil
	}
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// Backend returns the name of the code executor in use.
func (e *Executor) Backend() string { return e.runner.Name() }

// Generate implements Agent.
func (e *Executor) Generate(ctx context.Context, history []Message) (Reply, error) {
	if len(history) == 0 || history[len(history)-1].Name == e.name {
		return Reply{Content: DefaultAutoReply}, nil
	}
	last := history[len(history)-1]
	blocks := executor.ExtractCodeBlocks(last.Content)
	if len(blocks) == 0 {
		return Reply{Content: DefaultAutoReply}, nil
	}

	runID, _ := core.RunID(ctx)
	if denied, ok := e.authorize(ctx, last.Name, blocks); !ok {
		e.logger.WarnContext(ctx, "agent.executor.blocked",
			slog.String("agent", e.name),
			slog.String("requested_by", last.Name),
			slog.String("run_id", runID),
			slog.String("rule", denied.RuleID),
			slog.String("reason", denied.Reason),
		)
		e.emit(ctx, runID, map[string]any{
			"requested_by": last.Name,
			"blocks":       len(blocks),
			"denied":       true,
			"rule":         denied.RuleID,
			"reason":       denied.Reason,
		})
		res := executor.Result{ExitCode: 1, Output: blockedMessage(denied)}
		return Reply{Content: res.Format(), Metadata: map[string]string{"exit_code": "1", "policy_denied": "true"}}, nil
	}

	res, err := e.runner.Execute(ctx, blocks)
	if err != nil {
		return Reply{}, err
	}

	filtered := e.guard.FilterOutput(ctx, res.Output)
	if filtered.Modified {
		e.logger.InfoContext(ctx, "agent.executor.output_redacted",
			slog.String("agent", e.name),
			slog.String("run_id", runID),
			slog.Int("redactions", len(filtered.Redactions)),
		)
		res.Output = filtered.Content
	}

	e.logger.InfoContext(ctx, "agent.executor.ran",
		slog.String("agent", e.name),
		slog.String("backend", e.runner.Name()),
		slog.String("run_id", runID),
		slog.Int("blocks", res.Blocks),
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)
	e.emit(ctx, runID, map[string]any{
		"requested_by": last.Name,
		"backend":      e.runner.Name(),
		"blocks":       res.Blocks,
		"languages":    languages(blocks[:res.Blocks]),
		"exit_code":    res.ExitCode,
		"duration_ms":  res.Duration.Milliseconds(),
		"redactions":   len(filtered.Redactions),
	})
	return Reply{
		Content:  res.Format(),
		Metadata: map[string]string{"exit_code": strconv.Itoa(res.ExitCode)},
	}, nil
}

// authorize checks every block before any of them runs. It returns the first
// refusing decision.
func (e *Executor) authorize(ctx context.Context, requester string, blocks []executor.CodeBlock) (governance.Decision, bool) {
	for _, block := range blocks {
		action := governance.Action{
			Type:    governance.ActionCommand,
			Name:    block.Language,
			Command: block.Code,
			Agent:   requester,
		}
		decision := e.policy.Evaluate(ctx, action)
		if decision.IsDenied() {
			return decision, false
		}
		if !decision.IsPending() && !e.requireApproval {
			continue
		}
		if e.approval == nil {
			return governance.Decision{
				Status: governance.DecisionStatusDeny,
				RuleID: decision.RuleID,
				Reason: "approval required but no approver is configured",
			}, false
		}
		action.Metadata = map[string]string{
			"policy_rule_id": decision.RuleID,
			"policy_reason":  decision.Reason,
		}
		approved := e.approval.Request(ctx, action)
		if !approved.IsAllowed() {
			if approved.RuleID == "" {
				approved.RuleID = decision.RuleID
			}
			return approved, false
		}
	}
	return governance.Decision{}, true
}

func (e *Executor) emit(ctx context.Context, runID string, payload map[string]any) {
	e.emitter.Emit(ctx, core.NewEvent(core.EventCommandExecuted, e.name, runID, payload))
}

func blockedMessage(d governance.Decision) string {
	reason := d.Reason
	if reason == "" {
		reason = "not allowed"
	}
	if d.RuleID != "" {
		return fmt.Sprintf("execution blocked by policy %s: %s", d.RuleID, reason)
	}
	return "execution blocked: " + reason
}

func languages(blocks []executor.CodeBlock) string {
	langs := make([]string, 0, len(blocks))
	for _, b := range blocks {
		langs = append(langs, b.Language)
	}
	return strings.Join(langs, ",")
}

var _ Agent = (*Executor)(nil)
