// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// StaticApprovalHook returns a fixed decision for every request.
type StaticApprovalHook struct {
	Decision Decision
}

// Request returns the configured decision.
func (h StaticApprovalHook) Request(_ context.Context, _ Action) Decision {
	return normalizeApprovalDecision(h.Decision, "approval decision not set")
}

const consolePrompt = "Run it? [y/N]: "

// ConsoleApprovalHook asks the operator before a code block runs. A single
// goroutine reads the input for the lifetime of the hook and prompts are
// serialized, so one hook can be shared by every request of a run.
type ConsoleApprovalHook struct {
	in       io.Reader
	out      io.Writer
	timeout  time.Duration
	fallback Decision

	start sync.Once
	lines chan string // closed when the input ends

	mu      sync.Mutex
	expired bool // the last prompt ended without an answer
}

// ConsoleApprovalOption configures the console approval hook.
type ConsoleApprovalOption func(*ConsoleApprovalHook)

// NewConsoleApprovalHook creates a hook reading answers from stdin.
func NewConsoleApprovalHook(opts ...ConsoleApprovalOption) *ConsoleApprovalHook {
	h := &ConsoleApprovalHook{
		in:    os.Stdin,
		out:   os.Stdout,
		lines: make(chan string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithApprovalInput sets where answers are read from.
func WithApprovalInput(r io.Reader) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if r != nil {
			h.in = r
		}
	}
}

// WithApprovalOutput sets where prompts are written.
func WithApprovalOutput(w io.Writer) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if w != nil {
			h.out = w
		}
	}
}

// WithApprovalTimeout bounds the wait for each answer. Zero waits until the
// request context ends.
func WithApprovalTimeout(timeout time.Duration) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithApprovalDefault sets the decision returned when no answer arrives.
func WithApprovalDefault(decision Decision) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		h.fallback = decision
	}
}

// Request shows the block and waits for a y/N answer.
func (h *ConsoleApprovalHook) Request(ctx context.Context, action Action) Decision {
	if h == nil || h.in == nil {
		return normalizeApprovalDecision(Decision{}, "approval input not available")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.start.Do(func() { go h.readLines() })
	if h.expired {
		h.discardPending()
		h.expired = false
	}
	h.render(action)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		h.expired = true
		_, _ = fmt.Fprintln(h.out)
		return normalizeApprovalDecision(h.fallback, "no answer before the approval deadline")
	case line, ok := <-h.lines:
		if !ok {
			return normalizeApprovalDecision(h.fallback, "approval input closed")
		}
		return parseAnswer(line)
	}
}

func (h *ConsoleApprovalHook) readLines() {
	defer close(h.lines)
	scanner := bufio.NewScanner(h.in)
	for scanner.Scan() {
		h.lines <- scanner.Text()
	}
}

// discardPending drops answers typed for a prompt that already expired.
func (h *ConsoleApprovalHook) discardPending() {
	for {
		select {
		case _, ok := <-h.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (h *ConsoleApprovalHook) render(action Action) {
	who := action.Agent
	if who == "" {
		who = "An agent"
	}
	lang := action.Name
	if lang == "" {
		lang = "shell"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s wants to run a %s block:\n", who, lang)
	for _, line := range strings.Split(strings.TrimRight(action.Command, "\n"), "\n") {
		b.WriteString("    " + line + "\n")
	}
	if rule := strings.TrimSpace(action.Metadata["policy_rule_id"]); rule != "" {
		fmt.Fprintf(&b, "Rule: %s\n", rule)
	}
	reason := strings.TrimSpace(action.Metadata["policy_reason"])
	if reason == "" {
		reason = "approval required"
	}
	fmt.Fprintf(&b, "Reason: %s\n%s", reason, consolePrompt)
	_, _ = io.WriteString(h.out, b.String())
}

func parseAnswer(line string) Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Decision{Allowed: true, Status: DecisionStatusAllow, Reason: "approved by operator"}
	}
	return Decision{Status: DecisionStatusDeny, Reason: "rejected by operator"}
}

func normalizeApprovalDecision(decision Decision, fallbackReason string) Decision {
	if decision.Status == "" && decision.Reason == "" && !decision.Allowed {
		return Decision{Allowed: false, Status: DecisionStatusDeny, Reason: fallbackReason}
	}
	if decision.Status == "" {
		if decision.Allowed {
			decision.Status = DecisionStatusAllow
		} else {
			decision.Status = DecisionStatusDeny
		}
	}
	return decision
}
