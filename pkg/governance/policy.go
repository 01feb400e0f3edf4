// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides whether a code block proposed in the
// conversation may run.
package governance

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/config"
)

// ActionType describes the type of action to evaluate.
type ActionType string

const (
	ActionCommand ActionType = "command"
)

// Action describes a decision target for policy evaluation.
type Action struct {
	Type ActionType
	// Name is the block language (sh, bash, python).
	Name string
	// Command is the block body that would be executed.
	Command  string
	Agent    string
	Metadata map[string]string
}

// Decision captures the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	RuleID  string
	Status  DecisionStatus
}

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// ApprovalHook can request a human decision for a policy action.
type ApprovalHook interface {
	Request(ctx context.Context, action Action) Decision
}

// Rule defines a single policy rule.
type Rule struct {
	ID     string
	Effect string // allow, deny, or pending
	Type   ActionType
	// Pattern is a glob over the command text; "*" spans lines.
	Pattern string
	Reason  string

	re *regexp.Regexp
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionStatusAllow   DecisionStatus = "allow"
	DecisionStatusDeny    DecisionStatus = "deny"
	DecisionStatusPending DecisionStatus = "pending"
)

// RuleSet evaluates rules in order.
type RuleSet struct {
	Rules           []Rule
	DefaultDecision Decision
}

// NewRuleSet creates a rule set with a default allow decision.
func NewRuleSet(rules []Rule) *RuleSet {
	compiled := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		rule.re = compileGlob(rule.Pattern)
		compiled = append(compiled, rule)
	}
	return &RuleSet{
		Rules:           compiled,
		DefaultDecision: Decision{Allowed: true, Status: DecisionStatusAllow},
	}
}

// Evaluate checks rules in order and returns the first match.
func (r *RuleSet) Evaluate(_ context.Context, action Action) Decision {
	for _, rule := range r.Rules {
		if rule.Type != "" && rule.Type != action.Type {
			continue
		}
		if rule.Pattern != "" && !rule.matches(action.Command) {
			continue
		}
		decision := Decision{Reason: rule.Reason, RuleID: rule.ID}
		switch strings.ToLower(rule.Effect) {
		case "deny":
			decision.Status = DecisionStatusDeny
		case "pending":
			decision.Status = DecisionStatusPending
		default:
			decision.Status = DecisionStatusAllow
		}
		decision.Allowed = decision.Status == DecisionStatusAllow
		return decision
	}
	return r.DefaultDecision
}

// IsAllowed returns true when the decision permits the action.
func (d Decision) IsAllowed() bool {
	if d.Status == "" {
		return d.Allowed
	}
	return d.Status == DecisionStatusAllow
}

// IsPending returns true when the decision requires approval.
func (d Decision) IsPending() bool {
	return d.Status == DecisionStatusPending
}

// IsDenied returns true when the decision forbids the action.
func (d Decision) IsDenied() bool {
	if d.Status == "" {
		return !d.Allowed
	}
	return d.Status == DecisionStatusDeny
}

func (r Rule) matches(command string) bool {
	if r.re == nil {
		r.re = compileGlob(r.Pattern)
	}
	return r.re.MatchString(command) || r.Pattern == command
}

// compileGlob turns a shell-style glob into an anchored regexp. Unlike
// path.Match, "*" also matches "/" and newlines.
func compileGlob(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.MustCompile(`(?s)^` + quoted + `$`)
}

// RuleSetFromConfig builds a rule set from executor.policies.
func RuleSetFromConfig(policies []config.PolicyConfig) *RuleSet {
	rules := make([]Rule, 0, len(policies))
	for i, p := range policies {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			id = "rule-" + strconv.Itoa(i)
		}
		rules = append(rules, Rule{
			ID:      id,
			Effect:  p.Effect,
			Type:    ActionCommand,
			Pattern: p.Pattern,
			Reason:  p.Reason,
		})
	}
	return NewRuleSet(rules)
}
