// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package groupchat runs a bounded multi-agent conversation: a manager picks
// the next speaker, appends its reply to the shared history and stops on
// TERMINATE, on the round bound or on cancellation.
package groupchat

import (
	"strings"

	"github.com/jllopis/kairos-ci/pkg/agent"
	"github.com/jllopis/kairos-ci/pkg/errors"
)

// TerminateKeyword ends the conversation when a message ends with it.
const TerminateKeyword = "TERMINATE"

// Speaker selection methods.
const (
	SelectAuto       = "auto"
	SelectRoundRobin = "round_robin"
	SelectRandom     = "random"
)

// GroupChat is the static part of a conversation: who takes part and under
// which rules.
type GroupChat struct {
	agents      []agent.Agent
	byName      map[string]int
	maxRound    int
	method      string
	allowRepeat bool
}

// Option configures a GroupChat.
type Option func(*GroupChat)

// WithMaxRound bounds the number of messages, the opening message included.
func WithMaxRound(n int) Option {
	return func(g *GroupChat) { g.maxRound = n }
}

// WithSpeakerSelection sets auto, round_robin or random.
func WithSpeakerSelection(method string) Option {
	return func(g *GroupChat) { g.method = strings.ToLower(strings.TrimSpace(method)) }
}

// WithAllowRepeatSpeaker controls whether an agent may speak twice in a row.
func WithAllowRepeatSpeaker(allow bool) Option {
	return func(g *GroupChat) { g.allowRepeat = allow }
}

// New validates the participants and options.
func New(agents []agent.Agent, opts ...Option) (*GroupChat, error) {
	g := &GroupChat{
		maxRound:    20,
		method:      SelectAuto,
		allowRepeat: true,
	}
	for _, opt := range opts {
		opt(g)
	}

	if len(agents) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "group chat needs at least one agent", nil)
	}
	if g.maxRound <= 0 {
		return nil, errors.New(errors.CodeInvalidInput, "max round must be a positive integer", nil).
			WithContext("max_round", g.maxRound)
	}
	switch g.method {
	case SelectAuto, SelectRoundRobin, SelectRandom:
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown speaker selection method "+g.method, nil)
	}

	g.byName = make(map[string]int, len(agents))
	for i, a := range agents {
		if a == nil {
			return nil, errors.New(errors.CodeInvalidInput, "group chat agent is nil", nil).WithContext("index", i)
		}
		name := a.Name()
		if strings.TrimSpace(name) == "" {
			return nil, errors.New(errors.CodeInvalidInput, "agent name is empty", nil).WithContext("index", i)
		}
		if _, dup := g.byName[name]; dup {
			return nil, errors.New(errors.CodeInvalidInput, "duplicate agent name "+name, nil)
		}
		g.byName[name] = i
	}
	g.agents = append([]agent.Agent(nil), agents...)
	return g, nil
}

// Agents returns the participants in order.
func (g *GroupChat) Agents() []agent.Agent {
	return append([]agent.Agent(nil), g.agents...)
}

// AgentNames returns the participant names in order.
func (g *GroupChat) AgentNames() []string {
	names := make([]string, len(g.agents))
	for i, a := range g.agents {
		names[i] = a.Name()
	}
	return names
}

// Agent looks up a participant by name.
func (g *GroupChat) Agent(name string) (agent.Agent, bool) {
	i, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.agents[i], true
}

// MaxRound returns the message bound.
func (g *GroupChat) MaxRound() int { return g.maxRound }

// SpeakerSelection returns the selection method.
func (g *GroupChat) SpeakerSelection() string { return g.method }

// AllowRepeatSpeaker reports whether an agent may speak twice in a row.
func (g *GroupChat) AllowRepeatSpeaker() bool { return g.allowRepeat }

// NextAgent returns the participant after name, wrapping around. Unknown
// names start from the first agent.
func (g *GroupChat) NextAgent(name string) agent.Agent {
	i, ok := g.byName[name]
	if !ok {
		return g.agents[0]
	}
	return g.agents[(i+1)%len(g.agents)]
}

// candidates returns the agents allowed to speak after last.
func (g *GroupChat) candidates(last string) []agent.Agent {
	if g.allowRepeat || len(g.agents) == 1 {
		return g.Agents()
	}
	out := make([]agent.Agent, 0, len(g.agents)-1)
	for _, a := range g.agents {
		if a.Name() != last {
			out = append(out, a)
		}
	}
	return out
}

// IsTerminationMessage reports whether content ends with TERMINATE.
func IsTerminationMessage(msg agent.Message) bool {
	return strings.HasSuffix(strings.TrimSpace(msg.Content), TerminateKeyword)
}
