// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package groupchat

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jllopis/kairos-ci/pkg/agent"
	"github.com/jllopis/kairos-ci/pkg/llm"
)

// SelectionPreamble opens the system message of every selection prompt.
const SelectionPreamble = "You are in a role play game."

// Selection records how a speaker was chosen.
type Selection struct {
	Method   string
	Fallback bool
	// Reason explains a fallback.
	Reason string
	Usage  llm.Usage
}

// SpeakerSelector picks the next speaker after last.
type SpeakerSelector interface {
	Select(ctx context.Context, gc *GroupChat, last string, history []agent.Message) (agent.Agent, Selection, error)
}

// RoundRobinSelector cycles through the agents in order.
type RoundRobinSelector struct{}

// Select implements SpeakerSelector.
func (RoundRobinSelector) Select(_ context.Context, gc *GroupChat, last string, _ []agent.Message) (agent.Agent, Selection, error) {
	return gc.NextAgent(last), Selection{Method: SelectRoundRobin}, nil
}

// RandomSelector picks uniformly among the eligible agents.
type RandomSelector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomSelector creates a random selector; seed 0 uses a time seed.
func NewRandomSelector(seed int64) *RandomSelector {
	if seed == 0 {
		return &RandomSelector{rnd: rand.New(rand.NewSource(rand.Int63()))}
	}
	return &RandomSelector{rnd: rand.New(rand.NewSource(seed))}
}

// Select implements SpeakerSelector.
func (r *RandomSelector) Select(_ context.Context, gc *GroupChat, last string, _ []agent.Message) (agent.Agent, Selection, error) {
	candidates := gc.candidates(last)
	r.mu.Lock()
	i := r.rnd.Intn(len(candidates))
	r.mu.Unlock()
	return candidates[i], Selection{Method: SelectRandom}, nil
}

// LLMSelector asks a model which role should speak next. Answers that do not
// name exactly one eligible agent, and model errors, fall back to round robin.
type LLMSelector struct {
	Provider    llm.Provider
	Model       string
	Temperature float64
}

// Select implements SpeakerSelector.
func (s *LLMSelector) Select(ctx context.Context, gc *GroupChat, last string, history []agent.Message) (agent.Agent, Selection, error) {
	candidates := gc.candidates(last)
	if len(candidates) == 1 {
		return candidates[0], Selection{Method: SelectAuto}, nil
	}

	resp, err := s.Provider.Chat(ctx, llm.ChatRequest{
		Model:       s.Model,
		Messages:    selectionPrompt(candidates, history),
		Temperature: s.Temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, Selection{}, ctx.Err()
		}
		return s.fallback(gc, last, fmt.Sprintf("selector error: %v", err), llm.Usage{})
	}

	mentioned := mentionedAgents(resp.Content, candidates)
	if len(mentioned) != 1 {
		return s.fallback(gc, last, fmt.Sprintf("selector named %d eligible agents in %q", len(mentioned), truncate(resp.Content, 80)), resp.Usage)
	}
	return mentioned[0], Selection{Method: SelectAuto, Usage: resp.Usage}, nil
}

func (s *LLMSelector) fallback(gc *GroupChat, last, reason string, usage llm.Usage) (agent.Agent, Selection, error) {
	next := gc.NextAgent(last)
	if !gc.allowRepeat && next.Name() == last {
		next = gc.NextAgent(next.Name())
	}
	return next, Selection{Method: SelectAuto, Fallback: true, Reason: reason, Usage: usage}, nil
}

func selectionPrompt(candidates []agent.Agent, history []agent.Message) []llm.Message {
	names := make([]string, len(candidates))
	var roles strings.Builder
	for i, a := range candidates {
		names[i] = a.Name()
		fmt.Fprintf(&roles, "%s: %s\n", a.Name(), oneLine(a.Description()))
	}
	list := "[" + strings.Join(names, ", ") + "]"

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{
		Role: llm.RoleSystem,
		Content: SelectionPreamble + " The following roles are available:\n" + roles.String() +
			"\nRead the following conversation.\nThen select the next role from " + list + " to play. Only return the role.",
	})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Name: m.Name, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: "Read the above conversation. Then select the next role from " + list + " to play. Only return the role.",
	})
	return msgs
}

// mentionedAgents returns the candidates named in text. An exact answer wins
// outright; otherwise every whole-word mention counts.
func mentionedAgents(text string, candidates []agent.Agent) []agent.Agent {
	answer := strings.Trim(strings.TrimSpace(text), "`'\".")
	for _, a := range candidates {
		if answer == a.Name() {
			return []agent.Agent{a}
		}
	}
	var out []agent.Agent
	for _, a := range candidates {
		re := regexp.MustCompile(`(^|[^\w])` + regexp.QuoteMeta(a.Name()) + `([^\w]|$)`)
		if re.MatchString(text) {
			out = append(out, a)
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	s = oneLine(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
