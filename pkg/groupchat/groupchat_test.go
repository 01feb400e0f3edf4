// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package groupchat

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/kairos-ci/pkg/agent"
	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
)

// scriptedAgent replies with a fixed sequence and records the history it saw.
type scriptedAgent struct {
	name    string
	replies []string
	err     error
	seen    [][]agent.Message
}

func (a *scriptedAgent) Name() string          { return a.name }
func (a *scriptedAgent) Description() string   { return "The " + a.name + " role." }
func (a *scriptedAgent) SystemMessage() string { return "" }

func (a *scriptedAgent) Generate(_ context.Context, history []agent.Message) (agent.Reply, error) {
	a.seen = append(a.seen, append([]agent.Message(nil), history...))
	if a.err != nil {
		return agent.Reply{}, a.err
	}
	if len(a.replies) == 0 {
		return agent.Reply{Content: a.name + " has nothing to add"}, nil
	}
	r := a.replies[0]
	a.replies = a.replies[1:]
	return agent.Reply{Content: r, Usage: llm.Usage{TotalTokens: 5}}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func speakers(msgs []agent.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Name
	}
	return out
}

func TestNewValidation(t *testing.T) {
	a := &scriptedAgent{name: "a"}

	_, err := New(nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = New([]agent.Agent{a, &scriptedAgent{name: "a"}})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = New([]agent.Agent{&scriptedAgent{name: " "}})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = New([]agent.Agent{a}, WithMaxRound(0))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = New([]agent.Agent{a}, WithSpeakerSelection("manual"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	gc, err := New([]agent.Agent{a}, WithSpeakerSelection(" Round_Robin "))
	require.NoError(t, err)
	assert.Equal(t, SelectRoundRobin, gc.SpeakerSelection())
	assert.Equal(t, 20, gc.MaxRound())
}

func TestNewManagerAutoNeedsProvider(t *testing.T) {
	gc, err := New([]agent.Agent{&scriptedAgent{name: "a"}})
	require.NoError(t, err)
	_, err = NewManager(gc)
	assert.True(t, errors.HasCode(err, errors.CodeConfig))
}

func TestIsTerminationMessage(t *testing.T) {
	assert.True(t, IsTerminationMessage(agent.Message{Content: "All good.\nTERMINATE"}))
	assert.True(t, IsTerminationMessage(agent.Message{Content: "TERMINATE  \n"}))
	assert.False(t, IsTerminationMessage(agent.Message{Content: "TERMINATE once done"}))
	assert.False(t, IsTerminationMessage(agent.Message{Content: ""}))
}

func TestRunRoundRobinUntilMaxRound(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	rev := &scriptedAgent{name: "code_reviewer"}
	doc := &scriptedAgent{name: "documentor"}
	gc, err := New([]agent.Agent{dev, rev, doc},
		WithMaxRound(5), WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)

	store := memory.NewInMemoryConversation()
	em := &recordingEmitter{}
	m, err := NewManager(gc, WithMemory(store), WithEventEmitter(em))
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Review the repository")
	require.NoError(t, err)

	assert.Equal(t, TerminationMaxRounds, res.Termination)
	assert.Equal(t, 5, res.Rounds)
	assert.Equal(t,
		[]string{"dev_executor", "code_reviewer", "documentor", "dev_executor", "code_reviewer"},
		speakers(res.Messages))
	assert.Equal(t, memory.RoleUser, res.Messages[0].Role)
	assert.Equal(t, memory.RoleAssistant, res.Messages[1].Role)
	for i, msg := range res.Messages {
		assert.Equal(t, i+1, msg.Round)
		assert.Equal(t, res.RunID, msg.SessionID)
	}

	// Each speaker sees the whole history so far.
	require.Len(t, rev.seen, 2)
	assert.Len(t, rev.seen[0], 1)
	assert.Len(t, rev.seen[1], 4)

	stored, err := store.GetMessages(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, speakers(res.Messages), speakers(stored))

	types := em.types()
	assert.Equal(t, core.EventRunStarted, types[0])
	assert.Equal(t, core.EventRunCompleted, types[len(types)-1])
	assert.Contains(t, types, core.EventSpeakerSelected)
}

func TestRunStopsOnTerminate(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	rev := &scriptedAgent{name: "code_reviewer", replies: []string{"The code is fine.\nTERMINATE"}}
	gc, err := New([]agent.Agent{dev, rev},
		WithMaxRound(20), WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Review")
	require.NoError(t, err)
	assert.Equal(t, TerminationKeyword, res.Termination)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, "The code is fine.", res.Summary)
	assert.Equal(t, 5, res.Usage.TotalTokens)
}

func TestRunOpeningMessageCanTerminate(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	gc, err := New([]agent.Agent{dev}, WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Nothing to do. TERMINATE")
	require.NoError(t, err)
	assert.Equal(t, TerminationKeyword, res.Termination)
	assert.Equal(t, 1, res.Rounds)
	assert.Empty(t, dev.seen)
}

func TestRunMaxRoundOneOnlyOpens(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	gc, err := New([]agent.Agent{dev}, WithMaxRound(1), WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Review")
	require.NoError(t, err)
	assert.Equal(t, TerminationMaxRounds, res.Termination)
	assert.Equal(t, 1, res.Rounds)
}

func TestRunRejectsUnknownInitiator(t *testing.T) {
	gc, err := New([]agent.Agent{&scriptedAgent{name: "a"}}, WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), "ghost", "hello")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	_, err = m.Run(context.Background(), "a", "   ")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestRunPropagatesAgentError(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	rev := &scriptedAgent{name: "code_reviewer",
		err: errors.New(errors.CodeLLMError, "provider down", nil)}
	gc, err := New([]agent.Agent{dev, rev}, WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	em := &recordingEmitter{}
	m, err := NewManager(gc, WithEventEmitter(em))
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Review")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
	require.NotNil(t, res)
	assert.Equal(t, TerminationError, res.Termination)
	assert.Equal(t, 1, res.Rounds)
	assert.Contains(t, em.types(), core.EventError)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dev := &scriptedAgent{name: "dev_executor"}
	gc, err := New([]agent.Agent{dev, &cancellingAgent{name: "code_reviewer", cancel: cancel}},
		WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	res, err := m.Run(ctx, "dev_executor", "Review")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeTimeout))
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Equal(t, TerminationCancelled, res.Termination)
	assert.Equal(t, 2, res.Rounds)
}

// cancellingAgent replies once and cancels the run.
type cancellingAgent struct {
	name   string
	cancel context.CancelFunc
}

func (a *cancellingAgent) Name() string          { return a.name }
func (a *cancellingAgent) Description() string   { return "" }
func (a *cancellingAgent) SystemMessage() string { return "" }
func (a *cancellingAgent) Generate(context.Context, []agent.Message) (agent.Reply, error) {
	a.cancel()
	return agent.Reply{Content: "stopping"}, nil
}

func TestRunUsesRunIDFromContext(t *testing.T) {
	gc, err := New([]agent.Agent{&scriptedAgent{name: "a"}}, WithMaxRound(2), WithSpeakerSelection(SelectRoundRobin))
	require.NoError(t, err)
	m, err := NewManager(gc)
	require.NoError(t, err)

	res, err := m.Run(core.WithRunID(context.Background(), "run-fixed"), "a", "go")
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", res.RunID)
	assert.Equal(t, []string{"a", "a"}, speakers(res.Messages))
}

func TestAutoSelectionPicksNamedAgent(t *testing.T) {
	dev := &scriptedAgent{name: "dev_executor"}
	rev := &scriptedAgent{name: "code_reviewer"}
	doc := &scriptedAgent{name: "documentor", replies: []string{"Docs written.\nTERMINATE"}}
	gc, err := New([]agent.Agent{dev, rev, doc})
	require.NoError(t, err)

	selector := llm.NewScriptedMockProvider("documentor")
	m, err := NewManager(gc, WithSelectorProvider(selector, "gpt-4o-mini"))
	require.NoError(t, err)

	res, err := m.Run(context.Background(), "dev_executor", "Document the repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"dev_executor", "documentor"}, speakers(res.Messages))
	assert.Equal(t, 5+20, res.Usage.TotalTokens)

	reqs := selector.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o-mini", reqs[0].Model)
	system := reqs[0].Messages[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "documentor: The documentor role.")
	assert.Contains(t, system.Content, "[dev_executor, code_reviewer, documentor]")
	assert.Equal(t, "dev_executor", reqs[0].Messages[1].Name)
	assert.Contains(t, reqs[0].Messages[len(reqs[0].Messages)-1].Content, "Only return the role.")
}

func TestAutoSelectionFallsBackToRoundRobin(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
	}{
		{"unparseable", llm.NewScriptedMockProvider("I think someone should speak")},
		{"ambiguous", llm.NewScriptedMockProvider("code_reviewer or documentor")},
		{"error", &llm.MockProvider{Err: stderrors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &scriptedAgent{name: "dev_executor"}
			rev := &scriptedAgent{name: "code_reviewer"}
			doc := &scriptedAgent{name: "documentor"}
			gc, err := New([]agent.Agent{dev, rev, doc}, WithMaxRound(2))
			require.NoError(t, err)
			em := &recordingEmitter{}
			m, err := NewManager(gc, WithSelectorProvider(tt.provider, "m"), WithEventEmitter(em))
			require.NoError(t, err)

			res, err := m.Run(context.Background(), "dev_executor", "Review")
			require.NoError(t, err)
			assert.Equal(t, "code_reviewer", res.Messages[1].Name)

			var fallback bool
			for _, ev := range em.events {
				if ev.Type == core.EventSpeakerSelected {
					fallback, _ = ev.Payload["fallback"].(bool)
				}
			}
			assert.True(t, fallback)
		})
	}
}

func TestMentionedAgentsWholeWord(t *testing.T) {
	agents := []agent.Agent{
		&scriptedAgent{name: "test_agent"},
		&scriptedAgent{name: "code_reviewer"},
	}
	got := mentionedAgents("Next: `code_reviewer`.", agents)
	require.Len(t, got, 1)
	assert.Equal(t, "code_reviewer", got[0].Name())

	assert.Empty(t, mentionedAgents("my_test_agent_v2", agents))
	assert.Len(t, mentionedAgents("test_agent then code_reviewer", agents), 2)
}

func TestRandomSelectorHonoursRepeatRule(t *testing.T) {
	a := &scriptedAgent{name: "a"}
	b := &scriptedAgent{name: "b"}
	gc, err := New([]agent.Agent{a, b}, WithSpeakerSelection(SelectRandom), WithAllowRepeatSpeaker(false))
	require.NoError(t, err)

	sel := NewRandomSelector(42)
	for i := 0; i < 20; i++ {
		next, s, err := sel.Select(context.Background(), gc, "a", nil)
		require.NoError(t, err)
		assert.Equal(t, "b", next.Name())
		assert.Equal(t, SelectRandom, s.Method)
	}
}

func TestNextAgentWraps(t *testing.T) {
	gc, err := New([]agent.Agent{&scriptedAgent{name: "a"}, &scriptedAgent{name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "b", gc.NextAgent("a").Name())
	assert.Equal(t, "a", gc.NextAgent("b").Name())
	assert.Equal(t, "a", gc.NextAgent("unknown").Name())
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "a b", truncate("a\nb", 80))

	got := truncate(strings.Repeat("é", 100), 80)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 80)+"...", got)
}
