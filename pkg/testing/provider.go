// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/kairos-ci/pkg/groupchat"
	"github.com/jllopis/kairos-ci/pkg/llm"
)

// ScenarioProvider is a scripted llm.Provider for group chat tests. Each
// queued response may carry a Condition; a request consumes the first
// unconsumed response whose condition accepts it, so speaker selection and
// agent replies can be scripted independently.
type ScenarioProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	used         []bool
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content string
	Error   error
	Usage   llm.Usage
	// Condition restricts the response to matching requests.
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates an empty scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues an unconditional response.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddSelection queues the answer to the next speaker selection request.
func (p *ScenarioProvider) AddSelection(agentName string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: agentName, Condition: IsSpeakerSelection})
}

// AddReply queues the next reply of the assistant whose system message
// contains systemFragment.
func (p *ScenarioProvider) AddReply(systemFragment, content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{
		Content: content,
		Condition: func(req llm.ChatRequest) bool {
			return !IsSpeakerSelection(req) && SystemContains(systemFragment)(req)
		},
	})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	p.used = append(p.used, false)
	return p
}

// WithDefaultError sets the error returned when nothing matches.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc replaces the script with fn.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.onChat != nil {
		return p.onChat(req)
	}

	for i, resp := range p.responses {
		if p.used[i] || (resp.Condition != nil && !resp.Condition(req)) {
			continue
		}
		p.used[i] = true
		if resp.Error != nil {
			return nil, resp.Error
		}
		usage := resp.Usage
		if usage == (llm.Usage{}) {
			usage = llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
		}
		return &llm.ChatResponse{Content: resp.Content, Model: req.Model, Usage: usage}, nil
	}

	if p.defaultError != nil {
		return nil, p.defaultError
	}
	return nil, fmt.Errorf("no scripted response matches call %d", len(p.requests))
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Pending returns how many scripted responses were never consumed.
func (p *ScenarioProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, u := range p.used {
		if !u {
			n++
		}
	}
	return n
}

// IsSpeakerSelection matches the group chat manager's selection prompt.
func IsSpeakerSelection(req llm.ChatRequest) bool {
	return len(req.Messages) > 0 &&
		req.Messages[0].Role == llm.RoleSystem &&
		strings.HasPrefix(req.Messages[0].Content, groupchat.SelectionPreamble)
}

// SystemContains matches requests whose system message contains fragment.
func SystemContains(fragment string) func(llm.ChatRequest) bool {
	return func(req llm.ChatRequest) bool {
		for _, m := range req.Messages {
			if m.Role == llm.RoleSystem && strings.Contains(m.Content, fragment) {
				return true
			}
		}
		return false
	}
}
