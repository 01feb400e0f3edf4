// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the participants of a group chat: LLM-backed
// assistants and the code executor.
package agent

import (
	"context"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
)

// Message is one entry of the shared conversation.
type Message = memory.ConversationMessage

// Reply is what an agent contributes to the conversation.
type Reply struct {
	Content  string
	Usage    llm.Usage
	Metadata map[string]string
}

// Agent is a named participant of a group chat.
type Agent interface {
	Name() string
	// Description is what the speaker selector is told about the agent.
	Description() string
	SystemMessage() string
	// Generate produces the agent's next message given the full history.
	Generate(ctx context.Context, history []Message) (Reply, error)
}

type profile struct {
	name          string
	description   string
	systemMessage string
}

// Name returns the agent name.
func (p *profile) Name() string { return p.name }

// Description returns the agent description, falling back to the system message.
func (p *profile) Description() string {
	if p.description != "" {
		return p.description
	}
	return p.systemMessage
}

// SystemMessage returns the agent system message.
func (p *profile) SystemMessage() string { return p.systemMessage }

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New(errors.CodeInvalidInput, "agent name is required", nil)
	}
	if strings.ContainsAny(name, " \t\n") {
		return errors.New(errors.CodeInvalidInput, "agent name must not contain whitespace", nil).
			WithContext("name", name)
	}
	return nil
}

// WrapLLMError wraps a provider failure with the agent and model. Typed
// errors keep their code.
func WrapLLMError(err error, agentName, model string) error {
	if err == nil {
		return nil
	}
	if e := errors.As(err); e != nil {
		return e.WithContext("agent", agentName)
	}
	return errors.New(errors.CodeLLMError, "LLM call failed", err).
		WithContext("agent", agentName).
		WithContext("model", model).
		WithRecoverable(true)
}
