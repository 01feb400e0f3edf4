// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores group chat transcripts and trims the history an
// agent sees.
package memory

import (
	"context"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one entry of a group chat transcript.
type ConversationMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// Name is the agent that spoke.
	Name    string `json:"name"`
	Role    string `json:"role"`
	Content string `json:"content"`
	// Round is the 1-based position of the message in its conversation.
	Round     int               `json:"round"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SessionInfo summarizes a stored conversation.
type SessionInfo struct {
	ID       string    `json:"id"`
	Messages int       `json:"messages"`
	Started  time.Time `json:"started"`
	Updated  time.Time `json:"updated"`
	// Initiator is the speaker of the first message.
	Initiator string `json:"initiator,omitempty"`
}

// ConversationMemory stores ordered transcripts keyed by session (run) ID.
type ConversationMemory interface {
	// AppendMessage adds a message to the conversation.
	AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error

	// GetMessages returns every message of a session in append order.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)

	// GetRecentMessages returns the last limit messages of a session.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error

	// ListSessions returns stored sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	Close() error
}

// TruncationStrategy reduces the history handed to a model.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps the last MaxMessages messages. With KeepFirst the
// opening message (the task) always survives and counts toward the window.
type WindowStrategy struct {
	MaxMessages int
	KeepFirst   bool
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int, keepFirst bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepFirst: keepFirst}
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}
	if !w.KeepFirst || w.MaxMessages == 1 {
		return messages[len(messages)-w.MaxMessages:], nil
	}
	out := make([]ConversationMessage, 0, w.MaxMessages)
	out = append(out, messages[0])
	return append(out, messages[len(messages)-(w.MaxMessages-1):]...), nil
}

// TokenStrategy keeps the newest messages that fit within MaxTokens.
type TokenStrategy struct {
	MaxTokens int
	// TokenCounter estimates a message's tokens; nil uses EstimateTokens.
	TokenCounter func(msg ConversationMessage) int
	KeepFirst    bool
}

// NewTokenStrategy creates a token-budget truncation strategy.
func NewTokenStrategy(maxTokens int, keepFirst bool) *TokenStrategy {
	return &TokenStrategy{MaxTokens: maxTokens, KeepFirst: keepFirst}
}

// EstimateTokens approximates four characters per token.
func EstimateTokens(msg ConversationMessage) int {
	return (len(msg.Content) + len(msg.Name) + 3) / 4
}

// Truncate implements TruncationStrategy.
func (t *TokenStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if t.MaxTokens <= 0 || len(messages) == 0 {
		return messages, nil
	}
	counter := t.TokenCounter
	if counter == nil {
		counter = EstimateTokens
	}

	total := 0
	for _, msg := range messages {
		total += counter(msg)
	}
	if total <= t.MaxTokens {
		return messages, nil
	}

	budget := t.MaxTokens
	rest := messages
	var first []ConversationMessage
	if t.KeepFirst {
		first = messages[:1]
		rest = messages[1:]
		budget -= counter(messages[0])
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := counter(rest[i])
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}

	out := make([]ConversationMessage, 0, len(first)+len(rest)-start)
	out = append(out, first...)
	return append(out, rest[start:]...), nil
}

func tail(messages []ConversationMessage, limit int) []ConversationMessage {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}

func summarize(id string, messages []ConversationMessage) SessionInfo {
	info := SessionInfo{ID: id, Messages: len(messages)}
	if len(messages) > 0 {
		info.Started = messages[0].CreatedAt
		info.Updated = messages[len(messages)-1].CreatedAt
		info.Initiator = messages[0].Name
	}
	return info
}
