// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation keeps transcripts in process memory. Data is lost
// when the process exits.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]ConversationMessage
}

// NewInMemoryConversation creates a new in-memory conversation store.
func NewInMemoryConversation() *InMemoryConversation {
	return &InMemoryConversation{sessions: make(map[string][]ConversationMessage)}
}

// AppendMessage implements ConversationMemory.
func (m *InMemoryConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = append(m.sessions[sessionID], normalize(sessionID, msg))
	return nil
}

// GetMessages implements ConversationMemory.
func (m *InMemoryConversation) GetMessages(_ context.Context, sessionID string) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConversationMessage(nil), m.sessions[sessionID]...), nil
}

// GetRecentMessages implements ConversationMemory.
func (m *InMemoryConversation) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]ConversationMessage(nil), tail(m.sessions[sessionID], limit)...), nil
}

// Clear implements ConversationMemory.
func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// ListSessions implements ConversationMemory.
func (m *InMemoryConversation) ListSessions(_ context.Context) ([]SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(m.sessions))
	for id, messages := range m.sessions {
		out = append(out, summarize(id, messages))
	}
	sortSessions(out)
	return out, nil
}

// Close implements ConversationMemory.
func (m *InMemoryConversation) Close() error { return nil }

func normalize(sessionID string, msg ConversationMessage) ConversationMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return msg
}

func sortSessions(sessions []SessionInfo) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Updated.Equal(sessions[j].Updated) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Updated.After(sessions[j].Updated)
	})
}

var _ ConversationMemory = (*InMemoryConversation)(nil)
