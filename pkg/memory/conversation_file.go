// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// FileConversation stores each session as a JSON file in a directory.
type FileConversation struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileConversation creates a file-backed store rooted at baseDir.
func NewFileConversation(baseDir string) (*FileConversation, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "create transcript directory", err).
			WithContext("path", baseDir)
	}
	return &FileConversation{baseDir: baseDir}, nil
}

func (f *FileConversation) sessionFile(sessionID string) string {
	// Base strips any path components from the session ID.
	return filepath.Join(f.baseDir, filepath.Base(sessionID)+".json")
}

// AppendMessage implements ConversationMemory.
func (f *FileConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	messages, err := f.load(sessionID)
	if err != nil {
		return err
	}
	return f.save(sessionID, append(messages, normalize(sessionID, msg)))
}

// GetMessages implements ConversationMemory.
func (f *FileConversation) GetMessages(_ context.Context, sessionID string) ([]ConversationMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.load(sessionID)
}

// GetRecentMessages implements ConversationMemory.
func (f *FileConversation) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	messages, err := f.load(sessionID)
	if err != nil {
		return nil, err
	}
	return tail(messages, limit), nil
}

// Clear implements ConversationMemory.
func (f *FileConversation) Clear(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.sessionFile(sessionID)); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.CodeMemoryError, "remove transcript", err).WithContext("session", sessionID)
	}
	return nil
}

// ListSessions implements ConversationMemory.
func (f *FileConversation) ListSessions(_ context.Context) ([]SessionInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "read transcript directory", err)
	}
	var out []SessionInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		messages, err := f.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(id, messages))
	}
	sortSessions(out)
	return out, nil
}

// Close implements ConversationMemory.
func (f *FileConversation) Close() error { return nil }

// load returns nil, nil for unknown sessions.
func (f *FileConversation) load(sessionID string) ([]ConversationMessage, error) {
	data, err := os.ReadFile(f.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.CodeMemoryError, "read transcript", err).WithContext("session", sessionID)
	}
	var messages []ConversationMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "parse transcript", err).WithContext("session", sessionID)
	}
	return messages, nil
}

func (f *FileConversation) save(sessionID string, messages []ConversationMessage) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return errors.New(errors.CodeMemoryError, "encode transcript", err)
	}
	path := f.sessionFile(sessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.CodeMemoryError, "write transcript", err).WithContext("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.New(errors.CodeMemoryError, "replace transcript", err).WithContext("path", path)
	}
	return nil
}

var _ ConversationMemory = (*FileConversation)(nil)
