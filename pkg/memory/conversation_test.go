// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/errors"
)

func msg(name, content string, round int) ConversationMessage {
	return ConversationMessage{Name: name, Role: RoleAssistant, Content: content, Round: round}
}

func stores(t *testing.T) map[string]ConversationMemory {
	t.Helper()
	dir := t.TempDir()
	file, err := NewFileConversation(filepath.Join(dir, "files"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteConversation(filepath.Join(dir, "db", "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]ConversationMemory{
		"memory": NewInMemoryConversation(),
		"file":   file,
		"sqlite": sqlite,
	}
}

func TestConversationStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			opening := msg("dev_executor", "Please review the repo", 1)
			opening.Role = RoleUser
			opening.CreatedAt = base
			opening.Metadata = map[string]string{"kind": "task"}
			require.NoError(t, store.AppendMessage(ctx, "run-a", opening))
			for i, speaker := range []string{"code_reviewer", "dev_executor", "documentor"} {
				m := msg(speaker, strings.Repeat("x", i+1), i+2)
				m.CreatedAt = base.Add(time.Duration(i+1) * time.Second)
				require.NoError(t, store.AppendMessage(ctx, "run-a", m))
			}
			later := msg("dev_executor", "other run", 1)
			later.CreatedAt = base.Add(time.Hour)
			require.NoError(t, store.AppendMessage(ctx, "run-b", later))

			all, err := store.GetMessages(ctx, "run-a")
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "dev_executor", all[0].Name)
			assert.Equal(t, RoleUser, all[0].Role)
			assert.Equal(t, "task", all[0].Metadata["kind"])
			assert.Equal(t, "run-a", all[0].SessionID)
			assert.NotEmpty(t, all[0].ID)
			assert.True(t, base.Equal(all[0].CreatedAt))
			assert.Equal(t, 4, all[3].Round)

			recent, err := store.GetRecentMessages(ctx, "run-a", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "dev_executor", recent[0].Name)
			assert.Equal(t, "documentor", recent[1].Name)

			sessions, err := store.ListSessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "run-b", sessions[0].ID)
			assert.Equal(t, "run-a", sessions[1].ID)
			assert.Equal(t, 4, sessions[1].Messages)
			assert.Equal(t, "dev_executor", sessions[1].Initiator)
			assert.True(t, base.Equal(sessions[1].Started))

			require.NoError(t, store.Clear(ctx, "run-a"))
			empty, err := store.GetMessages(ctx, "run-a")
			require.NoError(t, err)
			assert.Empty(t, empty)

			unknown, err := store.GetRecentMessages(ctx, "missing", 5)
			require.NoError(t, err)
			assert.Empty(t, unknown)
		})
	}
}

func TestHistoryStrategy(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, HistoryStrategy(config.TranscriptConfig{}))
	assert.IsType(t, &WindowStrategy{}, HistoryStrategy(config.TranscriptConfig{Window: 3}))
	assert.IsType(t, &TokenStrategy{}, HistoryStrategy(config.TranscriptConfig{MaxTokens: 100}))

	var history []ConversationMessage
	for i := 1; i <= 5; i++ {
		// (8 + 1 + 3) / 4 = 3 estimated tokens each.
		history = append(history, msg("a", "12345678", i))
	}

	got, err := HistoryStrategy(config.TranscriptConfig{Window: 4}).Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4, 5}, rounds(got))

	got, err = HistoryStrategy(config.TranscriptConfig{Window: 4, MaxTokens: 7}).Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, rounds(got))
}

func TestStoresKeepFullTranscript(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryConversation()
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, "s", msg("a", "m", i)))
	}
	got, err := store.GetMessages(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rounds(got))
}

func rounds(messages []ConversationMessage) []int {
	out := make([]int, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Round)
	}
	return out
}

func TestWindowStrategy(t *testing.T) {
	ctx := context.Background()
	history := []ConversationMessage{msg("a", "1", 1), msg("b", "2", 2), msg("c", "3", 3), msg("d", "4", 4)}

	got, err := NewWindowStrategy(2, false).Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, rounds(got))

	got, err = NewWindowStrategy(3, true).Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, rounds(got))

	got, err = NewWindowStrategy(0, true).Truncate(ctx, history)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestTokenStrategy(t *testing.T) {
	ctx := context.Background()
	counter := func(m ConversationMessage) int { return len(m.Content) }
	history := []ConversationMessage{
		msg("dev_executor", "tttt", 1),
		msg("code_reviewer", "aaaaa", 2),
		msg("dev_executor", "bbb", 3),
		msg("documentor", "cc", 4),
	}

	s := &TokenStrategy{MaxTokens: 9, TokenCounter: counter, KeepFirst: true}
	got, err := s.Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, rounds(got))

	s = &TokenStrategy{MaxTokens: 5, TokenCounter: counter}
	got, err = s.Truncate(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, rounds(got))

	s = &TokenStrategy{MaxTokens: 100, TokenCounter: counter}
	got, err = s.Truncate(ctx, history)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	assert.Equal(t, 2, EstimateTokens(ConversationMessage{Content: "abcd", Name: "ab"}))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"memory", "file", "sqlite"} {
		store, err := Open(config.TranscriptConfig{Backend: backend, Path: filepath.Join(dir, backend)})
		require.NoError(t, err, backend)
		require.NoError(t, store.Close())
	}
	_, err := Open(config.TranscriptConfig{Backend: "redis"})
	assert.True(t, errors.HasCode(err, errors.CodeConfig))
}
