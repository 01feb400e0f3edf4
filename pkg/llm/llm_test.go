// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Model:    "m",
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
	require.Len(t, mock.Requests(), 1)

	mock.Err = errors.New("down")
	_, err = mock.Chat(context.Background(), ChatRequest{})
	assert.EqualError(t, err, "down")
}

func TestScriptedMockProvider(t *testing.T) {
	p := NewScriptedMockProvider("first", "second")
	ctx := context.Background()

	r1, err := p.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	r2, err := p.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Content)
	assert.Equal(t, "second", r2.Content)

	_, err = p.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, ErrScriptExhausted)

	p.AddResponse("third")
	r3, err := p.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third", r3.Content)
	assert.Equal(t, 4, p.CallCount())
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}.Add(Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}, u)
}

func TestOllamaChat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "qwen2.5-coder",
			"message":           map[string]string{"role": "assistant", "content": "LGTM"},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        3,
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL+"/", 0)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:       "qwen2.5-coder",
		Temperature: 0.2,
		Messages: []Message{
			{Role: RoleSystem, Content: "review"},
			{Role: RoleUser, Name: "dev_executor", Content: "diff"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "LGTM", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "dev_executor: diff", got.Messages[1].Content)
	assert.Equal(t, 0.2, got.Options["temperature"])
}

func TestOllamaStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, 0).Chat(context.Background(), ChatRequest{Model: "missing"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Body, "model not found")
	assert.False(t, se.Temporary())
	assert.True(t, (&StatusError{StatusCode: 503}).Temporary())
}
