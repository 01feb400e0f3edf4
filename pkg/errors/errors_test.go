// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := stderrors.New("connection refused")
	e := New(CodeLLMError, "chat failed", cause)

	assert.Equal(t, CodeLLMError, e.Code)
	assert.Equal(t, "chat failed", e.Message)
	assert.True(t, stderrors.Is(e, cause))
	assert.False(t, e.Recoverable)
	assert.Equal(t, "[LLM_ERROR] chat failed: connection refused", e.Error())
}

func TestErrorWithoutCause(t *testing.T) {
	e := New(CodeConfig, "llm.model is required", nil)
	assert.Equal(t, "[CONFIG_ERROR] llm.model is required", e.Error())
}

func TestWithContextAndRecoverable(t *testing.T) {
	e := New(CodeExecution, "docker unavailable", nil).
		WithContext("image", "python:3.12-slim").
		WithRecoverable(true)

	assert.Equal(t, "python:3.12-slim", e.Context["image"])
	assert.Equal(t, "true", e.RecoverableString())
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(CodeUnauthorized, "missing api key", nil)
	wrapped := fmt.Errorf("build crew: %w", inner)

	got := As(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeUnauthorized, got.Code)
	assert.True(t, HasCode(wrapped, CodeUnauthorized))
	assert.False(t, HasCode(wrapped, CodeConfig))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("plain")))
	assert.Equal(t, CodeTimeout, CodeOf(New(CodeTimeout, "slow", nil)))
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodePolicyDenied, "command blocked", stderrors.New("rule deny-push")).
		WithContext("rule_id", "deny-push")

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "POLICY_DENIED", decoded["code"])
	assert.Equal(t, "command blocked", decoded["message"])
	assert.Equal(t, "rule deny-push", decoded["cause"])
	assert.Equal(t, false, decoded["recoverable"])
}
