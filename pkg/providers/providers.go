// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers builds the configured LLM backend.
package providers

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/llm/anthropic"
	"github.com/jllopis/kairos-ci/pkg/llm/openai"
)

const (
	Mock      = "mock"
	Ollama    = "ollama"
	OpenAI    = "openai"
	Anthropic = "anthropic"
)

// DefaultOllamaURL is used when llm.base_url is empty for the ollama backend.
const DefaultOllamaURL = "http://localhost:11434"

// MockResponse is what the mock backend answers to every request.
const MockResponse = "No findings reported by the mock provider.\nTERMINATE"

// Supported lists the accepted llm.provider values.
func Supported() []string {
	return []string{Mock, Ollama, OpenAI, Anthropic}
}

// New returns the provider named by cfg, reading API key fallbacks from the
// process environment.
func New(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	return NewWithEnv(ctx, cfg, os.Getenv)
}

// NewWithEnv is New with an explicit environment lookup.
func NewWithEnv(ctx context.Context, cfg config.LLMConfig, getenv func(string) string) (llm.Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		return nil, errors.New(errors.CodeConfig, "llm.provider is not set", nil).
			WithContext("supported", strings.Join(Supported(), ", "))
	}
	if strings.TrimSpace(cfg.Model) == "" && name != Mock {
		return nil, errors.New(errors.CodeConfig, "llm.model is not set", nil).
			WithContext("provider", name)
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	var provider llm.Provider
	switch name {
	case Mock:
		provider = &llm.MockProvider{Response: MockResponse}

	case Ollama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		provider = llm.NewOllama(baseURL, cfg.Timeout)

	case OpenAI:
		key := firstNonEmpty(cfg.APIKey, getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, missingKey(name, "OPENAI_API_KEY")
		}
		provider = openai.New(
			openai.WithAPIKey(key),
			openai.WithModel(cfg.Model),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithTimeout(cfg.Timeout),
		)

	case Anthropic:
		key := firstNonEmpty(cfg.APIKey, getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, missingKey(name, "ANTHROPIC_API_KEY")
		}
		provider = anthropic.New(
			anthropic.WithAPIKey(key),
			anthropic.WithModel(cfg.Model),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithMaxTokens(cfg.MaxTokens),
			anthropic.WithTimeout(cfg.Timeout),
		)

	default:
		return nil, errors.New(errors.CodeConfig, "unknown llm provider "+cfg.Provider, nil).
			WithContext("supported", strings.Join(Supported(), ", "))
	}

	slog.DebugContext(ctx, "llm provider ready", "provider", name, "model", cfg.Model)
	return provider, nil
}

func missingKey(provider, envVar string) error {
	return errors.New(errors.CodeUnauthorized, "no API key configured for "+provider, nil).
		WithContext("provider", provider).
		WithContext("hint", "set llm.api_key or "+envVar)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
