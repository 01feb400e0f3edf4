// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/errors"
)

// Open returns the transcript store selected by cfg.Backend.
func Open(cfg config.TranscriptConfig) (ConversationMemory, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemoryConversation(), nil
	case "file":
		return NewFileConversation(cfg.Path)
	case "sqlite":
		return NewSQLiteConversation(cfg.Path)
	default:
		return nil, errors.New(errors.CodeConfig, "unknown transcript backend "+cfg.Backend, nil)
	}
}

// HistoryStrategy returns the truncation applied to the history handed to
// each assistant: a message window, then a token budget. Nil when cfg sets
// neither. The opening task message is always kept.
func HistoryStrategy(cfg config.TranscriptConfig) TruncationStrategy {
	var chain strategyChain
	if cfg.Window > 0 {
		chain = append(chain, NewWindowStrategy(cfg.Window, true))
	}
	if cfg.MaxTokens > 0 {
		chain = append(chain, NewTokenStrategy(cfg.MaxTokens, true))
	}
	switch len(chain) {
	case 0:
		return nil
	case 1:
		return chain[0]
	}
	return chain
}

type strategyChain []TruncationStrategy

func (c strategyChain) Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	var err error
	for _, s := range c {
		if messages, err = s.Truncate(ctx, messages); err != nil {
			return nil, err
		}
	}
	return messages, nil
}
