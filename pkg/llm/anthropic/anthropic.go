// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic provides an Anthropic Claude API provider for kairos-ci.
package anthropic

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/llm"
)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "claude-sonnet-4-20250514"

// Provider implements llm.Provider for the Anthropic Messages API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	reqOpts   []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithMaxTokens sets the default response token cap.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		if tokens > 0 {
			p.maxTokens = tokens
		}
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithTimeout bounds each HTTP request to the API. Zero keeps the SDK default.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.reqOpts = append(p.reqOpts, option.WithRequestTimeout(d))
		}
	}
}

// WithAPIKey sets the API key. Without it the SDK reads ANTHROPIC_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		if apiKey != "" {
			p.reqOpts = append(p.reqOpts, option.WithAPIKey(apiKey))
		}
	}
}

// New creates a new Anthropic provider with SDK retries disabled.
func New(opts ...Option) *Provider {
	p := &Provider{model: DefaultModel, maxTokens: 4096}
	for _, opt := range opts {
		opt(p)
	}
	reqOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, p.reqOpts...)
	p.client = anthropic.NewClient(reqOpts...)
	return p
}

// Model returns the default model.
func (p *Provider) Model() string { return p.model }

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	system, messages := convertMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}
	return convertResponse(message), nil
}

// convertMessages splits out system prompts, which the Messages API takes
// separately. Speaker names are folded into user content.
func convertMessages(msgs []llm.Message) (string, []anthropic.MessageParam) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			content := msg.Content
			if msg.Name != "" {
				content = msg.Name + ": " + content
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func convertResponse(message *anthropic.Message) *llm.ChatResponse {
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &llm.ChatResponse{
		Content: text.String(),
		Model:   string(message.Model),
		Usage: llm.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

// wrapError turns SDK failures into LLM_ERROR; rate limits, server errors
// and transport failures are recoverable.
func wrapError(err error) error {
	recoverable := true
	out := errors.New(errors.CodeLLMError, "anthropic message failed", err)
	var apierr *anthropic.Error
	if stderrors.As(err, &apierr) {
		recoverable = apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
		out.WithContext("status", apierr.StatusCode)
		if apierr.StatusCode == http.StatusUnauthorized {
			out.Code = errors.CodeUnauthorized
		}
	}
	return out.WithRecoverable(recoverable)
}

var _ llm.Provider = (*Provider)(nil)
