// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails filters command output before it is posted to the
// conversation, where it would reach the model and the stored transcript.
package guardrails

import "context"

// FilterResult represents the outcome of output filtering.
type FilterResult struct {
	// Content is the (potentially modified) output content.
	Content string

	// Modified indicates if the content was changed.
	Modified bool

	// Redactions lists what was masked.
	Redactions []Redaction
}

// Redaction describes a single content modification. The original text is
// never kept.
type Redaction struct {
	Type        string
	Replacement string
	Position    int
}

// OutputFilter processes text before it enters the conversation.
type OutputFilter interface {
	FilterOutput(ctx context.Context, output string) FilterResult
	ID() string
}

// Guardrails runs output filters in sequence. Filters are fixed at New.
type Guardrails struct {
	filters []OutputFilter
}

// Option configures the Guardrails instance.
type Option func(*Guardrails)

// New creates a new Guardrails instance with the given options.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithOutputFilter adds an output filter.
func WithOutputFilter(filter OutputFilter) Option {
	return func(g *Guardrails) {
		g.filters = append(g.filters, filter)
	}
}

// FilterOutput runs every filter; each one sees the previous one's output.
// A nil Guardrails passes content through.
func (g *Guardrails) FilterOutput(ctx context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	if g == nil {
		return result
	}
	for _, filter := range g.filters {
		if ctx.Err() != nil {
			return result
		}
		fr := filter.FilterOutput(ctx, result.Content)
		if fr.Modified {
			result.Content = fr.Content
			result.Modified = true
			result.Redactions = append(result.Redactions, fr.Redactions...)
		}
	}
	return result
}
