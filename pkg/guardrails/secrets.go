// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package guardrails

import (
	"context"
	"regexp"
	"sort"
)

// SecretType categorizes a detected credential.
type SecretType string

const (
	SecretOpenAIKey     SecretType = "openai_key"
	SecretAnthropicKey  SecretType = "anthropic_key"
	SecretAWSAccessKey  SecretType = "aws_access_key"
	SecretGitHubToken   SecretType = "github_token"
	SecretSlackToken    SecretType = "slack_token"
	SecretPrivateKey    SecretType = "private_key"
	SecretAssignment    SecretType = "assignment"
	SecretBearerToken   SecretType = "bearer_token"
	SecretURLCredential SecretType = "url_credential"
)

type secretPattern struct {
	kind    SecretType
	pattern *regexp.Regexp
	// group is the submatch holding the secret; 0 masks the whole match.
	group int
}

// More specific patterns come first; overlapping later matches are skipped.
var defaultSecretPatterns = []secretPattern{
	{SecretPrivateKey, regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), 0},
	{SecretAnthropicKey, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}`), 0},
	{SecretOpenAIKey, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`), 0},
	{SecretAWSAccessKey, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), 0},
	{SecretGitHubToken, regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})`), 0},
	{SecretSlackToken, regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}`), 0},
	{SecretBearerToken, regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9._~+/-]{16,}=*)`), 1},
	{SecretURLCredential, regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s:/@]+:([^\s@/]+)@`), 1},
	{SecretAssignment, regexp.MustCompile(`(?i)\b[A-Z0-9_]*(?:PASSWORD|PASSWD|SECRET|TOKEN|API_KEY|APIKEY)[A-Z0-9_]*\s*[:=]\s*["']?([^\s"']{6,})`), 1},
}

// SecretFilter masks credentials found in command output.
type SecretFilter struct {
	patterns []secretPattern
}

// NewSecretFilter creates a filter with the built-in credential patterns.
func NewSecretFilter() *SecretFilter {
	return &SecretFilter{patterns: defaultSecretPatterns}
}

// WithSecretFilter adds a SecretFilter to the guardrails.
func WithSecretFilter() Option {
	return WithOutputFilter(NewSecretFilter())
}

// ID returns the guardrail identifier.
func (f *SecretFilter) ID() string { return "secret-filter" }

type span struct {
	start, end int
	kind       SecretType
}

// FilterOutput implements OutputFilter.
func (f *SecretFilter) FilterOutput(_ context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	if output == "" {
		return result
	}

	var spans []span
	for _, p := range f.patterns {
		for _, m := range p.pattern.FindAllStringSubmatchIndex(output, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 || overlaps(spans, start, end) {
				continue
			}
			spans = append(spans, span{start: start, end: end, kind: p.kind})
		}
	}
	if len(spans) == 0 {
		return result
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	content := output
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		replacement := "[REDACTED:" + string(s.kind) + "]"
		content = content[:s.start] + replacement + content[s.end:]
		result.Redactions = append(result.Redactions, Redaction{
			Type:        string(s.kind),
			Replacement: replacement,
			Position:    s.start,
		})
	}
	result.Content = content
	result.Modified = true
	return result
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}
