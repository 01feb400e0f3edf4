// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"regexp"
	"strings"
)

// CodeBlock is a fenced block found in a conversation message.
type CodeBlock struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

var fencePattern = regexp.MustCompile("(?s)```[ \\t]*([\\w+-]*)[ \\t]*\\r?\\n(.*?)\\r?\\n?[ \\t]*```")

// ExtractCodeBlocks returns the fenced blocks of text in order. Blocks with no
// language tag are treated as shell.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		code := m[2]
		if strings.TrimSpace(code) == "" {
			continue
		}
		lang := strings.ToLower(strings.TrimSpace(m[1]))
		if lang == "" {
			lang = "sh"
		}
		blocks = append(blocks, CodeBlock{Language: lang, Code: code})
	}
	return blocks
}

// interpreter maps a block language to the program that runs it. ok is false
// for languages the executors do not run.
func interpreter(language string) (program string, ok bool) {
	switch strings.ToLower(language) {
	case "sh", "shell", "console":
		return "sh", true
	case "bash":
		return "bash", true
	case "python", "python3", "py":
		return "python3", true
	default:
		return "", false
	}
}

// Runnable reports whether language can be executed.
func Runnable(language string) bool {
	_, ok := interpreter(language)
	return ok
}
