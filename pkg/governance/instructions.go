// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// InstructionFile is the repository file whose contents are added to every
// assistant's system message.
const InstructionFile = "AGENTS.md"

// MaxInstructionBytes caps how much of the file is kept.
const MaxInstructionBytes = 16 * 1024

// RepoInstructions holds the contents of a repository's AGENTS.md.
type RepoInstructions struct {
	Path      string
	Raw       string
	Truncated bool
	LoadedAt  time.Time
}

// LoadRepoInstructions looks for AGENTS.md in repoDir and its parents, up to
// and including the first directory that holds a .git entry. It returns nil
// without error when no file exists.
func LoadRepoInstructions(repoDir string) (*RepoInstructions, error) {
	if strings.TrimSpace(repoDir) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "repository directory is required", nil)
	}
	dir, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "resolve repository directory", err)
	}
	for {
		candidate := filepath.Join(dir, InstructionFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			raw, err := os.ReadFile(candidate)
			if err != nil {
				return nil, errors.New(errors.CodeInternal, "read "+InstructionFile, err).
					WithContext("path", candidate)
			}
			out := &RepoInstructions{Path: candidate, LoadedAt: time.Now().UTC()}
			if len(raw) > MaxInstructionBytes {
				raw = raw[:MaxInstructionBytes]
				out.Truncated = true
			}
			out.Raw = strings.TrimSpace(string(raw))
			return out, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return nil, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// SystemSuffix renders the instructions for appending to a system message.
func (ri *RepoInstructions) SystemSuffix() string {
	if ri == nil || ri.Raw == "" {
		return ""
	}
	return "\n\nRepository instructions (" + InstructionFile + "):\n" + ri.Raw
}
