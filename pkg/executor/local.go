// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// Local runs blocks as host processes in WorkDir.
type Local struct {
	WorkDir string
	// Timeout applies to each block; zero means no limit.
	Timeout time.Duration
	// Env is appended to the process environment.
	Env     []string
	Metrics *telemetry.ConversationMetrics
	Logger  *slog.Logger
}

// NewLocal creates a host executor rooted at workDir.
func NewLocal(workDir string, timeout time.Duration) *Local {
	return &Local{WorkDir: workDir, Timeout: timeout, Logger: slog.Default()}
}

// Name implements Executor.
func (l *Local) Name() string { return "local" }

// Execute implements Executor.
func (l *Local) Execute(ctx context.Context, blocks []CodeBlock) (Result, error) {
	if info, err := os.Stat(l.WorkDir); err != nil || !info.IsDir() {
		return Result{}, errors.New(errors.CodeExecution, "work directory is not available", err).
			WithContext("work_dir", l.WorkDir)
	}
	return runBlocks(ctx, l.Name(), l.Metrics, blocks, l.runBlock)
}

func (l *Local) runBlock(ctx context.Context, block CodeBlock) (blockOutcome, error) {
	program, _ := interpreter(block.Language)

	runCtx := ctx
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	args := []string{}
	if program == "python3" {
		args = append(args, "-")
	}
	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Dir = l.WorkDir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stdin = strings.NewReader(block.Code)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 2 * time.Second

	logger := l.logger()
	logger.DebugContext(ctx, "running code block", "language", block.Language, "work_dir", l.WorkDir)

	err := cmd.Run()
	switch {
	case err == nil:
		return blockOutcome{exitCode: 0, output: out.String()}, nil
	case ctx.Err() != nil:
		return blockOutcome{}, errors.New(errors.CodeTimeout, "code execution cancelled", ctx.Err())
	case stderrors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.WarnContext(ctx, "code block timed out", "language", block.Language, "timeout", l.Timeout)
		return blockOutcome{exitCode: TimeoutExitCode, output: out.String() + "\nTimeout"}, nil
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return blockOutcome{exitCode: exitErr.ExitCode(), output: out.String()}, nil
	}
	if stderrors.Is(err, exec.ErrNotFound) {
		return blockOutcome{exitCode: 127, output: program + ": command not found"}, nil
	}
	return blockOutcome{}, errors.New(errors.CodeExecution, "start "+program, err)
}

func (l *Local) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

var _ Executor = (*Local)(nil)
