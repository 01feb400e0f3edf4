// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs code blocks proposed in the review conversation,
// either on the host or inside a throwaway Docker container.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// TimeoutExitCode is reported when a block exceeds its time limit.
const TimeoutExitCode = 124

// Executor runs code blocks in order.
type Executor interface {
	// Name identifies the backend ("local" or "docker").
	Name() string
	// Execute runs blocks in order and stops at the first failure. A non-zero
	// exit code is a result, not an error; errors mean the executor itself
	// could not run.
	Execute(ctx context.Context, blocks []CodeBlock) (Result, error)
}

// Result is the combined outcome of one Execute call.
type Result struct {
	ExitCode int
	Output   string
	// Blocks is the number of blocks that ran.
	Blocks   int
	Duration time.Duration
}

// Succeeded reports whether every block exited with status zero.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

// Format renders the result as a conversation message.
func (r Result) Format() string {
	status := "execution succeeded"
	if !r.Succeeded() {
		status = "execution failed"
	}
	return fmt.Sprintf("exitcode: %d (%s)\nCode output: %s", r.ExitCode, status, r.Output)
}

// blockOutcome is what a backend reports for a single block.
type blockOutcome struct {
	exitCode int
	output   string
}

type runFunc func(ctx context.Context, block CodeBlock) (blockOutcome, error)

// runBlocks drives run over blocks with the shared bookkeeping: spans,
// metrics, unknown languages and stop-on-failure.
func runBlocks(ctx context.Context, backend string, metrics *telemetry.ConversationMetrics, blocks []CodeBlock, run runFunc) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("executor.backend", backend),
		attribute.Int("executor.blocks", len(blocks)),
	))
	defer span.End()

	start := time.Now()
	var (
		res     Result
		outputs []string
	)
	for _, block := range blocks {
		res.Blocks++
		var out blockOutcome
		if !Runnable(block.Language) {
			out = blockOutcome{exitCode: 1, output: "unknown language " + block.Language}
		} else {
			var err error
			out, err = run(ctx, block)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				metrics.RecordCommand(ctx, block.Language, "error")
				return res, err
			}
		}
		outputs = append(outputs, out.output)
		res.ExitCode = out.exitCode
		metrics.RecordCommand(ctx, block.Language, outcomeLabel(out.exitCode))
		if out.exitCode != 0 {
			break
		}
	}
	res.Output = strings.Join(outputs, "\n")
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("executor.exit_code", res.ExitCode),
		attribute.Int("executor.blocks_run", res.Blocks),
	)
	return res, nil
}

func outcomeLabel(exitCode int) string {
	switch exitCode {
	case 0:
		return "success"
	case TimeoutExitCode:
		return "timeout"
	default:
		return "failure"
	}
}
