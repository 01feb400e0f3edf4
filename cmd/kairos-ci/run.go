// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/groupchat"
	"github.com/jllopis/kairos-ci/pkg/review"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

const separator = "--------------------------------------------------------------------------------"

func (a *app) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the review conversation over REPO_DIR",
		Args:  cobra.NoArgs,
		RunE:  a.runReview,
	}
}

func (a *app) runReview(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	shutdown, err := telemetry.Init(a.cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:     a.cfg.Telemetry.Exporter,
		OTLPEndpoint: a.cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: a.cfg.Telemetry.OTLPInsecure,
		Writer:       a.errOut,
	})
	if err != nil {
		return errors.New(errors.CodeConfig, "initialize telemetry", err).
			WithContext("exporter", a.cfg.Telemetry.Exporter)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			a.logger.Warn("telemetry.shutdown.failed", slog.String("error", err.Error()))
		}
	}()

	crew, err := review.Build(ctx, a.cfg,
		review.WithGetenv(a.getenv),
		review.WithLogger(a.logger),
		review.WithEmitter(&transcriptPrinter{w: a.out}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := crew.Close(); err != nil {
			a.logger.Warn("review.close.failed", slog.String("error", err.Error()))
		}
	}()

	res, err := crew.Run(ctx)
	if res != nil {
		printOutcome(a.out, crew, res)
	}
	return err
}

func printOutcome(w io.Writer, crew *review.Crew, res *groupchat.Result) {
	fmt.Fprintf(w, "\nRun %s finished: %s after %d messages (%s, %d tokens)\n",
		res.RunID, res.Termination, res.Rounds, res.Duration.Round(time.Millisecond), res.Usage.TotalTokens)
	report := crew.ReportPath
	if !filepath.IsAbs(report) {
		report = filepath.Join(crew.RepoDir, report)
	}
	if _, err := os.Stat(report); err == nil {
		fmt.Fprintf(w, "Report: %s\n", report)
	}
	if res.Summary != "" {
		fmt.Fprintf(w, "\nSummary:\n%s\n", res.Summary)
	}
}

// transcriptPrinter renders the conversation on the terminal as it happens.
type transcriptPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// Emit implements core.EventEmitter.
func (p *transcriptPrinter) Emit(_ context.Context, ev core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case core.EventMessage:
		content, _ := ev.Payload["content"].(string)
		fmt.Fprintf(p.w, "%s (to chat_manager):\n\n%s\n\n%s\n", ev.Agent, strings.TrimRight(content, "\n"), separator)
	case core.EventSpeakerSelected:
		fmt.Fprintf(p.w, "\nNext speaker: %s\n\n", ev.Agent)
	case core.EventCommandExecuted:
		if denied, _ := ev.Payload["denied"].(bool); denied {
			fmt.Fprintf(p.w, ">>>>>>>> BLOCKED CODE (%v)\n", ev.Payload["reason"])
			return
		}
		fmt.Fprintf(p.w, ">>>>>>>> EXECUTED %v BLOCK(S) (exit code %v)\n", ev.Payload["blocks"], ev.Payload["exit_code"])
	}
}
