// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/memory"
)

func (a *app) newHistoryCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List stored review runs, or print the transcript of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Transcript.Backend == "memory" {
				fmt.Fprintln(a.out, "transcript.backend is memory: runs are not kept between invocations.")
				fmt.Fprintln(a.out, "Set transcript.backend to file or sqlite to keep them.")
				return nil
			}
			store, err := memory.Open(a.cfg.Transcript)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					a.logger.Warn("history.close.failed", slog.String("error", err.Error()))
				}
			}()

			if len(args) == 1 {
				return a.printRun(cmd, store, args[0], last)
			}

			sessions, err := store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.out, "No runs stored yet.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tUPDATED\tMESSAGES\tINITIATOR")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.ID,
					s.Started.Local().Format(time.DateTime),
					s.Updated.Local().Format(time.DateTime),
					s.Messages,
					s.Initiator,
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&last, "last", 0, "only print the last N messages of a run")
	return cmd
}

func (a *app) printRun(cmd *cobra.Command, store memory.ConversationMemory, runID string, last int) error {
	var (
		msgs []memory.ConversationMessage
		err  error
	)
	if last > 0 {
		msgs, err = store.GetRecentMessages(cmd.Context(), runID, last)
	} else {
		msgs, err = store.GetMessages(cmd.Context(), runID)
	}
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errors.New(errors.CodeNotFound, "run "+runID+" has no stored messages", nil).
			WithContext("run_id", runID)
	}
	for _, m := range msgs {
		fmt.Fprintf(a.out, "[%d] %s (%s):\n\n%s\n\n%s\n",
			m.Round, m.Name, m.CreatedAt.Local().Format(time.DateTime), strings.TrimRight(m.Content, "\n"), separator)
	}
	return nil
}
