// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/events"
)

func (a *app) newWatchCmd() *cobra.Command {
	var (
		url    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "watch [run-id]",
		Short: "Follow run events published on NATS",
		Long: `watch subscribes to the events published under events.subject. With a run id
it follows that run and exits when it completes; without one it follows every
run until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := watchURL(url, a.cfg.Events)
			if err != nil {
				return err
			}
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return events.Watch(ctx, target, a.cfg.Events.Subject, runID, func(ev core.Event) {
				if asJSON {
					data, _ := json.Marshal(ev)
					fmt.Fprintln(a.out, string(data))
				} else {
					fmt.Fprintln(a.out, formatEvent(ev))
				}
				if runID != "" && ev.Type == core.EventRunCompleted {
					cancel()
				}
			})
		},
	}
	cmd.Flags().StringVar(&url, "nats", "", "NATS server URL (defaults to events.nats_url)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw events as JSON lines")
	return cmd
}

// watchURL picks --nats, then events.nats_url, then the embedded server
// address when events.embedded is set.
func watchURL(flag string, cfg config.EventsConfig) (string, error) {
	switch {
	case flag != "":
		return flag, nil
	case cfg.NATSURL != "":
		return cfg.NATSURL, nil
	case cfg.Embedded:
		return events.EmbeddedURL(cfg.Port), nil
	}
	return "", errors.New(errors.CodeConfig, "no NATS server to watch", nil).
		WithContext("hint", "set events.nats_url, enable events.embedded or pass --nats")
}

func formatEvent(ev core.Event) string {
	line := fmt.Sprintf("%s %s %-16s", ev.Timestamp.Local().Format(time.TimeOnly), ev.RunID, ev.Type)
	if ev.Round > 0 {
		line += fmt.Sprintf(" #%d", ev.Round)
	}
	if ev.Agent != "" {
		line += " " + ev.Agent
	}
	switch ev.Type {
	case core.EventMessage:
		if content, ok := ev.Payload["content"].(string); ok {
			line += fmt.Sprintf(" (%d chars)", len(content))
		}
	case core.EventCommandExecuted:
		line += fmt.Sprintf(" exit=%v blocks=%v", ev.Payload["exit_code"], ev.Payload["blocks"])
	case core.EventRunCompleted:
		line += fmt.Sprintf(" %v after %v messages", ev.Payload["termination"], ev.Payload["rounds"])
	case core.EventError:
		line += fmt.Sprintf(" %v", ev.Payload["error"])
	}
	return line
}
