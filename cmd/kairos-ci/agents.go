// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/review"
)

func (a *app) newAgentsCmd() *cobra.Command {
	var asJSON, full bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the review agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoDir, err := config.ResolveRepoDir(a.getenv, a.cfg.Review.RepoDir)
			if err != nil {
				return err
			}
			ds, err := review.ResolveDescriptors(a.cfg, repoDir)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(ds)
			}
			if full {
				for _, d := range ds {
					fmt.Fprintf(a.out, "%s (%s, human input %s)\n\n%s\n\n%s\n", d.Name, d.Kind, d.HumanInputMode, d.SystemMessage, separator)
				}
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tHUMAN INPUT\tDESCRIPTION")
			for _, d := range ds {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Kind, d.HumanInputMode, d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print descriptors as JSON")
	cmd.Flags().BoolVar(&full, "system", false, "print the full system messages")
	return cmd
}

func (a *app) newTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "task",
		Short: "Print the opening task message for REPO_DIR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoDir, err := config.ResolveRepoDir(a.getenv, a.cfg.Review.RepoDir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(a.out, review.ResolveTask(a.cfg, repoDir))
			return err
		},
	}
}
