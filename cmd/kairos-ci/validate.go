// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/providers"
	"github.com/jllopis/kairos-ci/pkg/review"
)

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and LLM credentials without starting a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if _, err := providers.NewWithEnv(cmd.Context(), a.cfg.LLM, a.getenv); err != nil {
				return err
			}
			repoDir, err := config.ResolveRepoDir(a.getenv, a.cfg.Review.RepoDir)
			if err != nil {
				return err
			}
			ds, err := review.ResolveDescriptors(a.cfg, repoDir)
			if err != nil {
				return err
			}

			backend := "local"
			if a.cfg.Executor.UseDocker {
				backend = "docker (" + a.cfg.Executor.DockerImage + ")"
			}
			fmt.Fprintln(a.out, "Configuration OK")
			fmt.Fprintf(a.out, "  provider:   %s (%s)\n", a.cfg.LLM.Provider, a.cfg.LLM.Model)
			fmt.Fprintf(a.out, "  repository: %s\n", repoDir)
			fmt.Fprintf(a.out, "  agents:     %d\n", len(ds))
			fmt.Fprintf(a.out, "  max round:  %d (%s)\n", a.cfg.Review.MaxRound, a.cfg.Review.SpeakerSelection)
			fmt.Fprintf(a.out, "  executor:   %s, %d policies\n", backend, len(a.cfg.Executor.Policies))
			fmt.Fprintf(a.out, "  transcript: %s\n", a.cfg.Transcript.Backend)
			return nil
		},
	}
}
