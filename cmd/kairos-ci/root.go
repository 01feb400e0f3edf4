// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// app is the state shared by every subcommand.
type app struct {
	configPath string
	profile    string
	sets       []string
	logLevel   string

	out    io.Writer
	errOut io.Writer
	getenv func(string) string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer, getenv func(string) string) *cobra.Command {
	a := &app{out: out, errOut: errOut, getenv: getenv}

	root := &cobra.Command{
		Use:   "kairos-ci",
		Short: "Multi-agent CI code review",
		Long: `kairos-ci starts a group chat between a command executor, a code reviewer,
a documentation writer and a test designer, and asks them to review the
repository at REPO_DIR (default ./repo).

Running it without a subcommand is the same as "kairos-ci run".`,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE:              a.runReview,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.profile, "profile", "", "profile layered on top of the config file")
	flags.StringArrayVar(&a.sets, "set", nil, "override a config key (key=value, repeatable)")
	flags.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		a.newRunCmd(),
		a.newAgentsCmd(),
		a.newTaskCmd(),
		a.newValidateCmd(),
		a.newHistoryCmd(),
		a.newReportCmd(),
		a.newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and configures logging before any command.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	args := make([]string, 0, 4+2*len(a.sets))
	if a.configPath != "" {
		args = append(args, "--config", a.configPath)
	}
	if a.profile != "" {
		args = append(args, "--profile", a.profile)
	}
	for _, s := range a.sets {
		args = append(args, "--set", s)
	}
	cfg, err := config.LoadWithCLI(args)
	if err != nil {
		if errors.As(err) != nil {
			return err
		}
		return errors.New(errors.CodeConfig, "load configuration", err).
			WithContext("config_path", a.configPath)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = telemetry.ConfigureSlog(a.errOut, cfg.Log.Level, cfg.Log.Format)
	return nil
}
