// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/review"
)

func (a *app) newReportCmd() *cobra.Command {
	var (
		raw   bool
		width int
	)
	cmd := &cobra.Command{
		Use:   "report [path]",
		Short: "Render the review report written by the documentor",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.reportPath(args)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return errors.New(errors.CodeNotFound, "no review report at "+path, nil).
						WithContext("hint", "run 'kairos-ci run' first; the documentor writes "+a.cfg.Review.ReportPath)
				}
				return errors.New(errors.CodeInternal, "read review report", err).WithContext("path", path)
			}
			if raw {
				_, err = a.out.Write(data)
				return err
			}

			r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(width),
			)
			if err != nil {
				return errors.New(errors.CodeInternal, "create markdown renderer", err)
			}
			out, err := r.Render(string(data))
			if err != nil {
				return errors.New(errors.CodeInternal, "render review report", err).WithContext("path", path)
			}
			_, err = fmt.Fprint(a.out, out)
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the markdown without rendering")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width")
	return cmd
}

func (a *app) reportPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	report := a.cfg.Review.ReportPath
	if report == "" {
		report = review.DefaultReportPath
	}
	if filepath.IsAbs(report) {
		return report, nil
	}
	repoDir, err := config.ResolveRepoDir(a.getenv, a.cfg.Review.RepoDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(repoDir, report), nil
}
