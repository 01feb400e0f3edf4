// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// Validate checks the constraints the review run depends on. LLM credentials
// are checked later, when the provider is built.
func (c *Config) Validate() error {
	var problems []string
	if c.Review.MaxRound <= 0 {
		problems = append(problems, fmt.Sprintf("review.max_round must be a positive integer, got %d", c.Review.MaxRound))
	}
	switch c.Review.SpeakerSelection {
	case "auto", "round_robin", "random":
	default:
		problems = append(problems, fmt.Sprintf("review.speaker_selection %q is not one of auto, round_robin, random", c.Review.SpeakerSelection))
	}
	switch strings.ToUpper(c.Review.HumanInputMode) {
	case "NEVER", "ALWAYS":
	default:
		problems = append(problems, fmt.Sprintf("review.human_input_mode %q is not one of NEVER, ALWAYS", c.Review.HumanInputMode))
	}
	if c.Executor.Timeout <= 0 {
		problems = append(problems, "executor.timeout must be positive")
	}
	if c.Executor.UseDocker && c.Executor.DockerImage == "" {
		problems = append(problems, "executor.docker_image is required when executor.use_docker is set")
	}
	for i, p := range c.Executor.Policies {
		switch strings.ToLower(p.Effect) {
		case "allow", "deny", "pending":
		default:
			problems = append(problems, fmt.Sprintf("executor.policies[%d].effect %q is not one of allow, deny, pending", i, p.Effect))
		}
	}
	switch c.Transcript.Backend {
	case "memory":
	case "file", "sqlite":
		if c.Transcript.Path == "" {
			problems = append(problems, "transcript.path is required for the "+c.Transcript.Backend+" backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("transcript.backend %q is not one of memory, file, sqlite", c.Transcript.Backend))
	}
	if c.Transcript.Window < 0 {
		problems = append(problems, "transcript.window must not be negative")
	}
	if strings.TrimSpace(c.Events.Subject) == "" || strings.ContainsAny(c.Events.Subject, " *>") {
		problems = append(problems, fmt.Sprintf("events.subject %q must be a non-empty NATS subject without wildcards", c.Events.Subject))
	}
	if c.Events.Embedded && (c.Events.Port < -1 || c.Events.Port > 65535) {
		problems = append(problems, fmt.Sprintf("events.port %d is not a valid port", c.Events.Port))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.CodeConfig, strings.Join(problems, "; "), nil)
}

// ResolveRepoDir picks the repository under review: REPO_DIR verbatim when
// set, else the configured directory made absolute, else the absolute path of
// ./repo.
func ResolveRepoDir(getenv func(string) string, configured string) (string, error) {
	if getenv != nil {
		if dir := getenv(RepoDirEnv); dir != "" {
			return dir, nil
		}
	}
	if configured == "" {
		configured = "./repo"
	}
	abs, err := filepath.Abs(configured)
	if err != nil {
		return "", errors.New(errors.CodeConfig, "resolve repository directory", err).
			WithContext("repo_dir", configured)
	}
	return abs, nil
}
