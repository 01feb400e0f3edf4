// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package review composes the CI review crew: an executor that runs commands
// in the repository, a code reviewer, a documentation writer and a test
// designer, coordinated by a group chat manager.
package review

import (
	"fmt"
	"strings"

	"github.com/jllopis/kairos-ci/pkg/errors"
)

// Agent names.
const (
	DevExecutor  = "dev_executor"
	CodeReviewer = "code_reviewer"
	Documentor   = "documentor"
	TestAgent    = "test_agent"
)

const (
	// DefaultMaxRound bounds the conversation, opening message included.
	DefaultMaxRound = 20
	// DefaultReportPath is where the documentor writes its report, relative
	// to the repository.
	DefaultReportPath = "docs/AI_REVIEW.md"
)

// Kind tells how an agent produces replies.
type Kind string

const (
	KindExecutor  Kind = "executor"
	KindAssistant Kind = "assistant"
)

// Human input modes.
const (
	HumanInputNever  = "NEVER"
	HumanInputAlways = "ALWAYS"
)

// Descriptor is the immutable configuration of one crew member.
type Descriptor struct {
	Name           string `json:"name" yaml:"name"`
	SystemMessage  string `json:"system_message" yaml:"system_message"`
	Description    string `json:"description" yaml:"description"`
	Kind           Kind   `json:"kind" yaml:"kind"`
	HumanInputMode string `json:"human_input_mode" yaml:"human_input_mode"`
	UseDocker      bool   `json:"use_docker" yaml:"use_docker"`
	WorkDir        string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// Settings are the run-specific inputs of Descriptors.
type Settings struct {
	RepoDir        string
	HumanInputMode string
	UseDocker      bool
	ReportPath     string
}

const devExecutorSystem = "You are a developer operations agent. " +
	"You can run shell commands and Python code in the repository workspace. " +
	"Use this to run tests, inspect files, and write reports. " +
	"ALWAYS print command outputs clearly."

const codeReviewerSystem = "You are a senior code reviewer working on a GitHub repository. " +
	"Your goals:\n" +
	"- Review changed files (provided via diffs or file contents)\n" +
	"- Comment on correctness, design, readability, performance, and security\n" +
	"- Suggest specific improvements and refactors\n" +
	"- Highlight any potential bugs or risky patterns\n\n" +
	"Return a structured review with sections: Summary, Strengths, Issues, " +
	"Suggested Changes, and Potential Follow-ups."

const documentorSystemFormat = "You are a documentation specialist. " +
	"Given code and project structure, you:\n" +
	"- Propose or update docstrings for functions/classes\n" +
	"- Generate concise markdown documentation for key modules\n" +
	"- Create or update %s with:\n" +
	"  - Overview of changes\n" +
	"  - How to use new/changed APIs\n" +
	"  - Any prerequisites or setup steps\n" +
	"Focus on clarity and usefulness for future developers."

const testAgentSystem = "You are a test executor and designer. " +
	"Your tasks:\n" +
	"- Decide how to run tests (prefer pytest if present)\n" +
	"- Instruct the dev_executor to run appropriate test commands\n" +
	"- Interpret failures from test output\n" +
	"- Suggest fixes or new tests if coverage looks weak\n" +
	"Prefer commands like `pytest -q` or reading existing test files."

// Descriptors returns the four crew members in speaking order.
func Descriptors(s Settings) []Descriptor {
	mode := strings.ToUpper(strings.TrimSpace(s.HumanInputMode))
	if mode == "" {
		mode = HumanInputNever
	}
	report := s.ReportPath
	if report == "" {
		report = DefaultReportPath
	}
	return []Descriptor{
		{
			Name:           DevExecutor,
			SystemMessage:  devExecutorSystem,
			Description:    "Runs shell commands and Python code in the repository and reports their output verbatim. Speaks after another agent proposes a fenced code block.",
			Kind:           KindExecutor,
			HumanInputMode: mode,
			UseDocker:      s.UseDocker,
			WorkDir:        s.RepoDir,
		},
		{
			Name:           CodeReviewer,
			SystemMessage:  codeReviewerSystem,
			Description:    "Senior code reviewer. Reviews diffs and file contents and returns a structured review.",
			Kind:           KindAssistant,
			HumanInputMode: HumanInputNever,
		},
		{
			Name:           Documentor,
			SystemMessage:  fmt.Sprintf(documentorSystemFormat, report),
			Description:    "Documentation specialist. Writes docstrings and the markdown review report at " + report + ".",
			Kind:           KindAssistant,
			HumanInputMode: HumanInputNever,
		},
		{
			Name:           TestAgent,
			SystemMessage:  testAgentSystem,
			Description:    "Test designer. Decides which test commands to run, asks dev_executor to run them and interprets failures.",
			Kind:           KindAssistant,
			HumanInputMode: HumanInputNever,
		},
	}
}

// ValidateDescriptors checks names, kinds and modes. Exactly one executor is
// required since the conversation is started by it.
func ValidateDescriptors(ds []Descriptor) error {
	if len(ds) == 0 {
		return errors.New(errors.CodeInvalidInput, "no agents configured", nil)
	}
	seen := make(map[string]struct{}, len(ds))
	executors := 0
	for i, d := range ds {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return errors.New(errors.CodeInvalidInput, "agent name is empty", nil).WithContext("index", i)
		}
		if name != d.Name || strings.ContainsAny(name, " \t\n") {
			return errors.New(errors.CodeInvalidInput, "agent name must not contain whitespace", nil).
				WithContext("name", d.Name)
		}
		if _, dup := seen[name]; dup {
			return errors.New(errors.CodeInvalidInput, "duplicate agent name "+name, nil)
		}
		seen[name] = struct{}{}

		switch d.Kind {
		case KindExecutor:
			executors++
			if d.WorkDir == "" {
				return errors.New(errors.CodeInvalidInput, "executor agent needs a work directory", nil).
					WithContext("name", name)
			}
		case KindAssistant:
		default:
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("agent kind %q is not one of executor, assistant", d.Kind), nil).
				WithContext("name", name)
		}
		switch d.HumanInputMode {
		case HumanInputNever, HumanInputAlways:
		default:
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("human input mode %q is not one of NEVER, ALWAYS", d.HumanInputMode), nil).
				WithContext("name", name)
		}
	}
	if executors != 1 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("exactly one executor agent is required, found %d", executors), nil)
	}
	return nil
}

// TaskText is the opening message of the review for repoDir.
func TaskText(repoDir string) string {
	return taskText(repoDir, DefaultReportPath)
}

func taskText(repoDir, report string) string {
	return fmt.Sprintf(`
We are in a CI job / local run for a GitHub repository located at: %[1]s

Goals:
1. Determine the set of recently changed files:
   - Prefer using git commands (e.g., `+"`git diff --name-only HEAD~1`"+` or similar).
2. Run the test suite:
   - If pytest is available, run `+"`pytest -q`"+`.
   - Otherwise, inspect the project and choose a sensible test command.
   - Capture failures and summarize them.
3. Perform a code review of the changed files:
   - The dev_executor can show you diffs or file contents.
   - CodeReviewer should provide a structured review.
4. Generate or update documentation:
   - Documentor should create/append to `+"`%[2]s`"+` (create folder if needed)
     with:
       - Overview of the change
       - Any new functions/classes and how to use them
       - Any breaking changes or caveats.

At the end, produce:
- A high-level summary for posting as a PR comment.
- A path to the generated docs file (%[2]s).
`, repoDir, report)
}
