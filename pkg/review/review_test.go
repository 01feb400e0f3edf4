// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/executor"
	"github.com/jllopis/kairos-ci/pkg/governance"
	"github.com/jllopis/kairos-ci/pkg/groupchat"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
	kt "github.com/jllopis/kairos-ci/pkg/testing"
)

// fakeRunner echoes every block it receives.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]executor.CodeBlock
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) Execute(_ context.Context, blocks []executor.CodeBlock) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, blocks)
	return executor.Result{ExitCode: 0, Output: "hello\n", Blocks: len(blocks)}, nil
}

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LLM.Provider = "mock"
	return cfg
}

func TestDescriptorsHaveUniqueNames(t *testing.T) {
	ds := Descriptors(Settings{RepoDir: "/tmp/repo"})
	require.Len(t, ds, 4)

	names := map[string]bool{}
	for _, d := range ds {
		assert.False(t, names[d.Name], "duplicate %s", d.Name)
		names[d.Name] = true
		assert.NotEmpty(t, d.SystemMessage)
		assert.NotEmpty(t, d.Description)
	}
	assert.Equal(t, []string{DevExecutor, CodeReviewer, Documentor, TestAgent},
		[]string{ds[0].Name, ds[1].Name, ds[2].Name, ds[3].Name})
	assert.Equal(t, KindExecutor, ds[0].Kind)
	assert.Equal(t, "/tmp/repo", ds[0].WorkDir)
	assert.Equal(t, HumanInputNever, ds[0].HumanInputMode)
	assert.Contains(t, ds[2].SystemMessage, DefaultReportPath)
	assert.NoError(t, ValidateDescriptors(ds))
}

func TestDescriptorsHonourSettings(t *testing.T) {
	ds := Descriptors(Settings{RepoDir: "/r", HumanInputMode: "always", UseDocker: true, ReportPath: "REVIEW.md"})
	assert.Equal(t, HumanInputAlways, ds[0].HumanInputMode)
	assert.True(t, ds[0].UseDocker)
	assert.Contains(t, ds[2].SystemMessage, "Create or update REVIEW.md")
	for _, d := range ds[1:] {
		assert.Equal(t, HumanInputNever, d.HumanInputMode)
	}
}

func TestValidateDescriptors(t *testing.T) {
	base := Descriptors(Settings{RepoDir: "/r"})

	dup := append([]Descriptor(nil), base...)
	dup[3].Name = CodeReviewer
	assert.True(t, errors.HasCode(ValidateDescriptors(dup), errors.CodeInvalidInput))

	blank := append([]Descriptor(nil), base...)
	blank[1].Name = ""
	assert.True(t, errors.HasCode(ValidateDescriptors(blank), errors.CodeInvalidInput))

	noExec := append([]Descriptor(nil), base[1:]...)
	assert.True(t, errors.HasCode(ValidateDescriptors(noExec), errors.CodeInvalidInput))

	badMode := append([]Descriptor(nil), base...)
	badMode[0].HumanInputMode = "SOMETIMES"
	assert.True(t, errors.HasCode(ValidateDescriptors(badMode), errors.CodeInvalidInput))

	noDir := append([]Descriptor(nil), base...)
	noDir[0].WorkDir = ""
	assert.True(t, errors.HasCode(ValidateDescriptors(noDir), errors.CodeInvalidInput))

	assert.Error(t, ValidateDescriptors(nil))
}

func TestDefaultRoundBound(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRound, cfg.Review.MaxRound)
	assert.Positive(t, DefaultMaxRound)
}

func TestTaskTextContainsRepoDir(t *testing.T) {
	text := TaskText("/work/my-repo")
	assert.Contains(t, text, "located at: /work/my-repo")
	assert.Contains(t, text, "git diff --name-only HEAD~1")
	assert.Contains(t, text, "pytest -q")
	assert.Contains(t, text, "(docs/AI_REVIEW.md)")
}

func TestUnsetRepoDirDefaultsToRepo(t *testing.T) {
	dir, err := config.ResolveRepoDir(env(nil), "")
	require.NoError(t, err)
	want, err := filepath.Abs("./repo")
	require.NoError(t, err)
	assert.Equal(t, want, dir)
	assert.True(t, filepath.IsAbs(dir))
}

func TestRoleOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`roles:
  code_reviewer:
    system_message: "Review only Go code."
  test_agent:
    description: "Runs go test."
`), 0o644))

	overrides, err := LoadRoleOverrides(path)
	require.NoError(t, err)

	ds, err := ApplyOverrides(Descriptors(Settings{RepoDir: "/r"}), overrides)
	require.NoError(t, err)
	assert.Equal(t, "Review only Go code.", ds[1].SystemMessage)
	assert.Equal(t, "Runs go test.", ds[3].Description)
	assert.Equal(t, testAgentSystem, ds[3].SystemMessage)

	_, err = ApplyOverrides(ds, map[string]RoleOverride{"ghost": {Description: "x"}})
	assert.True(t, errors.HasCode(err, errors.CodeConfig))

	_, err = LoadRoleOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.CodeConfig))
}

func TestBuildFailsFastWithoutCredentials(t *testing.T) {
	repo := filepath.Join(t.TempDir(), "repo")
	cfg := testConfig(t)
	cfg.LLM.Provider = "openai"

	_, err := Build(context.Background(), cfg, WithGetenv(env(map[string]string{"REPO_DIR": repo})))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnauthorized))
	assert.NoDirExists(t, repo)

	cfg.LLM.Provider = ""
	_, err = Build(context.Background(), cfg, WithGetenv(env(map[string]string{"REPO_DIR": repo})))
	assert.True(t, errors.HasCode(err, errors.CodeConfig))
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Review.MaxRound = 0
	_, err := Build(context.Background(), cfg, WithGetenv(env(nil)))
	assert.True(t, errors.HasCode(err, errors.CodeConfig))
}

func TestBuildAndRunWithMockProvider(t *testing.T) {
	repo := t.TempDir()
	cfg := testConfig(t)

	crew, err := Build(context.Background(), cfg,
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithExecutor(&fakeRunner{}),
	)
	require.NoError(t, err)
	defer crew.Close()

	assert.Equal(t, repo, crew.RepoDir)
	assert.Equal(t, "fake", crew.Backend)
	assert.Contains(t, crew.Task, repo)

	res, err := crew.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, groupchat.TerminationKeyword, res.Termination)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, DevExecutor, res.Messages[0].Name)
	assert.Equal(t, crew.Task, res.Messages[0].Content)
	assert.Equal(t, CodeReviewer, res.Messages[1].Name)
	assert.Equal(t, "No findings reported by the mock provider.", res.Summary)
}

func TestBuildRunsProposedCode(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "AGENTS.md"), []byte("Use make test."), 0o644))

	provider := llm.NewScriptedMockProvider(
		CodeReviewer,
		"Let me look at the diff.\n```sh\ngit diff --name-only HEAD~1\n```",
		DevExecutor,
		Documentor,
		"Wrote docs/AI_REVIEW.md.\nTERMINATE",
	)
	runner := &fakeRunner{}
	store := memory.NewInMemoryConversation()
	cfg := testConfig(t)

	crew, err := Build(context.Background(), cfg,
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithProvider(provider),
		WithExecutor(runner),
		WithStore(store),
	)
	require.NoError(t, err)
	defer crew.Close()

	res, err := crew.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, groupchat.TerminationKeyword, res.Termination)
	require.Len(t, res.Messages, 4)
	assert.Equal(t, DevExecutor, res.Messages[2].Name)
	assert.True(t, strings.HasPrefix(res.Messages[2].Content, "exitcode: 0 (execution succeeded)\nCode output: hello"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "git diff --name-only HEAD~1", runner.calls[0][0].Code)

	// The reviewer's system message carries the repository instructions.
	reqs := provider.Requests()
	require.Len(t, reqs, 5)
	assert.Contains(t, reqs[1].Messages[0].Content, "Repository instructions (AGENTS.md):\nUse make test.")

	stored, err := store.GetMessages(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestBuildTrimsAssistantHistory(t *testing.T) {
	repo := t.TempDir()
	provider := llm.NewScriptedMockProvider(
		CodeReviewer,
		"```sh\ngit log -1\n```",
		DevExecutor,
		Documentor,
		"Done.\nTERMINATE",
	)
	cfg := testConfig(t)
	cfg.Transcript.Window = 2

	crew, err := Build(context.Background(), cfg,
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithProvider(provider),
		WithExecutor(&fakeRunner{}),
	)
	require.NoError(t, err)
	defer crew.Close()

	res, err := crew.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Messages, 4)

	// The documentor sees the task and the latest output, not the reviewer's turn.
	reqs := provider.Requests()
	require.Len(t, reqs, 5)
	msgs := reqs[4].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, crew.Task, msgs[1].Content)
	assert.True(t, strings.HasPrefix(msgs[2].Content, "exitcode: 0"))
}

func TestBuildHumanInputAlwaysAsksForApproval(t *testing.T) {
	repo := t.TempDir()
	provider := llm.NewScriptedMockProvider(
		TestAgent,
		"```sh\npytest -q\n```",
		DevExecutor,
		TestAgent,
		"Tests were not run.\nTERMINATE",
	)
	runner := &fakeRunner{}
	cfg := testConfig(t)
	cfg.Review.HumanInputMode = "ALWAYS"

	crew, err := Build(context.Background(), cfg,
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithProvider(provider),
		WithExecutor(runner),
		WithApprovalHook(governance.StaticApprovalHook{Decision: governance.Decision{
			Status: governance.DecisionStatusDeny,
			Reason: "operator declined",
		}}),
	)
	require.NoError(t, err)
	defer crew.Close()

	res, err := crew.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Messages, 4)
	assert.Contains(t, res.Messages[2].Content, "exitcode: 1 (execution failed)")
	assert.Contains(t, res.Messages[2].Content, "operator declined")
	assert.Empty(t, runner.calls)
}

func TestBuildWithSQLiteTranscript(t *testing.T) {
	repo := t.TempDir()
	cfg := testConfig(t)
	cfg.Transcript.Backend = "sqlite"
	cfg.Transcript.Path = filepath.Join(t.TempDir(), "runs.db")

	crew, err := Build(context.Background(), cfg,
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithExecutor(&fakeRunner{}),
	)
	require.NoError(t, err)

	res, err := crew.Run(context.Background())
	require.NoError(t, err)

	sessions, err := crew.Store.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, res.RunID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].Messages)
	assert.Equal(t, DevExecutor, sessions[0].Initiator)
	require.NoError(t, crew.Close())
}

func TestReviewScenario(t *testing.T) {
	repo := t.TempDir()
	provider := kt.NewScenarioProvider().
		AddSelection(TestAgent).
		AddReply("test executor and designer", "Run the suite:\n```sh\npytest -q\n```").
		AddSelection(DevExecutor).
		AddSelection(CodeReviewer).
		AddReply("senior code reviewer", "## Summary\nTests pass and the change is small.\nTERMINATE")
	collector := kt.NewEventCollector()
	runner := &fakeRunner{}

	crew, err := Build(context.Background(), testConfig(t),
		WithGetenv(env(map[string]string{"REPO_DIR": repo})),
		WithProvider(provider),
		WithExecutor(runner),
		WithEmitter(collector),
	)
	require.NoError(t, err)
	defer crew.Close()

	scenario := kt.NewScenario("test agent asks for pytest").
		WithInitiator(DevExecutor).
		WithMessage(crew.Task).
		ExpectNoError().
		ExpectTermination(groupchat.TerminationKeyword).
		ExpectSpeakers(DevExecutor, TestAgent, DevExecutor, CodeReviewer).
		ExpectMessage(3, DevExecutor, kt.Regex(`^exitcode: 0 \(execution succeeded\)\nCode output: hello`)).
		ExpectSummary(kt.HasPrefix("## Summary")).
		ExpectEvent(core.EventCommandExecuted)

	result := scenario.Run(t, crew.Manager, collector)
	result.Assert(t, scenario)
	assert.Zero(t, provider.Pending())
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "sh", runner.calls[0][0].Language)
}
