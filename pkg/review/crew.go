// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jllopis/kairos-ci/pkg/agent"
	"github.com/jllopis/kairos-ci/pkg/config"
	"github.com/jllopis/kairos-ci/pkg/core"
	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/events"
	"github.com/jllopis/kairos-ci/pkg/executor"
	"github.com/jllopis/kairos-ci/pkg/governance"
	"github.com/jllopis/kairos-ci/pkg/groupchat"
	"github.com/jllopis/kairos-ci/pkg/guardrails"
	"github.com/jllopis/kairos-ci/pkg/llm"
	"github.com/jllopis/kairos-ci/pkg/memory"
	"github.com/jllopis/kairos-ci/pkg/providers"
	"github.com/jllopis/kairos-ci/pkg/resilience"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// Crew is a fully wired review conversation.
type Crew struct {
	RepoDir     string
	ReportPath  string
	Task        string
	Descriptors []Descriptor
	Manager     *groupchat.Manager
	Store       memory.ConversationMemory
	Backend     string

	closers []func() error
}

type buildOptions struct {
	getenv   func(string) string
	provider llm.Provider
	runner   executor.Executor
	store    memory.ConversationMemory
	approval governance.ApprovalHook
	emitters []core.EventEmitter
	metrics  *telemetry.ConversationMetrics
	logger   *slog.Logger
}

// Option customizes Build.
type Option func(*buildOptions)

// WithGetenv replaces os.Getenv for REPO_DIR and API key lookups.
func WithGetenv(getenv func(string) string) Option {
	return func(o *buildOptions) { o.getenv = getenv }
}

// WithProvider skips provider construction from configuration.
func WithProvider(p llm.Provider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// WithExecutor replaces the local or docker code executor.
func WithExecutor(runner executor.Executor) Option {
	return func(o *buildOptions) { o.runner = runner }
}

// WithStore replaces the configured transcript store.
func WithStore(store memory.ConversationMemory) Option {
	return func(o *buildOptions) { o.store = store }
}

// WithApprovalHook replaces the console prompt used in ALWAYS mode.
func WithApprovalHook(h governance.ApprovalHook) Option {
	return func(o *buildOptions) { o.approval = h }
}

// WithEmitter adds an event sink.
func WithEmitter(em core.EventEmitter) Option {
	return func(o *buildOptions) {
		if em != nil {
			o.emitters = append(o.emitters, em)
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.ConversationMetrics) Option {
	return func(o *buildOptions) { o.metrics = m }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// Build validates cfg and wires the crew. The LLM provider is resolved first
// so missing credentials fail before anything else is created.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Crew, err error) {
	o := buildOptions{getenv: os.Getenv, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg == nil {
		return nil, errors.New(errors.CodeConfig, "configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider := o.provider
	if provider == nil {
		provider, err = providers.NewWithEnv(ctx, cfg.LLM, o.getenv)
		if err != nil {
			return nil, err
		}
	}

	repoDir, err := config.ResolveRepoDir(o.getenv, cfg.Review.RepoDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return nil, errors.New(errors.CodeConfig, "create repository directory", err).
			WithContext("repo_dir", repoDir)
	}

	descriptors, err := ResolveDescriptors(cfg, repoDir)
	if err != nil {
		return nil, err
	}

	c := &Crew{
		RepoDir:     repoDir,
		ReportPath:  reportPath(cfg),
		Task:        taskText(repoDir, reportPath(cfg)),
		Descriptors: descriptors,
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	metrics := o.metrics
	if metrics == nil {
		metrics, err = telemetry.NewConversationMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "create metrics", err)
		}
	}

	runner := o.runner
	if runner == nil {
		runner, err = newRunner(cfg.Executor, repoDir, metrics, o.logger)
		if err != nil {
			return nil, err
		}
	}
	c.Backend = runner.Name()

	store := o.store
	if store == nil {
		store, err = memory.Open(cfg.Transcript)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
	}
	c.Store = store

	emitter, err := c.emitters(cfg.Events, o)
	if err != nil {
		return nil, err
	}

	instructions, ierr := governance.LoadRepoInstructions(repoDir)
	if ierr != nil {
		o.logger.WarnContext(ctx, "review.instructions.unreadable",
			slog.String("repo_dir", repoDir),
			slog.String("error", ierr.Error()),
		)
	} else if instructions != nil {
		o.logger.InfoContext(ctx, "review.instructions.loaded",
			slog.String("path", instructions.Path),
			slog.Bool("truncated", instructions.Truncated),
		)
	}

	agents := make([]agent.Agent, 0, len(descriptors))
	for _, d := range descriptors {
		var a agent.Agent
		switch d.Kind {
		case KindExecutor:
			a, err = newExecutorAgent(d, cfg.Executor, cfg.Review.ApprovalTimeout, runner, o, emitter)
		default:
			a, err = newAssistantAgent(d, cfg, provider, instructions, metrics, o.logger)
		}
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}

	chat, err := groupchat.New(agents,
		groupchat.WithMaxRound(cfg.Review.MaxRound),
		groupchat.WithSpeakerSelection(cfg.Review.SpeakerSelection),
		groupchat.WithAllowRepeatSpeaker(cfg.Review.AllowRepeatSpeaker),
	)
	if err != nil {
		return nil, err
	}
	c.Manager, err = groupchat.NewManager(chat,
		groupchat.WithSelectorProvider(provider, cfg.LLM.Model),
		groupchat.WithMemory(store),
		groupchat.WithEventEmitter(emitter),
		groupchat.WithMetrics(metrics),
		groupchat.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "review.crew.ready",
		slog.String("repo_dir", repoDir),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("model", cfg.LLM.Model),
		slog.String("executor", c.Backend),
		slog.String("transcript", cfg.Transcript.Backend),
		slog.Int("max_round", cfg.Review.MaxRound),
	)
	return c, nil
}

// Run starts the conversation with the task text sent by dev_executor.
func (c *Crew) Run(ctx context.Context) (*groupchat.Result, error) {
	return c.Manager.Run(ctx, DevExecutor, c.Task)
}

// Close releases the transcript store and event connections.
func (c *Crew) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return stderrors.Join(errs...)
}

// ResolveDescriptors builds the crew descriptors for cfg, applying the roles
// file when one is configured.
func ResolveDescriptors(cfg *config.Config, repoDir string) ([]Descriptor, error) {
	ds := Descriptors(Settings{
		RepoDir:        repoDir,
		HumanInputMode: cfg.Review.HumanInputMode,
		UseDocker:      cfg.Executor.UseDocker,
		ReportPath:     reportPath(cfg),
	})
	if cfg.Review.RolesFile != "" {
		overrides, err := LoadRoleOverrides(cfg.Review.RolesFile)
		if err != nil {
			return nil, err
		}
		if ds, err = ApplyOverrides(ds, overrides); err != nil {
			return nil, err
		}
	}
	if err := ValidateDescriptors(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// ResolveTask returns the opening message for repoDir with the configured
// report path.
func ResolveTask(cfg *config.Config, repoDir string) string {
	return taskText(repoDir, reportPath(cfg))
}

func (c *Crew) emitters(cfg config.EventsConfig, o buildOptions) (core.EventEmitter, error) {
	slogEmitter := events.NewSlogEmitter(o.logger)
	slogEmitter.Level = slog.LevelDebug
	out := events.MultiEmitter{slogEmitter}
	out = append(out, o.emitters...)

	url := cfg.NATSURL
	if cfg.Embedded && url == "" {
		srv, err := events.StartEmbedded(cfg.Port)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error { srv.Close(); return nil })
		url = srv.ClientURL()
		o.logger.Info("review.events.embedded", slog.String("url", url), slog.String("subject", cfg.Subject))
	}
	if url != "" {
		nc, err := events.NewNATSEmitter(url, cfg.Subject)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, nc.Close)
		out = append(out, nc)
	}
	return out, nil
}

func newRunner(cfg config.ExecutorConfig, repoDir string, metrics *telemetry.ConversationMetrics, logger *slog.Logger) (executor.Executor, error) {
	if cfg.UseDocker {
		d, err := executor.NewDocker(cfg.DockerImage, repoDir, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		d.Metrics = metrics
		d.Logger = logger
		return d, nil
	}
	l := executor.NewLocal(repoDir, cfg.Timeout)
	l.Metrics = metrics
	l.Logger = logger
	return l, nil
}

func newExecutorAgent(d Descriptor, cfg config.ExecutorConfig, approvalTimeout time.Duration, runner executor.Executor, o buildOptions, emitter core.EventEmitter) (agent.Agent, error) {
	opts := []agent.ExecutorOption{
		agent.WithExecutorSystemMessage(d.SystemMessage),
		agent.WithExecutorDescription(d.Description),
		agent.WithPolicy(governance.RuleSetFromConfig(cfg.Policies)),
		agent.WithEventEmitter(emitter),
		agent.WithExecutorLogger(o.logger),
	}
	approval := o.approval
	if d.HumanInputMode == HumanInputAlways {
		if approval == nil {
			approval = governance.NewConsoleApprovalHook(
				governance.WithApprovalTimeout(approvalTimeout),
				governance.WithApprovalDefault(governance.Decision{
					Status: governance.DecisionStatusDeny,
					Reason: "operator did not answer",
				}),
			)
		}
		opts = append(opts, agent.WithRequireApproval(true))
	}
	if approval != nil {
		opts = append(opts, agent.WithApprovalHook(approval))
	}
	if cfg.RedactSecrets {
		opts = append(opts, agent.WithGuardrails(guardrails.New(guardrails.WithSecretFilter())))
	}
	return agent.NewExecutor(d.Name, runner, opts...)
}

func newAssistantAgent(d Descriptor, cfg *config.Config, provider llm.Provider, instructions *governance.RepoInstructions, metrics *telemetry.ConversationMetrics, logger *slog.Logger) (agent.Agent, error) {
	retry := resilience.DefaultRetryConfig().WithMaxAttempts(cfg.LLM.MaxRetries+1).WithLogger(logger, "llm.chat."+d.Name)
	opts := []agent.AssistantOption{
		agent.WithSystemMessage(d.SystemMessage + instructions.SystemSuffix()),
		agent.WithDescription(d.Description),
		agent.WithModel(cfg.LLM.Model),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
		agent.WithRetry(retry),
		agent.WithMetrics(metrics),
		agent.WithLogger(logger),
	}
	if strategy := memory.HistoryStrategy(cfg.Transcript); strategy != nil {
		opts = append(opts, agent.WithHistoryStrategy(strategy))
	}
	return agent.NewAssistant(d.Name, provider, opts...)
}

func reportPath(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Review.ReportPath); p != "" {
		return p
	}
	return DefaultReportPath
}
