// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kairos-ci configuration.
//
// Layers, lowest precedence first: built-in defaults, the YAML (or JSON)
// config file, an optional profile file next to it, KAIROSCI_* environment
// variables and finally --set overrides from the command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Key segments are separated
// by a double underscore: KAIROSCI_REVIEW__MAX_ROUND sets review.max_round.
const EnvPrefix = "KAIROSCI_"

// RepoDirEnv names the repository under review.
const RepoDirEnv = "REPO_DIR"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Review     ReviewConfig     `koanf:"review"`
	Executor   ExecutorConfig   `koanf:"executor"`
	Transcript TranscriptConfig `koanf:"transcript"`
	Events     EventsConfig     `koanf:"events"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string        `koanf:"provider"` // openai, anthropic, ollama, mock
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int64         `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`
}

type ReviewConfig struct {
	RepoDir          string `koanf:"repo_dir"`
	MaxRound         int    `koanf:"max_round"`
	SpeakerSelection string `koanf:"speaker_selection"` // auto, round_robin, random
	HumanInputMode   string `koanf:"human_input_mode"`  // NEVER, ALWAYS
	ReportPath       string `koanf:"report_path"`
	RolesFile        string `koanf:"roles_file"`

	AllowRepeatSpeaker bool `koanf:"allow_repeat_speaker"`
	// ApprovalTimeout bounds each ALWAYS-mode prompt; 0 waits indefinitely.
	ApprovalTimeout time.Duration `koanf:"approval_timeout"`
}

type ExecutorConfig struct {
	UseDocker   bool           `koanf:"use_docker"`
	DockerImage string         `koanf:"docker_image"`
	Timeout     time.Duration  `koanf:"timeout"`
	Policies    []PolicyConfig `koanf:"policies"`
	// RedactSecrets masks credentials in command output before it is posted.
	RedactSecrets bool `koanf:"redact_secrets"`
}

// PolicyConfig is one command rule; Pattern is a glob over the code block.
type PolicyConfig struct {
	ID      string `koanf:"id"`
	Effect  string `koanf:"effect"` // allow, deny, pending
	Pattern string `koanf:"pattern"`
	Reason  string `koanf:"reason"`
}

type TranscriptConfig struct {
	Backend string `koanf:"backend"` // memory, file, sqlite
	// Path is a directory for the file backend and a database file for sqlite.
	Path string `koanf:"path"`
	// Window caps the history sent to each assistant; 0 sends everything.
	Window int `koanf:"window"`
	// MaxTokens caps the estimated tokens of that history; 0 disables it.
	MaxTokens int `koanf:"max_tokens"`
}

type EventsConfig struct {
	// NATSURL enables publishing run events to a NATS server.
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
	// Embedded starts an in-process NATS server on Port for the run.
	Embedded bool `koanf:"embedded"`
	Port     int  `koanf:"port"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"llm.provider":    "openai",
		"llm.model":       "gpt-4o-mini",
		"llm.timeout":     2 * time.Minute,
		"llm.max_retries": 3,
		"llm.max_tokens":  4096,

		"telemetry.exporter":     "none",
		"telemetry.service_name": "kairos-ci",

		"review.max_round":            20,
		"review.speaker_selection":    "auto",
		"review.allow_repeat_speaker": true,
		"review.human_input_mode":     "NEVER",
		"review.report_path":          "docs/AI_REVIEW.md",

		"executor.use_docker":     false,
		"executor.docker_image":   "python:3.12-slim",
		"executor.timeout":        10 * time.Minute,
		"executor.redact_secrets": true,
		"executor.policies": []map[string]any{
			{"id": "deny-push", "effect": "deny", "pattern": "*git push*", "reason": "review runs must not publish changes"},
			{"id": "deny-sudo", "effect": "deny", "pattern": "*sudo *", "reason": "privilege escalation is not allowed"},
		},

		"transcript.backend":    "memory",
		"transcript.path":       ".kairos-ci/transcripts.db",
		"transcript.window":     0,
		"transcript.max_tokens": 0,

		"events.subject": "kairosci",
		"events.port":    4222,
	}
}

// Load reads defaults, the optional file at path and the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile layers <name>.<profile><ext> from the same directory on top
// of path when that file exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI parses --config, --profile and --set arguments and loads the
// resulting configuration. --set values win over every other layer.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := ParseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.Path, opts.Profile, opts.Sets)
}

func load(path, profile string, sets map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if profile != "" {
			profilePath := ProfilePath(path, profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", profilePath, err)
				}
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps KAIROSCI_LLM__API_KEY to llm.api_key.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// ProfilePath returns the profile file that sits next to path.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.%s%s", base, profile, ext)
}
