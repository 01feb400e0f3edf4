// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/jllopis/kairos-ci/pkg/errors"
	"github.com/jllopis/kairos-ci/pkg/telemetry"
)

// ContainerWorkDir is where the work directory is mounted inside containers.
const ContainerWorkDir = "/workspace"

const labelPrefix = "kairos-ci"

// dockerAPI is the subset of the Docker client the executor uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Docker runs each block in a fresh container with WorkDir bind-mounted at
// /workspace. Containers are removed after every block.
type Docker struct {
	Image   string
	WorkDir string
	Timeout time.Duration
	Metrics *telemetry.ConversationMetrics
	Logger  *slog.Logger

	api      dockerAPI
	pullOnce sync.Once
}

// NewDocker connects to the Docker daemon configured in the environment.
func NewDocker(imageRef, workDir string, timeout time.Duration) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "connect to docker", err)
	}
	return newDockerWithAPI(cli, imageRef, workDir, timeout)
}

func newDockerWithAPI(api dockerAPI, imageRef, workDir string, timeout time.Duration) (*Docker, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "resolve work directory", err).WithContext("work_dir", workDir)
	}
	return &Docker{Image: imageRef, WorkDir: abs, Timeout: timeout, Logger: slog.Default(), api: api}, nil
}

// Name implements Executor.
func (d *Docker) Name() string { return "docker" }

// Execute implements Executor.
func (d *Docker) Execute(ctx context.Context, blocks []CodeBlock) (Result, error) {
	d.pullOnce.Do(func() { d.pull(ctx) })
	return runBlocks(ctx, d.Name(), d.Metrics, blocks, d.runBlock)
}

// pull is best effort: a failed pull leaves any local copy of the image usable.
func (d *Docker) pull(ctx context.Context) {
	rc, err := d.api.ImagePull(ctx, d.Image, image.PullOptions{})
	if err != nil {
		d.logger().WarnContext(ctx, "image pull failed", "image", d.Image, "error", err)
		return
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
}

func (d *Docker) runBlock(ctx context.Context, block CodeBlock) (blockOutcome, error) {
	program, _ := interpreter(block.Language)
	name := fmt.Sprintf("%s-%s", labelPrefix, uuid.NewString()[:8])

	cfg := &container.Config{
		Image:      d.Image,
		Cmd:        []string{program, "-c", block.Code},
		WorkingDir: ContainerWorkDir,
		Labels: map[string]string{
			labelPrefix + ".managed":  "true",
			labelPrefix + ".language": block.Language,
		},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{d.WorkDir + ":" + ContainerWorkDir},
	}

	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return blockOutcome{}, errors.New(errors.CodeExecution, "create container", err).
			WithContext("image", d.Image)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := d.api.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			d.logger().WarnContext(ctx, "container remove failed", "container", name, "error", err)
		}
	}()

	if err := d.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return blockOutcome{}, errors.New(errors.CodeExecution, "start container", err).
			WithContext("container", name)
	}

	waitCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	exitCode := 0
	timedOut := false
	statusCh, errCh := d.api.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
		if status.Error != nil && status.Error.Message != "" {
			return blockOutcome{}, errors.New(errors.CodeExecution, "wait for container", stderrors.New(status.Error.Message))
		}
	case err := <-errCh:
		switch {
		case ctx.Err() != nil:
			return blockOutcome{}, errors.New(errors.CodeTimeout, "code execution cancelled", ctx.Err())
		case waitCtx.Err() != nil:
			timedOut = true
			exitCode = TimeoutExitCode
		default:
			return blockOutcome{}, errors.New(errors.CodeExecution, "wait for container", err)
		}
	}

	output, err := d.logs(context.WithoutCancel(ctx), resp.ID)
	if err != nil {
		return blockOutcome{}, err
	}
	if timedOut {
		d.logger().WarnContext(ctx, "code block timed out", "container", name, "timeout", d.Timeout)
		output += "\nTimeout"
	}
	return blockOutcome{exitCode: exitCode, output: output}, nil
}

func (d *Docker) logs(ctx context.Context, containerID string) (string, error) {
	rc, err := d.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", errors.New(errors.CodeExecution, "read container logs", err)
	}
	defer rc.Close()
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return "", errors.New(errors.CodeExecution, "demultiplex container logs", err)
	}
	return out.String(), nil
}

func (d *Docker) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

var _ Executor = (*Docker)(nil)
