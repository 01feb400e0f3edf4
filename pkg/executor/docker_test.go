// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainer struct {
	stdout, stderr string
	exitCode       int64
	hang           bool
}

type fakeDocker struct {
	mu      sync.Mutex
	runs    []fakeContainer
	created []*container.Config
	hosts   []*container.HostConfig
	removed []string
	pulls   int
	pullErr error
	next    int
}

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, cfg)
	f.hosts = append(f.hosts, host)
	return container.CreateResponse{ID: name}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeDocker) current() fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[f.next]
}

func (f *fakeDocker) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	run := f.current()
	if run.hang {
		go func() {
			<-ctx.Done()
			errCh <- ctx.Err()
		}()
	} else {
		statusCh <- container.WaitResponse{StatusCode: run.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	run := f.current()
	var buf bytes.Buffer
	if run.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(run.stdout))
	}
	if run.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(run.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	f.next++
	return nil
}

func TestDockerRunsBlocksInContainers(t *testing.T) {
	fake := &fakeDocker{runs: []fakeContainer{
		{stdout: "ok\n"},
		{stdout: "partial\n", stderr: "boom\n", exitCode: 2},
		{stdout: "never"},
	}}
	d, err := newDockerWithAPI(fake, "python:3.12-slim", "/tmp/repo", time.Minute)
	require.NoError(t, err)

	res, err := d.Execute(context.Background(), []CodeBlock{
		{Language: "sh", Code: "ls"},
		{Language: "python", Code: "raise SystemExit(2)"},
		{Language: "sh", Code: "echo never"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, 2, res.Blocks)
	assert.Equal(t, "ok\n\npartial\nboom\n", res.Output)

	require.Len(t, fake.created, 2)
	assert.Equal(t, []string{"sh", "-c", "ls"}, []string(fake.created[0].Cmd))
	assert.Equal(t, []string{"python3", "-c", "raise SystemExit(2)"}, []string(fake.created[1].Cmd))
	assert.Equal(t, ContainerWorkDir, fake.created[0].WorkingDir)
	assert.Equal(t, "python:3.12-slim", fake.created[0].Image)
	assert.Equal(t, []string{"/tmp/repo:/workspace"}, fake.hosts[0].Binds)
	assert.Len(t, fake.removed, 2)
	assert.Equal(t, 1, fake.pulls)
}

func TestDockerTimeout(t *testing.T) {
	fake := &fakeDocker{runs: []fakeContainer{{stdout: "working\n", hang: true}}}
	d, err := newDockerWithAPI(fake, "alpine", "/tmp/repo", 50*time.Millisecond)
	require.NoError(t, err)

	res, err := d.Execute(context.Background(), []CodeBlock{{Language: "sh", Code: "sleep 60"}})
	require.NoError(t, err)
	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.Equal(t, "working\n\nTimeout", res.Output)
	assert.Len(t, fake.removed, 1)
}

func TestDockerPullFailureIsNotFatal(t *testing.T) {
	fake := &fakeDocker{runs: []fakeContainer{{stdout: "hi"}}, pullErr: stderrors.New("offline")}
	d, err := newDockerWithAPI(fake, "alpine", "/tmp/repo", time.Minute)
	require.NoError(t, err)

	res, err := d.Execute(context.Background(), []CodeBlock{{Language: "sh", Code: "echo hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output)
}
