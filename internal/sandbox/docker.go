// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package sandbox drives the Docker Engine API to load, run and tear down
// the single-use containers an evaluation needs: one for the participant's
// submitted image, one for the organizer's scoring image.
package sandbox

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
)

// API is the subset of the Docker Engine API this package drives. It is
// isolated behind an interface so the orchestration in runner.go can be
// exercised against a fake without a live daemon.
type API interface {
	LoadImage(ctx context.Context, tarPath string) (imageID string, err error)
	CreateContainer(ctx context.Context, spec RunSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	Wait(ctx context.Context, containerID string) (exitCode int64, err error)
	Stop(ctx context.Context, containerID string, graceSeconds int) error
	Logs(ctx context.Context, containerID string) (string, error)
	RemoveContainer(ctx context.Context, containerID string) error
	RemoveImage(ctx context.Context, imageID string) error
	ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error)
}

// dockerAPI adapts a real *dockerclient.Client to API.
type dockerAPI struct {
	cli *dockerclient.Client
}

// NewClient builds an API backed by the Docker daemon reachable through
// the environment (DOCKER_HOST and friends), negotiating the API version
// with the daemon on connect.
func NewClient() (API, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &dockerAPI{cli: cli}, nil
}

func (d *dockerAPI) LoadImage(ctx context.Context, tarPath string) (string, error) {
	f, err := openFile(tarPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	resp, err := d.cli.ImageLoad(ctx, f, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return parseLoadedImageID(resp.Body)
}

func (d *dockerAPI) CreateContainer(ctx context.Context, spec RunSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cfg := &container.Config{
		Image: spec.Image,
		User:  spec.User,
	}
	hostCfg := &container.HostConfig{
		Mounts:         mounts,
		NetworkMode:    container.NetworkMode("none"),
		AutoRemove:     false,
		Resources: container.Resources{
			Memory:   spec.MemLimitBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *dockerAPI) StartContainer(ctx context.Context, containerID string) error {
	return d.cli.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (d *dockerAPI) Wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errString(status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

func (d *dockerAPI) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	return d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSeconds})
}

func (d *dockerAPI) Logs(ctx context.Context, containerID string) (string, error) {
	out, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer out.Close()
	return demuxLogs(out)
}

func (d *dockerAPI) RemoveContainer(ctx context.Context, containerID string) error {
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (d *dockerAPI) RemoveImage(ctx context.Context, imageID string) error {
	_, err := d.cli.ImageRemove(ctx, imageID, types.ImageRemoveOptions{Force: true})
	return err
}

func (d *dockerAPI) ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error) {
	stats, err := d.cli.ContainerStats(ctx, containerID, stream)
	if err != nil {
		return nil, err
	}
	return stats.Body, nil
}

// parseLoadedImageID extracts the image reference from an `ImageLoad`
// response stream. The daemon reports either "Loaded image ID: sha256:..."
// or "Loaded image: name:tag" depending on whether the tarball carried a
// repo tag.
func parseLoadedImageID(body io.Reader) (string, error) {
	data, err := readAll(body)
	if err != nil {
		return "", err
	}
	text := string(data)
	for _, marker := range []string{"Loaded image ID: ", "Loaded image: "} {
		if idx := strings.Index(text, marker); idx >= 0 {
			rest := text[idx+len(marker):]
			if end := strings.IndexAny(rest, "\r\n\"\\"); end >= 0 {
				rest = rest[:end]
			}
			return strings.TrimSpace(rest), nil
		}
	}
	return "", errString("unable to determine loaded image reference from daemon response")
}
