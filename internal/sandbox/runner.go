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

package sandbox

import (
	"context"
	"time"

	"github.com/codepr/sandboxeval/internal/metrics"
)

// Mount is a single bind mount into a container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes a single-use, network-disabled container run.
type RunSpec struct {
	Image         string
	Mounts        []Mount
	MemLimitBytes int64
	NanoCPUs      int64
	User          string
	Timeout       time.Duration
	Sample        bool
}

// Result is the outcome of running one container to completion.
type Result struct {
	ExitCode        int64
	TimedOut        bool
	Logs            string
	WallTime        time.Duration
	MetricsSummary  metrics.Summary
	ContainerLaunch error
}

// stopGraceSeconds bounds how long a timed-out container gets to shut
// down cleanly before Stop escalates to SIGKILL.
const stopGraceSeconds = 10

// postStopDrain is the pause given to the sampler after the wait loop
// returns and before it is stopped, so a sampling tick that falls in that
// window is still recorded. A container that exits before the sampler's
// first tick yields no samples.
const postStopDrain = 100 * time.Millisecond

// Run loads nothing; it creates, starts, waits on and tears down a
// container already identified by spec.Image (an image ID or tag):
// create -> start -> wait-with-timeout -> stop-if-timed-out -> collect
// logs -> force-remove the container. The caller is responsible for
// loading and removing the image itself, since an image can be shared by
// both stages at once.
func Run(ctx context.Context, api API, spec RunSpec) (Result, error) {
	containerID, err := api.CreateContainer(ctx, spec)
	if err != nil {
		return Result{ContainerLaunch: err}, err
	}
	defer api.RemoveContainer(context.Background(), containerID)

	if err := api.StartContainer(ctx, containerID); err != nil {
		return Result{ContainerLaunch: err}, err
	}

	var sampler *metrics.Sampler
	if spec.Sample {
		sampler = metrics.NewSampler(api, containerID, 0)
		sampler.Start(ctx)
	}

	start := time.Now()
	exitCode, timedOut, waitErr := waitWithTimeout(ctx, api, containerID, spec.Timeout)
	wallTime := time.Since(start)

	if timedOut {
		api.Stop(context.Background(), containerID, stopGraceSeconds)
	}

	time.Sleep(postStopDrain)
	var summary metrics.Summary
	if sampler != nil {
		sampler.Stop()
		summary = sampler.GetSummary()
	}

	logs, _ := api.Logs(context.Background(), containerID)

	return Result{
		ExitCode:       exitCode,
		TimedOut:       timedOut,
		Logs:           logs,
		WallTime:       wallTime,
		MetricsSummary: summary,
	}, waitErr
}

type waitOutcome struct {
	exitCode int64
	err      error
}

// waitWithTimeout races ContainerWait against an independent timer: a
// slow container never blocks the evaluation past its budget.
func waitWithTimeout(ctx context.Context, api API, containerID string, timeout time.Duration) (exitCode int64, timedOut bool, err error) {
	resultCh := make(chan waitOutcome, 1)
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		code, werr := api.Wait(waitCtx, containerID)
		resultCh <- waitOutcome{code, werr}
	}()

	if timeout <= 0 {
		res := <-resultCh
		return res.exitCode, false, res.err
	}

	select {
	case res := <-resultCh:
		return res.exitCode, false, res.err
	case <-time.After(timeout):
		cancel()
		return -1, true, nil
	}
}
