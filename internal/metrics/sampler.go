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

package metrics

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// DefaultInterval is the sampling period used when a Sampler is built with
// a zero interval.
const DefaultInterval = 200 * time.Millisecond

// stopDrainTimeout bounds how long Stop waits for the sampling goroutine
// to observe the stop signal and exit.
const stopDrainTimeout = 2 * time.Second

// StatsReader is satisfied by a Docker client's ContainerStats method. It
// is isolated here so the sampler can be exercised against a fake in
// tests without a live daemon.
type StatsReader interface {
	ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error)
}

// Sample is one CPU/memory observation.
type Sample struct {
	CPUPercent float64
	MemoryMB   float64
}

// Summary is the peak CPU and memory usage observed across a sampling run.
type Summary struct {
	CPUPeak    float64 `json:"cpu"`
	MemoryPeak float64 `json:"memory"`
}

// Sampler polls a running container's stats endpoint on a fixed interval
// and keeps a peak-seeking summary of CPU% and memory usage.
type Sampler struct {
	containerID string
	client      StatsReader
	interval    time.Duration

	mu      sync.Mutex
	samples []Sample

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSampler builds a Sampler for containerID. interval <= 0 falls back to
// DefaultInterval.
func NewSampler(client StatsReader, containerID string, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		containerID: containerID,
		client:      client,
		interval:    interval,
	}
}

// Start launches the sampling goroutine. It returns immediately; samples
// accumulate until Stop is called or ctx is cancelled.
func (s *Sampler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(ctx)
}

// Stop signals the sampling goroutine to exit and waits up to
// stopDrainTimeout for it to do so. It is safe to call Stop without a
// prior Start having observed any samples.
func (s *Sampler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(stopDrainTimeout):
	}
}

// GetSummary returns the peak CPU% and peak memory (MB) observed so far.
// With two or more samples, zero-valued readings are discarded before
// taking the peak (falling back to the unfiltered peak if that would
// discard everything); with fewer than two samples, no filtering applies.
func (s *Sampler) GetSummary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return summarize(s.samples)
}

func summarize(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	cpus := make([]float64, len(samples))
	mems := make([]float64, len(samples))
	for i, sample := range samples {
		cpus[i] = sample.CPUPercent
		mems[i] = sample.MemoryMB
	}
	return Summary{
		CPUPeak:    peak(cpus, len(samples) >= 2),
		MemoryPeak: peak(mems, len(samples) >= 2),
	}
}

func peak(values []float64, filterZero bool) float64 {
	candidates := values
	if filterZero {
		nonZero := make([]float64, 0, len(values))
		for _, v := range values {
			if v != 0 {
				nonZero = append(nonZero, v)
			}
		}
		if len(nonZero) > 0 {
			candidates = nonZero
		}
	}
	max := 0.0
	for _, v := range candidates {
		if v > max {
			max = v
		}
	}
	return max
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var prev *statsPayload
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := s.fetch(ctx)
			if err != nil {
				continue
			}
			sample := toSample(prev, payload)
			s.mu.Lock()
			s.samples = append(s.samples, sample)
			s.mu.Unlock()
			prev = payload
		}
	}
}

func (s *Sampler) fetch(ctx context.Context) (*statsPayload, error) {
	body, err := s.client.ContainerStats(ctx, s.containerID, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var payload statsPayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func toSample(prev *statsPayload, cur *statsPayload) Sample {
	return Sample{
		CPUPercent: cpuPercent(prev, cur),
		MemoryMB:   float64(cur.MemoryStats.Usage) / 1024 / 1024,
	}
}

// cpuPercent computes the instantaneous CPU percentage as the ratio of the
// delta in container CPU time to the delta in system CPU time, scaled by
// the online CPU count and clamped to [0, 100*cpuCount]. When prev is nil
// (first sample) both deltas are taken against the payload's own
// precpu_stats field, since a single non-streaming stats call reports both
// the current and the immediately preceding counters in one shot.
func cpuPercent(prev *statsPayload, cur *statsPayload) float64 {
	cpuCount := float64(cur.onlineCPUCount())

	var cpuDelta, systemDelta float64
	if prev != nil {
		cpuDelta = float64(cur.CPUStats.CPUUsage.TotalUsage) - float64(prev.CPUStats.CPUUsage.TotalUsage)
		systemDelta = float64(cur.CPUStats.SystemCPUUsage) - float64(prev.CPUStats.SystemCPUUsage)
	} else {
		cpuDelta = float64(cur.CPUStats.CPUUsage.TotalUsage) - float64(cur.PrecpuStats.CPUUsage.TotalUsage)
		systemDelta = float64(cur.CPUStats.SystemCPUUsage) - float64(cur.PrecpuStats.SystemCPUUsage)
	}

	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}

	percent := (cpuDelta / systemDelta) * cpuCount * 100
	max := 100 * cpuCount
	if percent > max {
		return max
	}
	if percent < 0 {
		return 0
	}
	return percent
}
