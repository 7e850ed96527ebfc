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

// Package sweep periodically removes dangling Docker resources left behind
// by evaluations: every exited container, and untagged images past a
// configured age. It runs independently of the queue runner, ticking on its own
// schedule rather than being driven by task processing.
package sweep

import (
	"context"
	"log"
	"time"
)

// ImageInfo is the subset of a Docker image listing this package acts on.
type ImageInfo struct {
	ID      string
	Tags    []string
	Created time.Time
}

// ContainerInfo is the subset of a Docker container listing this package
// acts on.
type ContainerInfo struct {
	ID     string
	Status string
}

// DockerLister is the Docker Engine surface the sweeper needs: listing and
// force-removing stopped containers and untagged images. It is kept
// separate from sandbox.API because the sweeper's concerns (inventory,
// age-based retention) are orthogonal to running a single evaluation
// container.
type DockerLister interface {
	ListExitedContainers(ctx context.Context) ([]ContainerInfo, error)
	ListImages(ctx context.Context) ([]ImageInfo, error)
	RemoveContainer(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, id string) error
}

// Sweeper periodically removes dangling containers and aged, untagged
// images left behind by evaluation runs.
type Sweeper struct {
	Docker   DockerLister
	Interval time.Duration
	MaxAge   time.Duration
	Log      *log.Logger
}

// New builds a Sweeper. interval and maxAge are already resolved
// time.Duration values (config.Config stores them as hours).
func New(docker DockerLister, interval, maxAge time.Duration, l *log.Logger) *Sweeper {
	return &Sweeper{Docker: docker, Interval: interval, MaxAge: maxAge, Log: l}
}

// Run ticks forever until ctx is cancelled, running one cleanup pass per
// tick. A failed pass is logged and never stops the ticker.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Printf("dangling resource sweeper started (interval %s, max age %s)", s.Interval, s.MaxAge)
	for {
		select {
		case <-ctx.Done():
			s.Log.Println("dangling resource sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	s.Log.Println("running periodic docker cleanup")
	if err := s.cleanupDanglingContainers(ctx); err != nil {
		s.Log.Printf("cleanup containers failed: %s", err)
	}
	if err := s.cleanupOldImages(ctx); err != nil {
		s.Log.Printf("cleanup images failed: %s", err)
	}
}

func (s *Sweeper) cleanupDanglingContainers(ctx context.Context) error {
	containers, err := s.Docker.ListExitedContainers(ctx)
	if err != nil {
		return err
	}
	removed := 0
	for _, c := range containers {
		if err := s.Docker.RemoveContainer(ctx, c.ID); err != nil {
			s.Log.Printf("failed to remove exited container %s: %s", c.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.Log.Printf("removed %d exited containers", removed)
	}
	return nil
}

func (s *Sweeper) cleanupOldImages(ctx context.Context) error {
	images, err := s.Docker.ListImages(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.MaxAge)
	removed := 0
	for _, img := range images {
		if !isUntagged(img) || !img.Created.Before(cutoff) {
			continue
		}
		if err := s.Docker.RemoveImage(ctx, img.ID); err != nil {
			s.Log.Printf("failed to remove old image %s: %s", img.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.Log.Printf("removed %d old images", removed)
	}
	return nil
}

func isUntagged(img ImageInfo) bool {
	if len(img.Tags) == 0 {
		return true
	}
	for _, tag := range img.Tags {
		if tag != "<none>:<none>" {
			return false
		}
	}
	return true
}
