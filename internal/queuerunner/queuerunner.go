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

// Package queuerunner drains the task queue forever, running each task's
// evaluation and persisting its artifacts, never dying on a single task's
// failure.
package queuerunner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/codepr/sandboxeval/internal/config"
	"github.com/codepr/sandboxeval/internal/queue"
	"github.com/codepr/sandboxeval/internal/sandbox"
	"github.com/codepr/sandboxeval/internal/store"
	"github.com/codepr/sandboxeval/internal/worker"
)

// idleSleep is how long the loop waits before re-checking an empty queue.
const idleSleep = 1 * time.Second

// errorBackoff is how long the loop waits after an unexpected error before
// retrying, so a transient failure never spins the loop hot.
const errorBackoff = 2 * time.Second

// Runner drains queue.Queue and drives worker.Run for each task.
type Runner struct {
	Queue  *queue.Queue
	Store  *store.Store
	Docker sandbox.API
	Config *config.Config
	Log    *log.Logger
}

// RecoverOrphans downgrades any submission left RUNNING by a crashed
// previous process to ERROR: if a submission's status is RUNNING but no
// task in the queue still names it, nothing will ever advance it past
// that state again.
func (r *Runner) RecoverOrphans(contestIDs []string) {
	queued, err := r.Queue.Peek()
	if err != nil {
		r.Log.Printf("orphan recovery: failed to read queue: %s", err)
		return
	}
	inFlight := make(map[string]bool, len(queued))
	for _, t := range queued {
		inFlight[t.SubmissionID] = true
	}

	for _, contestID := range contestIDs {
		subs, err := r.Store.ListSubmissions(contestID)
		if err != nil {
			continue
		}
		for _, sub := range subs {
			if sub.StatusCode != "RUNNING" || inFlight[sub.SubmissionID] {
				continue
			}
			r.Log.Printf("recovering orphaned submission %s/%s from RUNNING to ERROR", contestID, sub.SubmissionID)
			if err := r.Store.UpdateSubmissionStatus(contestID, sub.SubmissionID, strconv.Itoa(worker.StatusError.Code()), "submission left running across a restart"); err != nil {
				r.Log.Printf("orphan recovery: failed to update %s/%s: %s", contestID, sub.SubmissionID, err)
			}
		}
	}
}

// Run drains the queue until ctx is cancelled. It never returns an error:
// any failure inside a single task's processing is logged and the loop
// continues.
func (r *Runner) Run(ctx context.Context) {
	r.Log.Println("queue runner started")
	for {
		select {
		case <-ctx.Done():
			r.Log.Println("queue runner stopped")
			return
		default:
		}

		task, ok, err := r.Queue.Dequeue()
		if err != nil {
			r.Log.Printf("queue runner error: %s", err)
			sleepOrDone(ctx, errorBackoff)
			continue
		}
		if !ok {
			sleepOrDone(ctx, idleSleep)
			continue
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.Log.Printf("queue runner: recovered from panic processing %s: %v", task.SubmissionID, rec)
					r.finish(task, worker.StatusError.Code(), fmt.Sprintf("processing panic: %v", rec), worker.Result{})
				}
			}()
			r.process(ctx, task)
		}()
	}
}

func (r *Runner) process(ctx context.Context, task queue.Task) {
	r.Log.Printf("processing task %s", task.SubmissionID)
	if err := r.Store.UpdateSubmissionStatus(task.ContestID, task.SubmissionID, "RUNNING", "evaluating..."); err != nil {
		r.Log.Printf("failed to mark %s RUNNING: %s", task.SubmissionID, err)
	}

	in := r.buildInput(task)
	result := worker.Run(ctx, r.Docker, in)

	r.finish(task, result.Code, result.Desc, result)
}

func (r *Runner) finish(task queue.Task, code int, desc string, result worker.Result) {
	r.saveArtifacts(task, result)
	if err := r.Store.UpdateSubmissionStatus(task.ContestID, task.SubmissionID, strconv.Itoa(code), desc); err != nil {
		r.Log.Printf("failed to update final status for %s: %s", task.SubmissionID, err)
	}
	r.Log.Printf("finished task %s -> %d (%s)", task.SubmissionID, code, desc)
}

func (r *Runner) buildInput(task queue.Task) worker.Input {
	organizerTar, _ := r.Store.OrganizerImageTarPath(task.ContestID)
	overrides, _ := config.LoadOverrides(r.Store.EvalOverridePath(task.ContestID))

	participant := r.Config.Participant
	organizer := r.Config.Organizer
	if overrides != nil {
		if merged, err := participant.Apply(overrides.Participant); err == nil {
			participant = merged
		}
		if merged, err := organizer.Apply(overrides.Organizer); err == nil {
			organizer = merged
		}
	}

	layout := store.SubmissionLayout(task.SubmissionDir)

	return worker.Input{
		ImageTarPath:          task.ImageTarPath,
		ContestDir:            task.ContestDir,
		OutputDir:             layout.Output,
		DatasetSourceDir:      r.Store.DatasetSourceDir(task.ContestID),
		DatasetResultDir:      r.Store.DatasetResultDir(task.ContestID),
		OrganizerImageTarPath: organizerTar,
		OrganizerOutputDir:    layout.OrganizerOutput,
		ParticipantID:         task.ParticipantID,
		Participant: worker.StageLimits{
			TimeoutSeconds: participant.TimeoutSeconds,
			CPUCores:       participant.CPUCores,
			MemLimitBytes:  participant.MemLimitBytes,
		},
		Organizer: worker.StageLimits{
			TimeoutSeconds: organizer.TimeoutSeconds,
			CPUCores:       organizer.CPUCores,
			MemLimitBytes:  organizer.MemLimitBytes,
		},
	}
}

func (r *Runner) saveArtifacts(task queue.Task, result worker.Result) {
	if err := os.WriteFile(filepath.Join(task.SubmissionDir, store.ParticipantLogsFile), []byte(result.ParticipantLogs), 0o644); err != nil {
		r.Log.Printf("failed to write participant logs for %s: %s", task.SubmissionID, err)
	}
	if result.OrganizerLogs != "" {
		if err := os.WriteFile(filepath.Join(task.SubmissionDir, store.OrganizerLogsFile), []byte(result.OrganizerLogs), 0o644); err != nil {
			r.Log.Printf("failed to write organizer logs for %s: %s", task.SubmissionID, err)
		}
	}
	if result.OrganizerResults != nil {
		data, err := json.MarshalIndent(result.OrganizerResults, "", "  ")
		if err == nil {
			if err := os.WriteFile(filepath.Join(task.SubmissionDir, store.OrganizerResultsFile), data, 0o644); err != nil {
				r.Log.Printf("failed to write organizer results for %s: %s", task.SubmissionID, err)
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
