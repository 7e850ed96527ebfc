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

package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/codepr/sandboxeval/internal/rules"
	"github.com/codepr/sandboxeval/internal/sandbox"
)

// StageLimits are the resource limits applied to a single container run.
type StageLimits struct {
	TimeoutSeconds int
	CPUCores       int
	MemLimitBytes  int64
}

func (l StageLimits) timeout() time.Duration { return time.Duration(l.TimeoutSeconds) * time.Second }
func (l StageLimits) nanoCPUs() int64        { return int64(l.CPUCores) * 1_000_000_000 }

// Input bundles everything one submission evaluation needs: paths are
// resolved by the caller (internal/store) so this package stays free of
// filesystem layout concerns beyond the mounts it builds.
type Input struct {
	ImageTarPath     string
	ContestDir       string
	OutputDir        string
	DatasetSourceDir string
	DatasetResultDir string

	OrganizerImageTarPath string
	OrganizerOutputDir    string

	ParticipantID string

	Participant StageLimits
	Organizer   StageLimits
}

// Result is the outcome handed back to the queue runner for persistence.
type Result struct {
	Code             int
	Desc             string
	ParticipantLogs  string
	ParticipantImage string
	OrganizerLogs    string
	OrganizerResults map[string]interface{}
	ParticipantID    string
}

// Run evaluates one submission: the participant's image, then the
// organizer's scoring image. The organizer stage always runs when an
// organizer image is configured, independent of how the participant
// stage concluded, so a participant crash never hides scoring feedback
// the organizer's own image might still produce against a docked score.
func Run(ctx context.Context, api sandbox.API, in Input) Result {
	status := StatusError
	var participantLogs string
	var wallTime time.Duration
	var participantSummary struct{ cpu, memory float64 }

	participantImageID, err := api.LoadImage(ctx, in.ImageTarPath)
	if err != nil {
		participantLogs = "failed to load participant image: " + err.Error()
	} else {
		defer api.RemoveImage(context.Background(), participantImageID)

		mounts := []sandbox.Mount{{Source: absOrEmpty(in.OutputDir), Target: "/output"}}
		if in.DatasetSourceDir != "" {
			if _, statErr := os.Stat(in.DatasetSourceDir); statErr == nil {
				mounts = append(mounts, sandbox.Mount{Source: absOrEmpty(in.DatasetSourceDir), Target: "/input", ReadOnly: true})
			}
		}

		res, runErr := sandbox.Run(ctx, api, sandbox.RunSpec{
			Image:         participantImageID,
			Mounts:        mounts,
			MemLimitBytes: in.Participant.MemLimitBytes,
			NanoCPUs:      in.Participant.nanoCPUs(),
			User:          "root",
			Timeout:       in.Participant.timeout(),
			Sample:        true,
		})
		participantLogs = res.Logs
		wallTime = res.WallTime
		participantSummary.cpu = res.MetricsSummary.CPUPeak
		participantSummary.memory = res.MetricsSummary.MemoryPeak

		switch {
		case runErr != nil:
			status = StatusError
		case res.TimedOut:
			status = StatusTimeout
		case res.ExitCode == 0:
			if _, statErr := os.Stat(filepath.Join(absOrEmpty(in.OutputDir), "results.json")); statErr == nil {
				status = StatusSuccess
			} else {
				status = StatusContainerError
				participantLogs = appendNote(participantLogs, "container exited 0 but produced no results.json")
			}
		default:
			status = StatusContainerError
		}
	}

	participantImageRel := in.ImageTarPath
	if in.ContestDir != "" {
		if rel, relErr := filepath.Rel(in.ContestDir, in.ImageTarPath); relErr == nil {
			participantImageRel = rel
		}
	}

	result := Result{
		Code:             status.Code(),
		Desc:             status.Desc(),
		ParticipantLogs:  participantLogs,
		ParticipantImage: participantImageRel,
		ParticipantID:    in.ParticipantID,
	}

	if in.OrganizerImageTarPath == "" {
		return result
	}

	organizerLogs, organizerResults, downgraded := runOrganizerStage(ctx, api, in, wallTime, participantSummary.cpu, participantSummary.memory)
	result.OrganizerLogs = organizerLogs
	result.OrganizerResults = organizerResults
	if downgraded {
		result.Code = StatusContainerError.Code()
		result.Desc = StatusContainerError.Desc()
	}
	return result
}

func runOrganizerStage(ctx context.Context, api sandbox.API, in Input, participantRuntime time.Duration, cpuPeak, memoryPeak float64) (logs string, results map[string]interface{}, downgraded bool) {
	imageID, err := api.LoadImage(ctx, in.OrganizerImageTarPath)
	if err != nil {
		return "failed to load organizer image: " + err.Error(), nil, false
	}
	defer api.RemoveImage(context.Background(), imageID)

	if err := os.MkdirAll(in.OrganizerOutputDir, 0o755); err != nil {
		return "failed to prepare organizer output directory: " + err.Error(), nil, false
	}

	mounts := []sandbox.Mount{
		{Source: absOrEmpty(in.OutputDir), Target: "/input", ReadOnly: true},
		{Source: absOrEmpty(in.OrganizerOutputDir), Target: "/output"},
	}
	if in.DatasetResultDir != "" {
		if _, statErr := os.Stat(in.DatasetResultDir); statErr == nil {
			mounts = append(mounts, sandbox.Mount{Source: absOrEmpty(in.DatasetResultDir), Target: "/result", ReadOnly: true})
		}
	}

	res, runErr := sandbox.Run(ctx, api, sandbox.RunSpec{
		Image:         imageID,
		Mounts:        mounts,
		MemLimitBytes: in.Organizer.MemLimitBytes,
		NanoCPUs:      in.Organizer.nanoCPUs(),
		User:          "root",
		Timeout:       in.Organizer.timeout(),
	})
	logs = res.Logs
	if runErr != nil {
		logs = appendNote(logs, "organizer container wait error: "+runErr.Error())
	}

	resultPath := filepath.Join(in.OrganizerOutputDir, "results.json")
	validated, err := rules.ValidateOrganizerResults(resultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return appendNote(logs, "organizer produced no results.json"), nil, true
		}
		return appendNote(logs, "organizer results validation failed: "+err.Error()), nil, true
	}

	enriched := rules.AddRuntimeInfo(validated, cpuPeak, memoryPeak, participantRuntime.Seconds())
	if data, marshalErr := json.MarshalIndent(enriched, "", "  "); marshalErr == nil {
		_ = os.WriteFile(resultPath, data, 0o644)
	}

	return logs, enriched, false
}

func appendNote(logs, note string) string {
	if logs == "" {
		return note
	}
	return logs + "\n" + note
}

func absOrEmpty(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
