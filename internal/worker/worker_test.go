package worker

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codepr/sandboxeval/internal/sandbox"
)

// fakeAPI is a scripted stand-in for sandbox.API: it never touches a real
// Docker daemon, and writes results.json into the output directory a
// caller asks it to mount, mirroring the side effect a scoring image
// would have.
type fakeAPI struct {
	exitCode       int64
	waitDelay      time.Duration
	writeResultsTo func(RunSpec sandbox.RunSpec) string
}

func (f *fakeAPI) LoadImage(ctx context.Context, tarPath string) (string, error) { return "img", nil }

func (f *fakeAPI) CreateContainer(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	if f.writeResultsTo != nil {
		if target := f.writeResultsTo(spec); target != "" {
			_ = os.WriteFile(target, []byte(`{"indicator": [1]}`), 0o644)
		}
	}
	return "container-1", nil
}

func (f *fakeAPI) StartContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeAPI) Wait(ctx context.Context, containerID string) (int64, error) {
	select {
	case <-time.After(f.waitDelay):
		return f.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (f *fakeAPI) Stop(ctx context.Context, containerID string, graceSeconds int) error { return nil }

func (f *fakeAPI) Logs(ctx context.Context, containerID string) (string, error) { return "ok", nil }

func (f *fakeAPI) RemoveContainer(ctx context.Context, containerID string) error { return nil }

func (f *fakeAPI) RemoveImage(ctx context.Context, imageID string) error { return nil }

func (f *fakeAPI) ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error) {
	return nil, io.EOF
}

func findMountTarget(spec sandbox.RunSpec, target string) string {
	for _, m := range spec.Mounts {
		if m.Target == target {
			return m.Source
		}
	}
	return ""
}

func TestRunSuccessWithoutOrganizer(t *testing.T) {
	outputDir := t.TempDir()
	api := &fakeAPI{
		exitCode:  0,
		waitDelay: time.Millisecond,
		writeResultsTo: func(spec sandbox.RunSpec) string {
			if src := findMountTarget(spec, "/output"); src != "" {
				return filepath.Join(src, "results.json")
			}
			return ""
		},
	}

	result := Run(context.Background(), api, Input{
		ImageTarPath: "image.tar",
		OutputDir:    outputDir,
		Participant:  StageLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
	})

	if result.Code != StatusSuccess.Code() {
		t.Errorf("expected SUCCESS, got code %d desc %q", result.Code, result.Desc)
	}
	if result.OrganizerResults != nil {
		t.Error("expected no organizer results when no organizer image is configured")
	}
}

func TestRunContainerErrorWithoutResultsFile(t *testing.T) {
	outputDir := t.TempDir()
	api := &fakeAPI{exitCode: 0, waitDelay: time.Millisecond}

	result := Run(context.Background(), api, Input{
		ImageTarPath: "image.tar",
		OutputDir:    outputDir,
		Participant:  StageLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
	})

	if result.Code != StatusContainerError.Code() {
		t.Errorf("expected CONTAINER_ERROR, got code %d", result.Code)
	}
}

func TestRunNonzeroExitIsContainerError(t *testing.T) {
	outputDir := t.TempDir()
	api := &fakeAPI{exitCode: 1, waitDelay: time.Millisecond}

	result := Run(context.Background(), api, Input{
		ImageTarPath: "image.tar",
		OutputDir:    outputDir,
		Participant:  StageLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
	})

	if result.Code != StatusContainerError.Code() {
		t.Errorf("expected CONTAINER_ERROR, got code %d", result.Code)
	}
}

func TestRunTimeout(t *testing.T) {
	outputDir := t.TempDir()
	api := &fakeAPI{exitCode: 0, waitDelay: 2 * time.Second}

	result := Run(context.Background(), api, Input{
		ImageTarPath: "image.tar",
		OutputDir:    outputDir,
		Participant:  StageLimits{TimeoutSeconds: 1, CPUCores: 1, MemLimitBytes: 1 << 30},
	})
	if result.Code != StatusTimeout.Code() {
		t.Errorf("expected TIMEOUT when the container outlives its timeout budget, got code %d", result.Code)
	}
}

func TestRunOrganizerStageRunsAfterParticipantContainerError(t *testing.T) {
	outputDir := t.TempDir()
	organizerOutputDir := t.TempDir()

	calls := 0
	api := &fakeAPI{
		exitCode:  1, // participant container fails
		waitDelay: time.Millisecond,
		writeResultsTo: func(spec sandbox.RunSpec) string {
			calls++
			if calls == 1 {
				return "" // participant stage: never produces results.json
			}
			if src := findMountTarget(spec, "/output"); src != "" {
				return filepath.Join(src, "results.json")
			}
			return ""
		},
	}

	result := Run(context.Background(), api, Input{
		ImageTarPath:          "image.tar",
		OutputDir:             outputDir,
		OrganizerImageTarPath: "organizer.tar",
		OrganizerOutputDir:    organizerOutputDir,
		Participant:           StageLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
		Organizer:             StageLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
	})

	if result.Code != StatusContainerError.Code() {
		t.Errorf("expected participant CONTAINER_ERROR to survive, got code %d", result.Code)
	}
	if result.OrganizerResults == nil {
		t.Fatal("expected the organizer stage to have produced results despite the participant failing")
	}
	raw, _ := json.Marshal(result.OrganizerResults)
	if string(raw) == "" {
		t.Error("expected non-empty organizer results JSON")
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		status StatusCode
		code   int
	}{
		{StatusSuccess, 0},
		{StatusTimeout, 1},
		{StatusContainerError, 2},
		{StatusError, 3},
	}
	for _, c := range cases {
		if c.status.Code() != c.code {
			t.Errorf("%s.Code() = %d, want %d", c.status, c.status.Code(), c.code)
		}
		if c.status.Desc() == "" {
			t.Errorf("%s.Desc() is empty", c.status)
		}
	}
}
