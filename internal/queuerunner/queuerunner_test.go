package queuerunner

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/codepr/sandboxeval/internal/config"
	"github.com/codepr/sandboxeval/internal/queue"
	"github.com/codepr/sandboxeval/internal/sandbox"
	"github.com/codepr/sandboxeval/internal/store"
	"github.com/codepr/sandboxeval/internal/worker"
)

// fakeAPI never contacts a daemon: participant containers exit 0 and
// write a results.json into whatever directory is mounted at /output.
type fakeAPI struct{}

func (fakeAPI) LoadImage(ctx context.Context, tarPath string) (string, error) { return "img", nil }

func (fakeAPI) CreateContainer(ctx context.Context, spec sandbox.RunSpec) (string, error) {
	for _, m := range spec.Mounts {
		if m.Target == "/output" && !m.ReadOnly {
			_ = os.WriteFile(filepath.Join(m.Source, "results.json"), []byte(`{"indicator":[]}`), 0o644)
		}
	}
	return "container-1", nil
}

func (fakeAPI) StartContainer(ctx context.Context, containerID string) error { return nil }

func (fakeAPI) Wait(ctx context.Context, containerID string) (int64, error) { return 0, nil }

func (fakeAPI) Stop(ctx context.Context, containerID string, graceSeconds int) error { return nil }

func (fakeAPI) Logs(ctx context.Context, containerID string) (string, error) { return "", nil }

func (fakeAPI) RemoveContainer(ctx context.Context, containerID string) error { return nil }

func (fakeAPI) RemoveImage(ctx context.Context, imageID string) error { return nil }

func (fakeAPI) ContainerStats(ctx context.Context, containerID string, stream bool) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	base := t.TempDir()
	s := store.New(base)
	q := queue.New(filepath.Join(t.TempDir(), "queue.json"))
	cfg := &config.Config{
		Participant: config.ResourceLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
		Organizer:   config.ResourceLimits{TimeoutSeconds: 5, CPUCores: 1, MemLimitBytes: 1 << 30},
	}
	return &Runner{Queue: q, Store: s, Docker: fakeAPI{}, Config: cfg, Log: testLogger()}, base
}

func TestProcessTaskTransitionsToSuccess(t *testing.T) {
	r, base := newTestRunner(t)
	contestID := "AE20260731-000"
	submissionDir := filepath.Join(base, contestID, "evaluation", "submissions", "submission_1")
	if _, err := r.Store.MaterializeSubmissionDirs(submissionDir); err != nil {
		t.Fatalf("MaterializeSubmissionDirs: %s", err)
	}
	if err := r.Store.AppendSubmissionRecord(contestID, store.SubmissionRecord{
		SubmissionID: "1",
		StatusCode:   "QUEUED",
	}); err != nil {
		t.Fatalf("AppendSubmissionRecord: %s", err)
	}

	task := queue.Task{
		SubmissionID:  "1",
		ContestID:     contestID,
		SubmissionDir: submissionDir,
		ImageTarPath:  "image.tar",
	}
	r.process(context.Background(), task)

	subs, err := r.Store.ListSubmissions(contestID)
	if err != nil {
		t.Fatalf("ListSubmissions: %s", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(subs))
	}
	if subs[0].StatusCode != strconv.Itoa(worker.StatusSuccess.Code()) {
		t.Errorf("expected SUCCESS code, got %s (%s)", subs[0].StatusCode, subs[0].StatusDesc)
	}

	if _, err := os.Stat(filepath.Join(submissionDir, store.ParticipantLogsFile)); err != nil {
		t.Errorf("expected participant logs to be written: %s", err)
	}
}

func TestRecoverOrphansDowngradesStaleRunning(t *testing.T) {
	r, base := newTestRunner(t)
	contestID := "AE20260731-000"
	submissionDir := filepath.Join(base, contestID, "evaluation", "submissions", "submission_9")
	if _, err := r.Store.MaterializeSubmissionDirs(submissionDir); err != nil {
		t.Fatalf("MaterializeSubmissionDirs: %s", err)
	}
	if err := r.Store.AppendSubmissionRecord(contestID, store.SubmissionRecord{
		SubmissionID: "9",
		StatusCode:   "RUNNING",
	}); err != nil {
		t.Fatalf("AppendSubmissionRecord: %s", err)
	}

	r.RecoverOrphans([]string{contestID})

	subs, err := r.Store.ListSubmissions(contestID)
	if err != nil {
		t.Fatalf("ListSubmissions: %s", err)
	}
	if subs[0].StatusCode != strconv.Itoa(worker.StatusError.Code()) {
		t.Errorf("expected orphan to be downgraded to ERROR, got %s", subs[0].StatusCode)
	}
}

func TestRecoverOrphansLeavesInFlightTasksAlone(t *testing.T) {
	r, base := newTestRunner(t)
	contestID := "AE20260731-000"
	submissionDir := filepath.Join(base, contestID, "evaluation", "submissions", "submission_5")
	if _, err := r.Store.MaterializeSubmissionDirs(submissionDir); err != nil {
		t.Fatalf("MaterializeSubmissionDirs: %s", err)
	}
	if err := r.Store.AppendSubmissionRecord(contestID, store.SubmissionRecord{
		SubmissionID: "5",
		StatusCode:   "RUNNING",
	}); err != nil {
		t.Fatalf("AppendSubmissionRecord: %s", err)
	}
	if _, err := r.Queue.Enqueue(queue.Task{SubmissionID: "5", ContestID: contestID}); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}

	r.RecoverOrphans([]string{contestID})

	subs, err := r.Store.ListSubmissions(contestID)
	if err != nil {
		t.Fatalf("ListSubmissions: %s", err)
	}
	if subs[0].StatusCode != "RUNNING" {
		t.Errorf("expected in-flight submission to stay RUNNING, got %s", subs[0].StatusCode)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
