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

package ingress

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codepr/sandboxeval/internal/queue"
	"github.com/codepr/sandboxeval/internal/store"
)

// lastSubmissionMillis tracks the most recently issued submission id so
// concurrent requests landing in the same millisecond still get distinct,
// monotonically increasing ids.
var lastSubmissionMillis int64

// nextSubmissionID returns a millisecond-timestamp-derived id, guaranteed
// to be strictly greater than every id returned before it by this process.
func nextSubmissionID() string {
	for {
		prev := atomic.LoadInt64(&lastSubmissionMillis)
		next := time.Now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if atomic.CompareAndSwapInt64(&lastSubmissionMillis, prev, next) {
			return strconv.FormatInt(next, 10)
		}
	}
}

// SubmissionRequest is the payload producing a new evaluation task. The
// image tar and input dataset are already materialized on disk by
// whatever accepted the participant's upload; ingress is not itself an
// upload endpoint.
type SubmissionRequest struct {
	ContestID     string `json:"contest_id"`
	ParticipantID string `json:"participant_id"`
	ImageTarPath  string `json:"image_tar_path"`
	InputDir      string `json:"input_dir"`
}

// SubmissionResponse acknowledges a queued submission.
type SubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
	QueueAhead   int    `json:"queue_ahead"`
}

func handleSubmissions(st *store.Store, q *queue.Queue, l *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req SubmissionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeError(w, "malformed request body")
			return
		}

		if req.ContestID == "" || req.ImageTarPath == "" {
			w.WriteHeader(http.StatusBadRequest)
			writeError(w, "contest_id and image_tar_path are required")
			return
		}
		if req.ParticipantID == "" {
			req.ParticipantID = store.DefaultParticipantID
		}
		if !store.ValidParticipantID(req.ParticipantID) {
			w.WriteHeader(http.StatusBadRequest)
			writeError(w, "invalid participant_id")
			return
		}

		submissionID := nextSubmissionID()
		submissionDir := st.SubmissionDir(req.ContestID, submissionID)
		if _, err := st.MaterializeSubmissionDirs(submissionDir); err != nil {
			l.Printf("ingress: failed to materialize submission dirs for %s: %s", submissionID, err)
			w.WriteHeader(http.StatusInternalServerError)
			writeError(w, "could not prepare submission directories")
			return
		}

		contestDir, _, _, _ := st.ContestPaths(req.ContestID)
		storagePath := relSlashPath(contestDir, submissionDir)
		outputPath := relSlashPath(contestDir, store.SubmissionLayout(submissionDir).Output)

		record := store.SubmissionRecord{
			SubmissionID:  submissionID,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			StatusCode:    "QUEUED",
			StatusDesc:    "awaiting evaluation",
			ParticipantID: req.ParticipantID,
			StoragePath:   storagePath,
			OutputPath:    outputPath,
		}
		if err := st.AppendSubmissionRecord(req.ContestID, record); err != nil {
			l.Printf("ingress: failed to append submission record for %s: %s", submissionID, err)
			w.WriteHeader(http.StatusInternalServerError)
			writeError(w, "could not record submission")
			return
		}

		queueAhead, err := q.Enqueue(queue.Task{
			SubmissionID:  submissionID,
			ContestID:     req.ContestID,
			ParticipantID: req.ParticipantID,
			ImageTarPath:  req.ImageTarPath,
			InputDir:      req.InputDir,
			ContestDir:    contestDir,
			SubmissionDir: submissionDir,
		})
		if err != nil {
			l.Printf("ingress: failed to enqueue submission %s: %s", submissionID, err)
			w.WriteHeader(http.StatusInternalServerError)
			writeError(w, "could not enqueue submission")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SubmissionResponse{
			SubmissionID: submissionID,
			QueueAhead:   queueAhead - 1,
		})
	}
}

func handleContestSubmissions(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		contestID, ok := parseContestID(r.URL.Path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		subs, err := st.ListSubmissions(contestID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			writeError(w, "could not read submissions")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(subs)
	}
}

func handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// parseContestID extracts {id} from /contests/{id}/submissions.
func parseContestID(path string) (string, bool) {
	const prefix = "/contests/"
	const suffix = "/submissions"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func writeError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// relSlashPath expresses target relative to base as a POSIX-style path,
// matching the forward-slash storage_path/output_path contract the
// submission index is read back against regardless of host OS. Falling
// back to target itself (also slashed) keeps a path-computation failure
// from ever blocking submission creation.
func relSlashPath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
