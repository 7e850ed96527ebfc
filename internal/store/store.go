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

// Package store is the domain model of the submission store: the durable
// on-disk layout of a contest and its submissions, and the append-only
// index that is the source of truth for submission state.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// SubmissionRecord is one entry of a contest's evaluation/submissions.json
// index.
type SubmissionRecord struct {
	SubmissionID  string `json:"submission_id"`
	Timestamp     string `json:"timestamp"`
	StatusCode    string `json:"status_code"`
	StatusDesc    string `json:"status_desc"`
	ParticipantID string `json:"participant_id"`
	StoragePath   string `json:"storage_path"`
	OutputPath    string `json:"output_path"`
}

type submissionIndex struct {
	Submissions []SubmissionRecord `json:"submissions"`
}

// Store is the filesystem-resident source of truth for contests and
// submissions, rooted at BaseDir. All mutating operations are serialized
// by a single process-wide mutex.
type Store struct {
	BaseDir string
	mu      sync.Mutex
}

// New returns a Store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// ContestPaths returns the four canonical paths under a contest directory.
func (s *Store) ContestPaths(contestID string) (contestDir, evaluationDir, submissionsRoot, submissionsJSON string) {
	contestDir = filepath.Join(s.BaseDir, contestID)
	evaluationDir = filepath.Join(contestDir, "evaluation")
	submissionsRoot = filepath.Join(evaluationDir, "submissions")
	submissionsJSON = filepath.Join(evaluationDir, "submissions.json")
	return
}

// SubmissionDir returns the canonical (new-layout) directory for a
// submission, without checking existence.
func (s *Store) SubmissionDir(contestID, submissionID string) string {
	_, _, submissionsRoot, _ := s.ContestPaths(contestID)
	return filepath.Join(submissionsRoot, "submission_"+submissionID)
}

// AppendSubmissionRecord atomically appends record to a contest's
// submissions.json, creating the file if absent.
func (s *Store) AppendSubmissionRecord(contestID string, record SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, evaluationDir, _, submissionsJSON := s.ContestPaths(contestID)
	if err := os.MkdirAll(evaluationDir, 0o755); err != nil {
		return err
	}

	idx, err := readIndex(submissionsJSON)
	if err != nil {
		return err
	}
	idx.Submissions = append(idx.Submissions, record)
	return writeIndex(submissionsJSON, idx)
}

// UpdateSubmissionStatus patches the status_code/status_desc of the record
// matching submissionID. A missing index file or id is a silent no-op: the
// caller is expected to have already logged the anomaly.
func (s *Store) UpdateSubmissionStatus(contestID, submissionID, statusCode, statusDesc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, _, submissionsJSON := s.ContestPaths(contestID)
	if _, err := os.Stat(submissionsJSON); err != nil {
		return nil
	}

	idx, err := readIndex(submissionsJSON)
	if err != nil {
		return nil
	}

	updated := false
	for i := range idx.Submissions {
		if idx.Submissions[i].SubmissionID == submissionID {
			idx.Submissions[i].StatusCode = statusCode
			idx.Submissions[i].StatusDesc = statusDesc
			updated = true
			break
		}
	}
	if !updated {
		return nil
	}
	return writeIndex(submissionsJSON, idx)
}

// ListSubmissions returns the current submission index for a contest, most
// recently enqueued first is NOT guaranteed here — callers sort if needed.
// Falls back to an empty list when the index is absent or malformed.
func (s *Store) ListSubmissions(contestID string) ([]SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, _, submissionsJSON := s.ContestPaths(contestID)
	idx, err := readIndex(submissionsJSON)
	if err != nil {
		return nil, err
	}
	return idx.Submissions, nil
}

// ResolveSubmissionDir returns the first existing candidate directory for a
// submission among the new layout, and the legacy per-participant layout
// kept only for read-back.
func (s *Store) ResolveSubmissionDir(contestID, submissionID, participantID, storagePath string) (string, bool) {
	contestDir, evaluationDir, submissionsRoot, _ := s.ContestPaths(contestID)

	var candidates []string
	if storagePath != "" {
		candidates = append(candidates, filepath.Join(contestDir, storagePath))
	}
	if submissionID != "" {
		candidates = append(candidates, filepath.Join(submissionsRoot, "submission_"+submissionID))
	}
	if submissionID != "" && participantID != "" {
		candidates = append(candidates, filepath.Join(evaluationDir, participantID, "submission_"+submissionID))
	}

	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
	}
	return "", false
}

func readIndex(path string) (*submissionIndex, error) {
	idx := &submissionIndex{Submissions: []SubmissionRecord{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return idx, nil
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return &submissionIndex{Submissions: []SubmissionRecord{}}, nil
	}
	return idx, nil
}

func writeIndex(path string, idx *submissionIndex) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
