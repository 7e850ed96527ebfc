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

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	ParticipantLogsFile  = "participant_logs.txt"
	OrganizerLogsFile    = "organizer_logs.txt"
	OrganizerResultsFile = "organizer_results.json"
	ResultsFile          = "results.json"

	InputDirName           = "input"
	OutputDirName          = "output"
	OrganizerOutputDirName = "organizer_output"

	// DefaultParticipantID is the reserved id used when a submission is
	// not attributed to a specific participant.
	DefaultParticipantID = "default"
)

var participantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidParticipantID reports whether id is either the reserved
// "default" sentinel or an alphanumeric/dash/underscore string of at most
// 64 characters.
func ValidParticipantID(id string) bool {
	if id == DefaultParticipantID {
		return true
	}
	return participantIDPattern.MatchString(id)
}

// SubmissionDirs is the set of paths materialized for a single submission.
type SubmissionDirs struct {
	Root            string
	Input           string
	Output          string
	OrganizerOutput string
}

// SubmissionLayout computes the canonical subdirectories of a submission
// directory without creating anything.
func SubmissionLayout(submissionDir string) SubmissionDirs {
	return SubmissionDirs{
		Root:            submissionDir,
		Input:           filepath.Join(submissionDir, InputDirName),
		Output:          filepath.Join(submissionDir, OutputDirName),
		OrganizerOutput: filepath.Join(submissionDir, OrganizerOutputDirName),
	}
}

// MaterializeSubmissionDirs creates the output/ and organizer_output/
// directories for a submission (input/ is populated by copying the
// contest's dataset/source tree, a step owned by the Ingress producer, not
// this store).
func (s *Store) MaterializeSubmissionDirs(submissionDir string) (SubmissionDirs, error) {
	dirs := SubmissionLayout(submissionDir)
	for _, dir := range []string{dirs.Root, dirs.Output, dirs.OrganizerOutput} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dirs, fmt.Errorf("materialize submission dirs: %w", err)
		}
	}
	return dirs, nil
}

// DatasetSourceDir returns a contest's participant-facing input dataset
// directory.
func (s *Store) DatasetSourceDir(contestID string) string {
	contestDir, _, _, _ := s.ContestPaths(contestID)
	return filepath.Join(contestDir, "info", "dataset", "source")
}

// DatasetResultDir returns a contest's reference result dataset directory.
func (s *Store) DatasetResultDir(contestID string) string {
	contestDir, _, _, _ := s.ContestPaths(contestID)
	return filepath.Join(contestDir, "info", "dataset", "result")
}

// InfoJSONPath returns a contest's info/info.json path.
func (s *Store) InfoJSONPath(contestID string) string {
	contestDir, _, _, _ := s.ContestPaths(contestID)
	return filepath.Join(contestDir, "info", "info.json")
}

// EvalOverridePath returns a contest's optional info/eval.yaml path.
func (s *Store) EvalOverridePath(contestID string) string {
	contestDir, _, _, _ := s.ContestPaths(contestID)
	return filepath.Join(contestDir, "info", "eval.yaml")
}
