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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ContestInfo is the parsed shape of info/info.json: metadata plus the
// organizer scoring image filename.
type ContestInfo struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	Image       string `json:"image"`
	CoverImage  string `json:"cover_image,omitempty"`
}

// ReadContestInfo loads and parses a contest's info/info.json.
func (s *Store) ReadContestInfo(contestID string) (*ContestInfo, error) {
	data, err := os.ReadFile(s.InfoJSONPath(contestID))
	if err != nil {
		return nil, err
	}
	var info ContestInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// OrganizerImageTarPath returns the absolute path to the organizer scoring
// image tarball declared by a contest's info.json, or "" if the contest
// declares none.
func (s *Store) OrganizerImageTarPath(contestID string) (string, error) {
	info, err := s.ReadContestInfo(contestID)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if info.Image == "" {
		return "", nil
	}
	contestDir, _, _, _ := s.ContestPaths(contestID)
	return filepath.Join(contestDir, "info", info.Image), nil
}

// GenerateContestID allocates the next opaque AE<YYYYMMDD>-NNN id for a
// contest created today, scanning BaseDir for the first unused sequence
// number.
func (s *Store) GenerateContestID(now time.Time) (string, error) {
	prefix := "AE" + now.Format("20060102")
	for seq := 0; seq < 1000; seq++ {
		candidate := fmt.Sprintf("%s-%03d", prefix, seq)
		if _, err := os.Stat(filepath.Join(s.BaseDir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no unique contest id available for prefix %s", prefix)
}
