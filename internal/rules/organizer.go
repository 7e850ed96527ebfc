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

// Package rules validates the JSON a scoring image writes back and
// enriches it with the runtime figures the sandbox collected while the
// image ran.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// ValidationError reports why an organizer's results.json was rejected.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("organizer results %s: %s", e.Path, e.Reason)
}

// ValidateOrganizerResults loads and checks a scoring image's results.json:
// it must parse as a JSON object and carry an "indicator" key whose value
// is a JSON array. A missing file surfaces the raw os.Stat/Open error so
// callers can distinguish "never produced" from "produced but invalid".
func ValidateOrganizerResults(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Path: path, Reason: "invalid JSON: " + err.Error()}
	}

	result, ok := raw.(map[string]interface{})
	if !ok {
		return nil, &ValidationError{Path: path, Reason: "output must be a JSON object"}
	}

	indicator, present := result["indicator"]
	if !present {
		return nil, &ValidationError{Path: path, Reason: "missing required 'indicator' field"}
	}
	if _, ok := indicator.([]interface{}); !ok {
		return nil, &ValidationError{Path: path, Reason: "'indicator' field must be an array"}
	}

	return result, nil
}

// RuntimeInfo is the {cpu, memory, runtime} object merged into a
// validated organizer result under the "runtimeInfo" key.
type RuntimeInfo struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Runtime float64 `json:"runtime"`
}

// AddRuntimeInfo injects the participant stage's CPU peak, memory peak
// and wall-clock runtime into a validated organizer result under the
// "runtimeInfo" key, overwriting any prior value of that key.
func AddRuntimeInfo(result map[string]interface{}, cpuPeak, memoryPeak, runtimeSeconds float64) map[string]interface{} {
	result["runtimeInfo"] = RuntimeInfo{
		CPU:     cpuPeak,
		Memory:  memoryPeak,
		Runtime: runtimeSeconds,
	}
	return result
}
