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

package config

import (
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v2"
)

// ResourceOverride is one side (participant or organizer) of an optional
// per-contest eval.yaml file.
type ResourceOverride struct {
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	CPUCores       int    `yaml:"cpu_cores,omitempty"`
	MemLimit       string `yaml:"mem_limit,omitempty"`
}

// Overrides is the shape of a contest's info/eval.yaml, letting an
// organizer tighten or loosen the environment-wide sandbox limits for
// their own contest.
type Overrides struct {
	Participant ResourceOverride `yaml:"participant,omitempty"`
	Organizer   ResourceOverride `yaml:"organizer,omitempty"`
}

// LoadOverrides reads an optional eval.yaml at path. A missing file is not
// an error: it returns a zero-value Overrides so callers can apply it
// unconditionally.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Overrides{}, nil
		}
		return nil, err
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Apply merges a ResourceOverride onto a ResourceLimits, leaving fields
// unset in the override untouched.
func (r ResourceLimits) Apply(o ResourceOverride) (ResourceLimits, error) {
	out := r
	if o.TimeoutSeconds > 0 {
		out.TimeoutSeconds = o.TimeoutSeconds
	}
	if o.CPUCores > 0 {
		out.CPUCores = o.CPUCores
	}
	if o.MemLimit != "" {
		out.MemLimit = o.MemLimit
		bytes, err := units.RAMInBytes(o.MemLimit)
		if err != nil {
			return out, err
		}
		out.MemLimitBytes = bytes
	}
	return out, nil
}
