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

// Package worker runs the two-stage evaluation pipeline for one
// submission: the participant's image first, then the organizer's
// scoring image, regardless of how the participant stage concluded.
package worker

// StatusCode is the terminal state of an evaluation.
type StatusCode int

const (
	StatusSuccess StatusCode = iota
	StatusTimeout
	StatusContainerError
	StatusError
)

var statusDesc = map[StatusCode]string{
	StatusSuccess:        "participant image succeeded",
	StatusTimeout:        "participant image timed out",
	StatusContainerError: "participant image container failure",
	StatusError:          "orchestration error",
}

// Code returns the wire-level numeric code for a status.
func (s StatusCode) Code() int { return int(s) }

// Desc returns the canonical human-readable description for a status.
func (s StatusCode) Desc() string {
	if desc, ok := statusDesc[s]; ok {
		return desc
	}
	return statusDesc[StatusError]
}

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusContainerError:
		return "CONTAINER_ERROR"
	default:
		return "ERROR"
	}
}
