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

// Package queue is a persistent FIFO task queue backed by a single JSON
// file. Every mutation is a read-whole-file / mutate / write-whole-file
// cycle under a process-wide mutex, with the write landing through a
// temp-file-then-rename so a crash mid-write never corrupts the file.
package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Task is a queue entry: everything the worker needs to resume an
// evaluation without consulting any other index.
type Task struct {
	SubmissionID  string `json:"submission_id"`
	ContestID     string `json:"contest_id"`
	ParticipantID string `json:"participant_id"`
	ImageTarPath  string `json:"image_tar_path"`
	InputDir      string `json:"input_dir"`
	OutputDir     string `json:"output_dir"`
	ContestDir    string `json:"contest_dir"`
	SubmissionDir string `json:"submission_dir"`
	EnqueuedAt    string `json:"enqueued_at"`
}

// Queue is a FIFO of Task, durable across process restarts.
type Queue struct {
	path string
	mu   sync.Mutex
}

// New returns a Queue backed by the JSON file at path.
func New(path string) *Queue {
	return &Queue{path: path}
}

// Enqueue appends task to the tail, stamping EnqueuedAt, and returns the
// resulting queue length (including this task).
func (q *Queue) Enqueue(task Task) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.load()
	if err != nil {
		return 0, err
	}
	task.EnqueuedAt = time.Now().UTC().Format(time.RFC3339Nano)
	tasks = append(tasks, task)
	if err := q.save(tasks); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// Dequeue pops the head task, or returns ok=false when the queue is empty.
func (q *Queue) Dequeue() (Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks, err := q.load()
	if err != nil {
		return Task{}, false, err
	}
	if len(tasks) == 0 {
		return Task{}, false, nil
	}
	task := tasks[0]
	tasks = tasks[1:]
	if err := q.save(tasks); err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

// Peek returns a snapshot of the queue without mutating it.
func (q *Queue) Peek() ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Size returns the current queue length.
func (q *Queue) Size() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func (q *Queue) load() ([]Task, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, nil
		}
		return []Task{}, nil
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return []Task{}, nil
	}
	return tasks, nil
}

func (q *Queue) save(tasks []Task) error {
	dir := filepath.Dir(q.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
