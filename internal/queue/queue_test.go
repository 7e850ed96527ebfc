package queue

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "task_queue.json"))
	task := Task{SubmissionID: "1", ContestID: "AE20260101-000"}

	n, err := q.Enqueue(task)
	if err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	if n != 1 {
		t.Errorf("expected queue length 1, got %d", n)
	}

	got, ok, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %s", err)
	}
	if !ok {
		t.Fatal("expected a task, got none")
	}
	if got.SubmissionID != task.SubmissionID || got.ContestID != task.ContestID {
		t.Errorf("dequeued task does not match enqueued task: %+v vs %+v", got, task)
	}
	if got.EnqueuedAt == "" {
		t.Errorf("expected EnqueuedAt to be stamped")
	}
}

func TestDequeueEmptyQueue(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "task_queue.json"))
	_, ok, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue: %s", err)
	}
	if ok {
		t.Error("expected no task from an empty queue")
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "task_queue.json"))
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(Task{SubmissionID: string(rune('a' + i))}); err != nil {
			t.Fatalf("Enqueue: %s", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		task, ok, err := q.Dequeue()
		if err != nil || !ok {
			t.Fatalf("Dequeue: ok=%v err=%s", ok, err)
		}
		if task.SubmissionID != want {
			t.Errorf("expected %s, got %s", want, task.SubmissionID)
		}
	}
}

func TestDurabilityAcrossQueueInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task_queue.json")
	first := New(path)
	if _, err := first.Enqueue(Task{SubmissionID: "durable-1"}); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}

	// Simulate a process restart: a brand new Queue backed by the same file.
	second := New(path)
	task, ok, err := second.Dequeue()
	if err != nil || !ok {
		t.Fatalf("expected the enqueued task to survive a restart: ok=%v err=%s", ok, err)
	}
	if task.SubmissionID != "durable-1" {
		t.Errorf("expected durable-1, got %s", task.SubmissionID)
	}
}

func TestConcurrentEnqueueProducesExactCount(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "task_queue.json"))
	const producers = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := q.Enqueue(Task{SubmissionID: string(rune('A' + i%26))}); err != nil {
				t.Errorf("Enqueue: %s", err)
			}
		}(i)
	}
	wg.Wait()

	size, err := q.Size()
	if err != nil {
		t.Fatalf("Size: %s", err)
	}
	if size != producers {
		t.Errorf("expected %d entries after concurrent enqueue, got %d", producers, size)
	}

	tasks, err := q.Peek()
	if err != nil {
		t.Fatalf("Peek: %s", err)
	}
	for i := 1; i < len(tasks); i++ {
		if tasks[i].EnqueuedAt < tasks[i-1].EnqueuedAt {
			t.Errorf("enqueued_at timestamps are not non-decreasing at index %d", i)
		}
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	q := New(filepath.Join(t.TempDir(), "task_queue.json"))
	if _, err := q.Enqueue(Task{SubmissionID: "1"}); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	if _, err := q.Peek(); err != nil {
		t.Fatalf("Peek: %s", err)
	}
	size, err := q.Size()
	if err != nil {
		t.Fatalf("Size: %s", err)
	}
	if size != 1 {
		t.Errorf("Peek mutated the queue, size = %d", size)
	}
}
