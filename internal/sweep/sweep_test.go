package sweep

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

type fakeLister struct {
	containers        []ContainerInfo
	images            []ImageInfo
	removedContainers []string
	removedImages     []string
}

func (f *fakeLister) ListExitedContainers(ctx context.Context) ([]ContainerInfo, error) {
	return f.containers, nil
}

func (f *fakeLister) ListImages(ctx context.Context) ([]ImageInfo, error) {
	return f.images, nil
}

func (f *fakeLister) RemoveContainer(ctx context.Context, id string) error {
	f.removedContainers = append(f.removedContainers, id)
	return nil
}

func (f *fakeLister) RemoveImage(ctx context.Context, id string) error {
	f.removedImages = append(f.removedImages, id)
	return nil
}

func testLog() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSweepOnceRemovesExitedContainers(t *testing.T) {
	fake := &fakeLister{containers: []ContainerInfo{{ID: "c1", Status: "exited"}, {ID: "c2", Status: "exited"}}}
	s := New(fake, time.Hour, 24*time.Hour, testLog())

	s.sweepOnce(context.Background())

	if len(fake.removedContainers) != 2 {
		t.Errorf("expected 2 containers removed, got %d", len(fake.removedContainers))
	}
}

func TestSweepOnceRemovesOnlyOldUntaggedImages(t *testing.T) {
	now := time.Now()
	fake := &fakeLister{images: []ImageInfo{
		{ID: "old-untagged", Tags: nil, Created: now.Add(-48 * time.Hour)},
		{ID: "recent-untagged", Tags: nil, Created: now.Add(-1 * time.Hour)},
		{ID: "old-tagged", Tags: []string{"myorg/image:v1"}, Created: now.Add(-48 * time.Hour)},
		{ID: "old-none-tag", Tags: []string{"<none>:<none>"}, Created: now.Add(-48 * time.Hour)},
	}}
	s := New(fake, time.Hour, 24*time.Hour, testLog())

	s.sweepOnce(context.Background())

	if len(fake.removedImages) != 2 {
		t.Fatalf("expected 2 images removed, got %d: %v", len(fake.removedImages), fake.removedImages)
	}
	removed := map[string]bool{}
	for _, id := range fake.removedImages {
		removed[id] = true
	}
	if !removed["old-untagged"] || !removed["old-none-tag"] {
		t.Errorf("expected old-untagged and old-none-tag removed, got %v", fake.removedImages)
	}
	if removed["recent-untagged"] || removed["old-tagged"] {
		t.Errorf("expected recent or tagged images to survive, got %v", fake.removedImages)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	fake := &fakeLister{}
	s := New(fake, 10*time.Millisecond, time.Hour, testLog())

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
