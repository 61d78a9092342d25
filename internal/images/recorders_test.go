package images

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kakigoori/internal/blob"
	"kakigoori/internal/models"
)

type recordingNotifier struct {
	mu    sync.Mutex
	tasks []models.VariantTask
}

func (n *recordingNotifier) TaskScheduled(_ context.Context, task models.VariantTask) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tasks = append(n.tasks, task)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.tasks)
}

type prewarmRequest struct {
	imageID       uuid.UUID
	width, height int
}

type recordingPrewarm struct {
	mu       sync.Mutex
	requests []prewarmRequest
}

func (p *recordingPrewarm) RequestPrewarm(_ context.Context, imageID uuid.UUID, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, prewarmRequest{imageID, width, height})
	return nil
}

// flakyBlobs fails the next failPuts Put calls before delegating.
type flakyBlobs struct {
	*blob.MemoryStore
	mu       sync.Mutex
	failPuts int
}

func (b *flakyBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	if b.failPuts > 0 {
		b.failPuts--
		b.mu.Unlock()
		return fmt.Errorf("blob.Put %s: %w", key, models.ErrTransientStorage)
	}
	b.mu.Unlock()
	return b.MemoryStore.Put(ctx, key, data, contentType)
}
