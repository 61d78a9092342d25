// Package images implements the variant pipeline: intake with content-hash
// dedup, the variant catalog, inline generation of baseline encodings, the
// worker task queue and content negotiation.
//
// Nothing in this package keeps state between calls. Every coordination
// point is the metadata store or the blob store, so any number of server and
// worker processes can run side by side.
package images

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kakigoori/internal/models"
)

type ImageStore interface {
	CreateImage(ctx context.Context, img *models.Image) error
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	GetImageByHash(ctx context.Context, md5 string) (*models.Image, error)
	MarkUploaded(ctx context.Context, id uuid.UUID) error
	UpdateImage(ctx context.Context, img *models.Image) error
	ListImagesByVersion(ctx context.Context, version int) ([]models.Image, error)
}

type VariantStore interface {
	UpsertVariant(ctx context.Context, v *models.Variant) error
	ListVariants(ctx context.Context, imageID uuid.UUID, width, height int) ([]models.Variant, error)
	ListImageVariants(ctx context.Context, imageID uuid.UUID) ([]models.Variant, error)
	FindOriginal(ctx context.Context, imageID uuid.UUID) (*models.Variant, error)
	VariantExists(ctx context.Context, imageID uuid.UUID, width, height int, enc models.Encoding) (bool, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, t *models.VariantTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.VariantTask, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTasks(ctx context.Context, target models.Encoding) ([]models.VariantTask, error)
	ListTasksCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.VariantTask, error)
	TaskExists(ctx context.Context, imageID uuid.UUID, width, height int, target models.Encoding) (bool, error)
}

// MetadataStore is implemented by storage.Storage.
type MetadataStore interface {
	ImageStore
	VariantStore
	TaskStore
}

// TaskNotifier is told about every newly scheduled task so idle workers can
// wake up. Listing remains the source of truth.
type TaskNotifier interface {
	TaskScheduled(ctx context.Context, task models.VariantTask) error
}

// PrewarmRequester asks for a size to be generated ahead of the first request.
type PrewarmRequester interface {
	RequestPrewarm(ctx context.Context, imageID uuid.UUID, width, height int) error
}
