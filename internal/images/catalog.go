package images

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kakigoori/internal/models"
)

// Catalog is the record of which (size, encoding) pairs exist for an image.
type Catalog struct {
	store VariantStore
}

func NewCatalog(store VariantStore) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) Find(ctx context.Context, imageID uuid.UUID, width, height int) ([]models.Variant, error) {
	return c.store.ListVariants(ctx, imageID, width, height)
}

func (c *Catalog) All(ctx context.Context, imageID uuid.UUID) ([]models.Variant, error) {
	return c.store.ListImageVariants(ctx, imageID)
}

func (c *Catalog) Exists(ctx context.Context, imageID uuid.UUID, width, height int, enc models.Encoding) (bool, error) {
	return c.store.VariantExists(ctx, imageID, width, height, enc)
}

// Record upserts the variant for img at width x height. The full-size flag is
// derived from the image's canonical dimensions.
func (c *Catalog) Record(ctx context.Context, img *models.Image, width, height int, enc models.Encoding) (*models.Variant, error) {
	v := &models.Variant{
		ImageID:    img.ID,
		Width:      width,
		Height:     height,
		Encoding:   enc,
		IsFullSize: img.IsFullSize(width, height),
	}
	if err := c.store.UpsertVariant(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Original returns the canonical full-size JPEG/PNG. An image without one is
// corrupt, so absence is reported as ErrDataIntegrity.
func (c *Catalog) Original(ctx context.Context, imageID uuid.UUID) (*models.Variant, error) {
	v, err := c.store.FindOriginal(ctx, imageID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("image %s has no full-size original: %w", imageID, models.ErrDataIntegrity)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
