package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

// Generator fills catalog misses inline. It only ever produces JPEG or PNG;
// the worker encodings are scheduled as tasks for the same size.
//
// Concurrent calls for the same size may both do the work. The catalog
// upsert makes them converge on one record and the later blob write wins.
type Generator struct {
	catalog *Catalog
	blobs   blob.Store
	codec   *codec.Codec
	tasks   *TaskQueue
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewGenerator(catalog *Catalog, blobs blob.Store, c *codec.Codec, tasks *TaskQueue, m *metrics.Metrics, log *slog.Logger) *Generator {
	return &Generator{catalog: catalog, blobs: blobs, codec: c, tasks: tasks, metrics: m, log: log}
}

func (g *Generator) Generate(ctx context.Context, img *models.Image, width, height int) (*models.Variant, error) {
	const op = "images.Generate"
	start := time.Now()

	original, err := g.catalog.Original(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	src, err := g.blobs.Get(ctx, original.Key())
	if errors.Is(err, blob.ErrNotExist) {
		return nil, fmt.Errorf("%s: original %s missing from blob store: %w", op, original.Key(), models.ErrDataIntegrity)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: fetch original: %w", op, err)
	}

	decoded, err := g.codec.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, models.ErrDataIntegrity)
	}

	// Only PNG originals can carry alpha; oriented JPEGs decode as NRGBA.
	alpha := original.Encoding == models.EncodingPNG && codec.HasAlphaChannel(decoded)
	data, enc, err := g.codec.EncodeBaseline(g.codec.Fit(decoded, width, height), alpha)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key := models.VariantKey(img.ID, width, height, enc)
	if err := g.blobs.Put(ctx, key, data, enc.ContentType()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	variant, err := g.catalog.Record(ctx, img, width, height, enc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := g.tasks.ScheduleDerivatives(ctx, img, width, height, enc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	elapsed := time.Since(start)
	g.metrics.ObserveGeneration(string(enc), elapsed)
	g.log.Info("variant generated",
		"image_id", img.ID, "size", fmt.Sprintf("%dx%d", width, height), "encoding", enc,
		"bytes", len(data), "elapsed", elapsed)
	return variant, nil
}

// Warm generates width x height unless a baseline variant already exists.
func (g *Generator) Warm(ctx context.Context, img *models.Image, width, height int) error {
	variants, err := g.catalog.Find(ctx, img.ID, width, height)
	if err != nil {
		return err
	}
	for _, v := range variants {
		if v.Encoding.IsOriginal() {
			return nil
		}
	}
	_, err = g.Generate(ctx, img, width, height)
	return err
}
