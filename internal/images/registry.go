package images

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

// Registry owns Image records and the upload path.
type Registry struct {
	images  ImageStore
	catalog *Catalog
	blobs   blob.Store
	codec   *codec.Codec
	tasks   *TaskQueue
	prewarm PrewarmRequester
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRegistry(images ImageStore, catalog *Catalog, blobs blob.Store, c *codec.Codec, tasks *TaskQueue,
	prewarm PrewarmRequester, m *metrics.Metrics, log *slog.Logger) *Registry {
	return &Registry{
		images:  images,
		catalog: catalog,
		blobs:   blobs,
		codec:   c,
		tasks:   tasks,
		prewarm: prewarm,
		metrics: m,
		log:     log,
	}
}

// Get returns an image that is safe to serve. Images whose upload never
// completed are reported as not found.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	img, err := r.images.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !img.Usable() {
		return nil, fmt.Errorf("image %s upload incomplete: %w", id, models.ErrNotFound)
	}
	return img, nil
}

// Intake stores a new original. Byte-identical content returns the existing
// image with created=false and writes nothing.
//
// The row is inserted before the blob upload and only marked uploaded at the
// end, so a crash part way leaves an orphan row rather than an orphan blob.
func (r *Registry) Intake(ctx context.Context, data []byte, filename, mimeHint string) (*models.Image, bool, error) {
	const op = "images.Intake"

	info, err := r.codec.Probe(data)
	if err != nil {
		r.metrics.ObserveIntake("unsupported")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	enc, err := info.Encoding()
	if err != nil {
		r.metrics.ObserveIntake("unsupported")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		r.metrics.ObserveIntake("unsupported")
		return nil, false, fmt.Errorf("%s: empty image: %w", op, models.ErrUnsupportedMediaType)
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := r.images.GetImageByHash(ctx, hash); err == nil {
		if !existing.Uploaded {
			return r.repair(ctx, existing, data, enc)
		}
		r.metrics.ObserveIntake("duplicate")
		return existing, false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		r.metrics.ObserveIntake("failed")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	img := &models.Image{
		ID:               uuid.New(),
		OriginalName:     filename,
		OriginalMimeType: mimeHint,
		OriginalMD5:      hash,
		ModelVersion:     models.CurrentModelVersion,
		Width:            info.Width,
		Height:           info.Height,
	}
	if err := r.images.CreateImage(ctx, img); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race with a concurrent upload of the same bytes.
			if existing, getErr := r.images.GetImageByHash(ctx, hash); getErr == nil {
				r.metrics.ObserveIntake("duplicate")
				return existing, false, nil
			}
		}
		r.metrics.ObserveIntake("failed")
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := r.complete(ctx, img, data, enc); err != nil {
		r.metrics.ObserveIntake("failed")
		r.log.Error("intake left incomplete image", "image_id", img.ID, "error", err)
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	r.metrics.ObserveIntake("created")
	r.log.Info("image created",
		"image_id", img.ID, "name", filename, "encoding", enc, "size", fmt.Sprintf("%dx%d", img.Width, img.Height))

	if r.prewarm != nil {
		tw, th := ThumbnailBox(img)
		if err := r.prewarm.RequestPrewarm(ctx, img.ID, tw, th); err != nil {
			r.log.Warn("thumbnail prewarm request failed", "image_id", img.ID, "error", err)
		}
	}
	return img, true, nil
}

// repair finishes an earlier intake of the same bytes that stopped before
// the image was marked uploaded.
func (r *Registry) repair(ctx context.Context, img *models.Image, data []byte, enc models.Encoding) (*models.Image, bool, error) {
	const op = "images.Intake"

	if err := r.complete(ctx, img, data, enc); err != nil {
		r.metrics.ObserveIntake("failed")
		r.log.Error("intake repair failed", "image_id", img.ID, "error", err)
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	r.metrics.ObserveIntake("created")
	r.log.Info("incomplete image repaired", "image_id", img.ID, "encoding", enc)
	return img, true, nil
}

func (r *Registry) complete(ctx context.Context, img *models.Image, data []byte, enc models.Encoding) error {
	key := models.VariantKey(img.ID, img.Width, img.Height, enc)
	if err := r.blobs.Put(ctx, key, data, enc.ContentType()); err != nil {
		return err
	}
	if _, err := r.catalog.Record(ctx, img, img.Width, img.Height, enc); err != nil {
		return err
	}
	if err := r.tasks.ScheduleDerivatives(ctx, img, img.Width, img.Height, enc); err != nil {
		return err
	}
	if err := r.images.MarkUploaded(ctx, img.ID); err != nil {
		return err
	}
	img.Uploaded = true
	return nil
}
