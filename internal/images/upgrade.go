package images

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/models"
)

// LegacyModelVersion images keep flat objects directly under their prefix.
const LegacyModelVersion = 1

// legacyObject is one flat object of a version 1 image and where it moves.
type legacyObject struct {
	name      string
	encoding  models.Encoding
	thumbnail bool
	keep      bool
}

func legacyObjects(img *models.Image) []legacyObject {
	objs := []legacyObject{
		{name: "original.jpg", encoding: models.EncodingJPEG, keep: true},
		{name: "thumbnail.jpg", encoding: models.EncodingJPEG, thumbnail: true},
	}
	if img.IsJPEGLIAvailable {
		objs = append(objs,
			legacyObject{name: "jpegli.jpg", encoding: models.EncodingJPEGLI},
			legacyObject{name: "thumbnail_jpegli.jpg", encoding: models.EncodingJPEGLI, thumbnail: true})
	}
	if img.IsAVIFAvailable {
		objs = append(objs,
			legacyObject{name: "optimized.avif", encoding: models.EncodingAVIF},
			legacyObject{name: "thumbnail.avif", encoding: models.EncodingAVIF, thumbnail: true})
	}
	if img.IsWebPAvailable {
		objs = append(objs,
			legacyObject{name: "optimized.webp", encoding: models.EncodingWebP},
			legacyObject{name: "thumbnail.webp", encoding: models.EncodingWebP, thumbnail: true})
	}
	return objs
}

// Upgrader moves version 1 images to the sized key layout. The legacy flags
// decide which optimized objects exist to be moved.
type Upgrader struct {
	images      ImageStore
	catalog     *Catalog
	blobs       blob.Store
	codec       *codec.Codec
	concurrency int
	log         *slog.Logger
}

func NewUpgrader(images ImageStore, catalog *Catalog, blobs blob.Store, c *codec.Codec, concurrency int, log *slog.Logger) *Upgrader {
	return &Upgrader{images: images, catalog: catalog, blobs: blobs, codec: c, concurrency: max(concurrency, 1), log: log}
}

func (u *Upgrader) Run(ctx context.Context) (SweepReport, error) {
	const op = "images.Upgrade"

	all, err := u.images.ListImagesByVersion(ctx, LegacyModelVersion)
	if err != nil {
		return SweepReport{}, fmt.Errorf("%s: %w", op, err)
	}
	u.log.Info("upgrade started", "images", len(all))

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for i := range all {
		img := &all[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := u.upgradeImage(gctx, img); err != nil {
				failed.Add(1)
				u.log.Error("upgrade image failed", "image_id", img.ID, "error", err)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()

	report := SweepReport{Images: len(all), Processed: int(processed.Load()), Failed: int(failed.Load())}
	u.log.Info("upgrade finished", "images", report.Images, "processed", report.Processed, "failed", report.Failed)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

func (u *Upgrader) upgradeImage(ctx context.Context, img *models.Image) error {
	prefix := models.ImagePrefix(img.ID)

	data, err := u.blobs.Get(ctx, prefix+"/original.jpg")
	if err != nil {
		return err
	}
	info, err := u.codec.Probe(data)
	if err != nil {
		return err
	}
	img.Width, img.Height = info.Width, info.Height
	tw, th := ThumbnailBox(img)

	var stale []string
	for _, obj := range legacyObjects(img) {
		w, h := img.Width, img.Height
		if obj.thumbnail {
			w, h = tw, th
		}
		src := prefix + "/" + obj.name
		if err := u.blobs.Copy(ctx, src, models.VariantKey(img.ID, w, h, obj.encoding)); err != nil {
			return err
		}
		if _, err := u.catalog.Record(ctx, img, w, h, obj.encoding); err != nil {
			return err
		}
		if !obj.keep {
			stale = append(stale, src)
		}
	}

	img.ModelVersion = models.CurrentModelVersion
	if err := u.images.UpdateImage(ctx, img); err != nil {
		return err
	}

	if err := u.blobs.Delete(ctx, stale...); err != nil {
		// The image is already upgraded; leftovers only cost storage.
		u.log.Warn("legacy objects not deleted", "image_id", img.ID, "keys", stale, "error", err)
	}
	u.log.Info("image upgraded", "image_id", img.ID, "size", fmt.Sprintf("%dx%d", img.Width, img.Height))
	return nil
}
