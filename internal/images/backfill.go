package images

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"kakigoori/internal/models"
)

// SweepReport summarises a maintenance sweep over many images.
type SweepReport struct {
	Images    int
	Processed int
	Scheduled int
	Failed    int
}

// Backfill schedules worker tasks for every size an image has ever been
// produced at but still lacks a worker encoding for. It also refreshes the
// legacy availability flags from the catalog.
type Backfill struct {
	images      ImageStore
	catalog     *Catalog
	tasks       *TaskQueue
	concurrency int
	log         *slog.Logger
}

func NewBackfill(images ImageStore, catalog *Catalog, tasks *TaskQueue, concurrency int, log *slog.Logger) *Backfill {
	return &Backfill{images: images, catalog: catalog, tasks: tasks, concurrency: max(concurrency, 1), log: log}
}

// Run sweeps all current-version images. A failure on one image is logged
// and the sweep moves on; only listing failures and cancellation abort it.
func (b *Backfill) Run(ctx context.Context) (SweepReport, error) {
	const op = "images.Backfill"

	all, err := b.images.ListImagesByVersion(ctx, models.CurrentModelVersion)
	if err != nil {
		return SweepReport{}, fmt.Errorf("%s: %w", op, err)
	}
	b.log.Info("backfill started", "images", len(all))

	var processed, scheduled, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i := range all {
		img := &all[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := b.backfillImage(gctx, img)
			if err != nil {
				failed.Add(1)
				b.log.Error("backfill image failed", "image_id", img.ID, "error", err)
				return nil
			}
			scheduled.Add(int64(n))
			if done := processed.Add(1); done%100 == 0 {
				b.log.Info("backfill progress", "done", done, "images", len(all))
			}
			return nil
		})
	}
	err = g.Wait()

	report := SweepReport{
		Images:    len(all),
		Processed: int(processed.Load()),
		Scheduled: int(scheduled.Load()),
		Failed:    int(failed.Load()),
	}
	b.log.Info("backfill finished",
		"images", report.Images, "processed", report.Processed, "scheduled", report.Scheduled, "failed", report.Failed)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}
	return report, nil
}

type size struct{ width, height int }

func (b *Backfill) backfillImage(ctx context.Context, img *models.Image) (int, error) {
	variants, err := b.catalog.All(ctx, img.ID)
	if err != nil {
		return 0, err
	}
	original, err := b.catalog.Original(ctx, img.ID)
	if err != nil {
		return 0, err
	}

	have := make(map[size]map[models.Encoding]bool)
	for _, v := range variants {
		s := size{v.Width, v.Height}
		if have[s] == nil {
			have[s] = make(map[models.Encoding]bool)
		}
		have[s][v.Encoding] = true
	}

	sizes := make([]size, 0, len(have))
	for s := range have {
		sizes = append(sizes, s)
	}
	sort.Slice(sizes, func(i, j int) bool {
		if sizes[i].width != sizes[j].width {
			return sizes[i].width > sizes[j].width
		}
		return sizes[i].height > sizes[j].height
	})

	scheduled := 0
	for _, target := range models.TargetEncodings {
		for _, s := range sizes {
			if have[s][target] {
				continue
			}
			_, created, err := b.tasks.Schedule(ctx, img, s.width, s.height, original.Encoding, target)
			if err != nil {
				return scheduled, err
			}
			if created {
				scheduled++
			}
		}
	}

	if err := b.refreshFlags(ctx, img, have[size{img.Width, img.Height}]); err != nil {
		return scheduled, err
	}
	return scheduled, nil
}

// refreshFlags rewrites the legacy availability hints from the full-size
// catalog entries.
func (b *Backfill) refreshFlags(ctx context.Context, img *models.Image, fullSize map[models.Encoding]bool) error {
	webp, avif, jpegli := fullSize[models.EncodingWebP], fullSize[models.EncodingAVIF], fullSize[models.EncodingJPEGLI]
	if img.IsWebPAvailable == webp && img.IsAVIFAvailable == avif && img.IsJPEGLIAvailable == jpegli {
		return nil
	}
	img.IsWebPAvailable, img.IsAVIFAvailable, img.IsJPEGLIAvailable = webp, avif, jpegli
	return b.images.UpdateImage(ctx, img)
}
