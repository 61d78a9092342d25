package images

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/logger"
	"kakigoori/internal/metrics"
)

type Deps struct {
	Store    MetadataStore
	Blobs    blob.Store
	Codec    *codec.Codec
	Notifier TaskNotifier
	Prewarm  PrewarmRequester
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	// Concurrency bounds the maintenance sweeps.
	Concurrency int
}

// Service wires the pipeline components over one set of stores.
type Service struct {
	Registry   *Registry
	Catalog    *Catalog
	Tasks      *TaskQueue
	Generator  *Generator
	Negotiator *Negotiator
	Backfill   *Backfill
	Upgrader   *Upgrader
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}

	catalog := NewCatalog(d.Store)
	tasks := NewTaskQueue(d.Store, d.Store, catalog, d.Blobs, d.Notifier, d.Metrics, log.With("component", "tasks"))
	generator := NewGenerator(catalog, d.Blobs, d.Codec, tasks, d.Metrics, log.With("component", "generator"))

	return &Service{
		Registry:   NewRegistry(d.Store, catalog, d.Blobs, d.Codec, tasks, d.Prewarm, d.Metrics, log.With("component", "registry")),
		Catalog:    catalog,
		Tasks:      tasks,
		Generator:  generator,
		Negotiator: NewNegotiator(catalog, generator, d.Metrics, log.With("component", "negotiator")),
		Backfill:   NewBackfill(d.Store, catalog, tasks, d.Concurrency, log.With("component", "backfill")),
		Upgrader:   NewUpgrader(d.Store, catalog, d.Blobs, d.Codec, d.Concurrency, log.With("component", "upgrade")),
	}
}

// Prewarm generates the given size of a served image if it is missing.
func (s *Service) Prewarm(ctx context.Context, imageID uuid.UUID, width, height int) error {
	img, err := s.Registry.Get(ctx, imageID)
	if err != nil {
		return err
	}
	return s.Generator.Warm(ctx, img, width, height)
}
