package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"kakigoori/internal/auth"
	"kakigoori/internal/blob"
	"kakigoori/internal/codec"
	"kakigoori/internal/events"
	"kakigoori/internal/images"
	"kakigoori/internal/logger"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
	"kakigoori/internal/server"
	"kakigoori/internal/storage"
)

const usage = `usage: kakigoori [flags] [command]

commands:
  serve         run the HTTP server (default)
  backfill      schedule missing worker tasks for every produced size
  upgrade       move version 1 images to the sized key layout
  stale-tasks   list and re-announce tasks older than --older-than
  create-key    create an authorization key
  revoke-key    delete the key given by --key and drop its cached copy

flags:
`

type options struct {
	olderThan     time.Duration
	keyName       string
	keyID         string
	uploadImage   bool
	uploadVariant bool
}

func main() {
	flags := pflag.NewFlagSet("kakigoori", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the YAML config file")
	var opts options
	flags.DurationVar(&opts.olderThan, "older-than", 24*time.Hour, "stale-tasks: minimum task age")
	flags.StringVar(&opts.keyName, "name", "", "create-key: human readable key name")
	flags.StringVar(&opts.keyID, "key", "", "revoke-key: id of the key to revoke")
	flags.BoolVar(&opts.uploadImage, "upload-image", false, "create-key: allow image uploads")
	flags.BoolVar(&opts.uploadVariant, "upload-variant", false, "create-key: allow worker variant uploads")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	command := "serve"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, cfg, opts, log); err != nil {
		log.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *models.Config, opts options, log *slog.Logger) error {
	db, err := storage.NewStorage(ctx, cfg.Database.URL, log.With("component", "storage"))
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer db.Close()

	blobs, err := newBlobStore(ctx, cfg.Blob, log)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}

	m := metrics.New("kakigoori")

	deps := images.Deps{
		Store:       db,
		Blobs:       blobs,
		Codec:       codec.NewFromConfig(cfg.Codec),
		Metrics:     m,
		Log:         log,
		Concurrency: cfg.Backfill.Concurrency,
	}
	var publisher *events.Publisher
	if cfg.Kafka.Enabled() {
		publisher = events.NewPublisher(cfg.Kafka)
		defer publisher.Close()
		deps.Notifier = publisher
		deps.Prewarm = publisher
	}
	svc := images.NewService(deps)

	switch command {
	case "serve":
		return serve(ctx, cfg, svc, db, m, log)
	case "backfill":
		_, err := svc.Backfill.Run(ctx)
		return err
	case "upgrade":
		_, err := svc.Upgrader.Run(ctx)
		return err
	case "stale-tasks":
		stale, err := svc.Tasks.Resurface(ctx, opts.olderThan)
		if err != nil {
			return err
		}
		for _, p := range stale {
			fmt.Printf("%s\t%s\t%dx%d\t%s\t%s\n",
				p.TaskID, p.ImageID, p.Width, p.Height, p.TargetEncoding, p.Age.Round(time.Second))
		}
		return nil
	case "create-key":
		return createKey(ctx, db, opts)
	case "revoke-key":
		return revokeKey(ctx, cfg, db, opts, log)
	}
	return fmt.Errorf("unknown command %q", command)
}

// newGate builds the key gate, backed by Redis when an address is configured.
// The returned close func releases the client.
func newGate(ctx context.Context, cfg *models.Config, db *storage.Storage, log *slog.Logger) (*auth.Gate, func(), error) {
	if cfg.Redis.Addr == "" {
		return auth.NewGate(db, nil, cfg.Redis.KeyTTL, log.With("component", "auth")), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	gate := auth.NewGate(db, client, cfg.Redis.KeyTTL, log.With("component", "auth"))
	return gate, func() { client.Close() }, nil
}

func serve(ctx context.Context, cfg *models.Config, svc *images.Service, db *storage.Storage, m *metrics.Metrics, log *slog.Logger) error {
	gate, closeGate, err := newGate(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeGate()

	srv := server.NewServer(cfg, svc, gate, m, log.With("component", "http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Stop(shutdownCtx)
	})
	if cfg.Kafka.Enabled() {
		consumer := events.NewPrewarmConsumer(cfg.Kafka, svc, log.With("component", "prewarm"))
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newBlobStore(ctx context.Context, cfg models.BlobConfig, log *slog.Logger) (blob.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-memory blob store; objects are lost on exit")
		return blob.NewMemoryStore(), nil
	case "s3":
		return blob.NewS3Store(ctx, cfg, log.With("component", "blob"))
	}
	return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
}

func createKey(ctx context.Context, db *storage.Storage, opts options) error {
	if opts.keyName == "" {
		return errors.New("create-key: --name is required")
	}
	key := &models.AuthorizationKey{
		ID:               uuid.New(),
		Name:             opts.keyName,
		CanUploadImage:   opts.uploadImage,
		CanUploadVariant: opts.uploadVariant,
	}
	if err := db.CreateAuthorizationKey(ctx, key); err != nil {
		return err
	}
	fmt.Println(key.ID)
	return nil
}

func revokeKey(ctx context.Context, cfg *models.Config, db *storage.Storage, opts options, log *slog.Logger) error {
	id, err := uuid.Parse(opts.keyID)
	if err != nil {
		return fmt.Errorf("revoke-key: --key %q: %w", opts.keyID, err)
	}
	gate, closeGate, err := newGate(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer closeGate()
	return gate.Revoke(ctx, db, id)
}
