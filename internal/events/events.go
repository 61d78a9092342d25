// Package events carries pipeline notifications over Kafka: task
// announcements for workers and thumbnail prewarm requests.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"kakigoori/internal/models"
)

// TaskEvent announces a newly scheduled conversion task.
type TaskEvent struct {
	TaskID         uuid.UUID       `json:"task_id"`
	ImageID        uuid.UUID       `json:"image_id"`
	Width          int             `json:"width"`
	Height         int             `json:"height"`
	SourceEncoding models.Encoding `json:"original_file_type"`
	TargetEncoding models.Encoding `json:"file_type"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PrewarmEvent struct {
	ImageID uuid.UUID `json:"image_id"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultWriteTimeout = 2 * time.Second
	// Publishes are single messages on the request path; the writer's 1s
	// default would hold every request for a full batch window.
	batchTimeout = 5 * time.Millisecond
)

type Publisher struct {
	writer       Writer
	taskTopic    string
	prewarmTopic string
	timeout      time.Duration
}

// NewPublisher returns a publisher writing to the configured brokers. The
// writer has no default topic; each message names its own.
func NewPublisher(cfg models.KafkaConfig) *Publisher {
	p := NewPublisherWithWriter(newWriter(cfg), cfg.TaskTopic, cfg.PrewarmTopic)
	if cfg.WriteTimeout > 0 {
		p.timeout = cfg.WriteTimeout
	}
	return p
}

func newWriter(cfg models.KafkaConfig) *kafka.Writer {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           timeout,
		MaxAttempts:            2,
	}
}

func NewPublisherWithWriter(w Writer, taskTopic, prewarmTopic string) *Publisher {
	return &Publisher{writer: w, taskTopic: taskTopic, prewarmTopic: prewarmTopic, timeout: defaultWriteTimeout}
}

// write bounds one publish by the publisher timeout so an unreachable broker
// cannot hold the caller until its own context ends.
func (p *Publisher) write(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, msg)
}

// TaskScheduled publishes task keyed by its target encoding so all tasks
// for one worker type land on the same partition.
func (p *Publisher) TaskScheduled(ctx context.Context, task models.VariantTask) error {
	const op = "events.TaskScheduled"

	value, err := json.Marshal(TaskEvent{
		TaskID:         task.ID,
		ImageID:        task.ImageID,
		Width:          task.Width,
		Height:         task.Height,
		SourceEncoding: task.SourceEncoding,
		TargetEncoding: task.TargetEncoding,
		CreatedAt:      task.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.write(ctx, kafka.Message{
		Topic: p.taskTopic,
		Key:   []byte(task.TargetEncoding),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) RequestPrewarm(ctx context.Context, imageID uuid.UUID, width, height int) error {
	const op = "events.RequestPrewarm"

	value, err := json.Marshal(PrewarmEvent{ImageID: imageID, Width: width, Height: height})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.write(ctx, kafka.Message{
		Topic: p.prewarmTopic,
		Key:   []byte(imageID.String()),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// PrewarmHandler is implemented by images.Service.
type PrewarmHandler interface {
	Prewarm(ctx context.Context, imageID uuid.UUID, width, height int) error
}

type PrewarmConsumer struct {
	reader  Reader
	handler PrewarmHandler
	backoff time.Duration
	log     *slog.Logger
}

func NewPrewarmConsumer(cfg models.KafkaConfig, handler PrewarmHandler, log *slog.Logger) *PrewarmConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.PrewarmTopic,
		GroupID: cfg.GroupID,
	})
	return NewPrewarmConsumerWithReader(r, handler, log)
}

func NewPrewarmConsumerWithReader(r Reader, handler PrewarmHandler, log *slog.Logger) *PrewarmConsumer {
	return &PrewarmConsumer{reader: r, handler: handler, backoff: time.Second, log: log}
}

// Run reads prewarm requests until ctx is done. A request that fails is
// logged and dropped; the first real read of that size generates it anyway.
func (c *PrewarmConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("error reading prewarm message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		var ev PrewarmEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Warn("malformed prewarm message", "offset", msg.Offset, "error", err)
			continue
		}
		if err := c.handler.Prewarm(ctx, ev.ImageID, ev.Width, ev.Height); err != nil {
			c.log.Error("prewarm failed", "image_id", ev.ImageID, "size", fmt.Sprintf("%dx%d", ev.Width, ev.Height), "error", err)
			continue
		}
		c.log.Debug("prewarmed", "image_id", ev.ImageID, "size", fmt.Sprintf("%dx%d", ev.Width, ev.Height))
	}
}
