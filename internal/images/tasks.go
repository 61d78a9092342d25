package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kakigoori/internal/blob"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

// PendingTask is what a worker sees when it polls for work.
type PendingTask struct {
	TaskID         uuid.UUID
	ImageID        uuid.UUID
	Width          int
	Height         int
	SourceEncoding models.Encoding
	TargetEncoding models.Encoding
	CreatedAt      time.Time
	Age            time.Duration
}

// TaskQueue hands expensive conversions to external workers. A task lives
// from Schedule until a worker's Fulfill succeeds. There is no failed state:
// a task nobody fulfills stays pending and shows up in Stale.
type TaskQueue struct {
	tasks    TaskStore
	images   ImageStore
	catalog  *Catalog
	blobs    blob.Store
	notifier TaskNotifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

func NewTaskQueue(tasks TaskStore, images ImageStore, catalog *Catalog, blobs blob.Store,
	notifier TaskNotifier, m *metrics.Metrics, log *slog.Logger) *TaskQueue {
	return &TaskQueue{
		tasks:    tasks,
		images:   images,
		catalog:  catalog,
		blobs:    blobs,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Schedule creates a task unless the target variant or an identical pending
// task already exists. The check and the insert are not atomic; a duplicate
// task is harmless because fulfilment upserts.
func (q *TaskQueue) Schedule(ctx context.Context, img *models.Image, width, height int, source, target models.Encoding) (*models.VariantTask, bool, error) {
	const op = "images.Schedule"

	if !target.IsTarget() {
		return nil, false, fmt.Errorf("%s: %s is not a worker encoding: %w", op, target, models.ErrBadRequest)
	}

	exists, err := q.catalog.Exists(ctx, img.ID, width, height, target)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return nil, false, nil
	}
	pending, err := q.tasks.TaskExists(ctx, img.ID, width, height, target)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return nil, false, nil
	}

	task := &models.VariantTask{
		ID:             uuid.New(),
		ImageID:        img.ID,
		Width:          width,
		Height:         height,
		SourceEncoding: source,
		TargetEncoding: target,
	}
	if err := q.tasks.CreateTask(ctx, task); err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	q.metrics.TaskScheduled(string(target))
	q.announce(ctx, *task)
	return task, true, nil
}

// ScheduleDerivatives schedules every worker encoding for one size.
func (q *TaskQueue) ScheduleDerivatives(ctx context.Context, img *models.Image, width, height int, source models.Encoding) error {
	for _, target := range models.TargetEncodings {
		if _, _, err := q.Schedule(ctx, img, width, height, source, target); err != nil {
			return err
		}
	}
	return nil
}

func (q *TaskQueue) ListPending(ctx context.Context, target models.Encoding) ([]PendingTask, error) {
	const op = "images.ListPending"

	tasks, err := q.tasks.ListTasks(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return q.pending(tasks), nil
}

// Fulfill stores a worker's output for taskID and retires the task. A second
// call for the same task finds nothing and returns ErrNotFound.
func (q *TaskQueue) Fulfill(ctx context.Context, taskID uuid.UUID, data []byte) (*models.Variant, error) {
	const op = "images.Fulfill"

	if len(data) == 0 {
		return nil, fmt.Errorf("%s: empty upload: %w", op, models.ErrBadRequest)
	}

	task, err := q.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%s: task %s: %w", op, taskID, err)
	}
	img, err := q.images.GetImage(ctx, task.ImageID)
	if err != nil {
		return nil, fmt.Errorf("%s: image %s: %w", op, task.ImageID, err)
	}

	key := models.VariantKey(img.ID, task.Width, task.Height, task.TargetEncoding)
	if err := q.blobs.Put(ctx, key, data, task.TargetEncoding.ContentType()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	variant, err := q.catalog.Record(ctx, img, task.Width, task.Height, task.TargetEncoding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := q.tasks.DeleteTask(ctx, task.ID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q.metrics.TaskFulfilled(string(task.TargetEncoding))
	q.log.Info("conversion task fulfilled",
		"task_id", task.ID, "image_id", img.ID, "size", fmt.Sprintf("%dx%d", task.Width, task.Height),
		"encoding", task.TargetEncoding, "bytes", len(data))
	return variant, nil
}

// Stale lists tasks pending for longer than olderThan, oldest first.
func (q *TaskQueue) Stale(ctx context.Context, olderThan time.Duration) ([]PendingTask, error) {
	const op = "images.Stale"

	tasks, err := q.tasks.ListTasksCreatedBefore(ctx, q.now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return q.pending(tasks), nil
}

// Resurface announces stale tasks again. It changes no task state.
func (q *TaskQueue) Resurface(ctx context.Context, olderThan time.Duration) ([]PendingTask, error) {
	stale, err := q.Stale(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		q.log.Warn("stale conversion task",
			"task_id", p.TaskID, "image_id", p.ImageID, "encoding", p.TargetEncoding, "age", p.Age.Round(time.Second))
		q.announce(ctx, models.VariantTask{
			ID:             p.TaskID,
			CreatedAt:      p.CreatedAt,
			ImageID:        p.ImageID,
			Width:          p.Width,
			Height:         p.Height,
			SourceEncoding: p.SourceEncoding,
			TargetEncoding: p.TargetEncoding,
		})
	}
	return stale, nil
}

func (q *TaskQueue) pending(tasks []models.VariantTask) []PendingTask {
	now := q.now()
	out := make([]PendingTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, PendingTask{
			TaskID:         t.ID,
			ImageID:        t.ImageID,
			Width:          t.Width,
			Height:         t.Height,
			SourceEncoding: t.SourceEncoding,
			TargetEncoding: t.TargetEncoding,
			CreatedAt:      t.CreatedAt,
			Age:            t.Age(now),
		})
	}
	return out
}

// announce is best effort; workers still find the task by polling.
func (q *TaskQueue) announce(ctx context.Context, task models.VariantTask) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.TaskScheduled(ctx, task); err != nil && !errors.Is(err, context.Canceled) {
		q.log.Warn("task announcement failed", "task_id", task.ID, "error", err)
	}
}
