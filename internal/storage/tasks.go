package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kakigoori/internal/models"
)

const taskColumns = `id, created_at, image_id, width, height, original_file_type, file_type`

func scanTask(row pgx.Row) (*models.VariantTask, error) {
	var t models.VariantTask
	err := row.Scan(&t.ID, &t.CreatedAt, &t.ImageID, &t.Width, &t.Height, &t.SourceEncoding, &t.TargetEncoding)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTasks(op string, rows pgx.Rows, err error) ([]models.VariantTask, error) {
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var tasks []models.VariantTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return tasks, nil
}

func (s *Storage) CreateTask(ctx context.Context, t *models.VariantTask) error {
	const op = "storage.CreateTask"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO image_variant_tasks (id, image_id, width, height, original_file_type, file_type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		t.ID, t.ImageID, t.Width, t.Height, t.SourceEncoding, t.TargetEncoding).Scan(&t.CreatedAt)
	if err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Storage) GetTask(ctx context.Context, id uuid.UUID) (*models.VariantTask, error) {
	const op = "storage.GetTask"

	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM image_variant_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return t, nil
}

// DeleteTask is a no-op for ids that are already gone.
func (s *Storage) DeleteTask(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteTask"

	if _, err := s.pool.Exec(ctx, `DELETE FROM image_variant_tasks WHERE id = $1`, id); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Storage) ListTasks(ctx context.Context, target models.Encoding) ([]models.VariantTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM image_variant_tasks WHERE file_type = $1 ORDER BY created_at`, target)
	return collectTasks("storage.ListTasks", rows, err)
}

func (s *Storage) ListTasksCreatedBefore(ctx context.Context, cutoff time.Time) ([]models.VariantTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM image_variant_tasks WHERE created_at < $1 ORDER BY created_at`, cutoff)
	return collectTasks("storage.ListTasksCreatedBefore", rows, err)
}

func (s *Storage) TaskExists(ctx context.Context, imageID uuid.UUID, width, height int, target models.Encoding) (bool, error) {
	const op = "storage.TaskExists"

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM image_variant_tasks
		 WHERE image_id = $1 AND width = $2 AND height = $3 AND file_type = $4)`,
		imageID, width, height, target).Scan(&exists)
	if err != nil {
		return false, wrapErr(op, err)
	}
	return exists, nil
}
