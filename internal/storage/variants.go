package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kakigoori/internal/models"
)

const variantColumns = `id, image_id, width, height, file_type, is_full_size`

func scanVariant(row pgx.Row) (*models.Variant, error) {
	var v models.Variant
	if err := row.Scan(&v.ID, &v.ImageID, &v.Width, &v.Height, &v.Encoding, &v.IsFullSize); err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVariants(op string, rows pgx.Rows, err error) ([]models.Variant, error) {
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var variants []models.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		variants = append(variants, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return variants, nil
}

// UpsertVariant inserts v unless a record with the same image, size and
// encoding exists. Either way v is filled from the stored row.
func (s *Storage) UpsertVariant(ctx context.Context, v *models.Variant) error {
	const op = "storage.UpsertVariant"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO image_variants (image_id, width, height, file_type, is_full_size)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (image_id, width, height, file_type) DO NOTHING
		 RETURNING id`,
		v.ImageID, v.Width, v.Height, v.Encoding, v.IsFullSize).Scan(&v.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return wrapErr(op, err)
	}

	existing, err := scanVariant(s.pool.QueryRow(ctx,
		`SELECT `+variantColumns+` FROM image_variants
		 WHERE image_id = $1 AND width = $2 AND height = $3 AND file_type = $4`,
		v.ImageID, v.Width, v.Height, v.Encoding))
	if err != nil {
		return wrapErr(op, err)
	}
	*v = *existing
	return nil
}

func (s *Storage) ListVariants(ctx context.Context, imageID uuid.UUID, width, height int) ([]models.Variant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+variantColumns+` FROM image_variants
		 WHERE image_id = $1 AND width = $2 AND height = $3 ORDER BY id`,
		imageID, width, height)
	return collectVariants("storage.ListVariants", rows, err)
}

func (s *Storage) ListImageVariants(ctx context.Context, imageID uuid.UUID) ([]models.Variant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+variantColumns+` FROM image_variants WHERE image_id = $1 ORDER BY id`, imageID)
	return collectVariants("storage.ListImageVariants", rows, err)
}

// FindOriginal returns the canonical full-size JPEG or PNG variant.
func (s *Storage) FindOriginal(ctx context.Context, imageID uuid.UUID) (*models.Variant, error) {
	const op = "storage.FindOriginal"

	v, err := scanVariant(s.pool.QueryRow(ctx,
		`SELECT `+variantColumns+` FROM image_variants
		 WHERE image_id = $1 AND is_full_size AND file_type IN ($2, $3)
		 ORDER BY id LIMIT 1`,
		imageID, models.EncodingJPEG, models.EncodingPNG))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return v, nil
}

func (s *Storage) VariantExists(ctx context.Context, imageID uuid.UUID, width, height int, enc models.Encoding) (bool, error) {
	const op = "storage.VariantExists"

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM image_variants
		 WHERE image_id = $1 AND width = $2 AND height = $3 AND file_type = $4)`,
		imageID, width, height, enc).Scan(&exists)
	if err != nil {
		return false, wrapErr(op, err)
	}
	return exists, nil
}
