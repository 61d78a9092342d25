package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kakigoori/internal/models"
)

const imageColumns = `id, creation_date, uploaded, original_name, original_mime_type, original_md5,
	is_webp_available, is_avif_available, is_jpegli_available, model_version, width, height`

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(&img.ID, &img.CreationDate, &img.Uploaded, &img.OriginalName, &img.OriginalMimeType,
		&img.OriginalMD5, &img.IsWebPAvailable, &img.IsAVIFAvailable, &img.IsJPEGLIAvailable,
		&img.ModelVersion, &img.Width, &img.Height)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *Storage) CreateImage(ctx context.Context, img *models.Image) error {
	const op = "storage.CreateImage"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (id, uploaded, original_name, original_mime_type, original_md5,
		 is_webp_available, is_avif_available, is_jpegli_available, model_version, width, height)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING creation_date`,
		img.ID, img.Uploaded, img.OriginalName, img.OriginalMimeType, img.OriginalMD5,
		img.IsWebPAvailable, img.IsAVIFAvailable, img.IsJPEGLIAvailable, img.ModelVersion,
		img.Width, img.Height).Scan(&img.CreationDate)
	if err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Storage) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	const op = "storage.GetImage"

	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return img, nil
}

func (s *Storage) GetImageByHash(ctx context.Context, md5 string) (*models.Image, error) {
	const op = "storage.GetImageByHash"

	img, err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE original_md5 = $1`, md5))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return img, nil
}

func (s *Storage) MarkUploaded(ctx context.Context, id uuid.UUID) error {
	const op = "storage.MarkUploaded"

	tag, err := s.pool.Exec(ctx, `UPDATE images SET uploaded = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(op, pgx.ErrNoRows)
	}
	return nil
}

// UpdateImage rewrites the mutable bookkeeping columns: dimensions, model
// version and the legacy availability hints.
func (s *Storage) UpdateImage(ctx context.Context, img *models.Image) error {
	const op = "storage.UpdateImage"

	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET width = $2, height = $3, model_version = $4,
		 is_webp_available = $5, is_avif_available = $6, is_jpegli_available = $7
		 WHERE id = $1`,
		img.ID, img.Width, img.Height, img.ModelVersion,
		img.IsWebPAvailable, img.IsAVIFAvailable, img.IsJPEGLIAvailable)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(op, pgx.ErrNoRows)
	}
	return nil
}

// ListImagesByVersion returns images at the given model version, newest first.
func (s *Storage) ListImagesByVersion(ctx context.Context, version int) ([]models.Image, error) {
	const op = "storage.ListImagesByVersion"

	rows, err := s.pool.Query(ctx,
		`SELECT `+imageColumns+` FROM images WHERE model_version = $1 ORDER BY creation_date DESC`, version)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return images, nil
}
