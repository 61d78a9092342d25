package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kakigoori/internal/models"
)

func (s *Storage) GetAuthorizationKey(ctx context.Context, id uuid.UUID) (*models.AuthorizationKey, error) {
	const op = "storage.GetAuthorizationKey"

	var k models.AuthorizationKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, can_upload_image, can_upload_variant FROM authorization_keys WHERE id = $1`, id).
		Scan(&k.ID, &k.Name, &k.CanUploadImage, &k.CanUploadVariant)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return &k, nil
}

func (s *Storage) CreateAuthorizationKey(ctx context.Context, k *models.AuthorizationKey) error {
	const op = "storage.CreateAuthorizationKey"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO authorization_keys (id, name, can_upload_image, can_upload_variant) VALUES ($1, $2, $3, $4)`,
		k.ID, k.Name, k.CanUploadImage, k.CanUploadVariant)
	if err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Storage) DeleteAuthorizationKey(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteAuthorizationKey"

	tag, err := s.pool.Exec(ctx, `DELETE FROM authorization_keys WHERE id = $1`, id)
	if err != nil {
		return wrapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapErr(op, pgx.ErrNoRows)
	}
	return nil
}
