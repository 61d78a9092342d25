package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kakigoori/internal/models"
)

// PgxIface is the subset of *pgxpool.Pool the repository uses.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Storage is the Postgres-backed metadata store for images, variants, tasks
// and authorization keys.
type Storage struct {
	pool PgxIface
	log  *slog.Logger
}

func NewStorage(ctx context.Context, dsn string, log *slog.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	if err := runMigrations(dsn, log); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, log: log}, nil
}

func NewWithPool(pool PgxIface, log *slog.Logger) *Storage {
	return &Storage{pool: pool, log: log}
}

func (s *Storage) Close() {
	s.pool.Close()
}

const uniqueViolation = "23505"

// wrapErr maps driver errors onto the models taxonomy.
func wrapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, models.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
