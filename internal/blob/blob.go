// Package blob is the object store client. Implementations retry internally
// and report failures either as ErrNotExist (permanent, key missing) or
// wrapped in models.ErrTransientStorage.
package blob

import (
	"context"
	"errors"
)

var ErrNotExist = errors.New("blob: object does not exist")

type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, keys ...string) error
}
