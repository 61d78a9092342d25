// Package auth checks the key id carried in the Authorization header against
// the authorization_keys table. Lookups are cached in Redis.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kakigoori/internal/models"
)

type Capability int

const (
	UploadImage Capability = iota
	UploadVariant
)

func (c Capability) String() string {
	switch c {
	case UploadImage:
		return "can_upload_image"
	case UploadVariant:
		return "can_upload_variant"
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

func (c Capability) grantedBy(key *models.AuthorizationKey) bool {
	switch c {
	case UploadImage:
		return key.CanUploadImage
	case UploadVariant:
		return key.CanUploadVariant
	}
	return false
}

type KeyStore interface {
	GetAuthorizationKey(ctx context.Context, id uuid.UUID) (*models.AuthorizationKey, error)
}

// KeyRevoker deletes keys from the key store.
type KeyRevoker interface {
	DeleteAuthorizationKey(ctx context.Context, id uuid.UUID) error
}

// RedisClient is the subset of go-redis the gate needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const cachePrefix = "kakigoori:authkey:"

type Gate struct {
	keys  KeyStore
	cache RedisClient
	ttl   time.Duration
	log   *slog.Logger
}

// NewGate builds a gate. cache may be nil, in which case every check reads
// the key store.
func NewGate(keys KeyStore, cache RedisClient, ttl time.Duration, log *slog.Logger) *Gate {
	return &Gate{keys: keys, cache: cache, ttl: ttl, log: log}
}

// Authorize resolves header to a key holding capability. A missing, malformed
// or unknown key and a key without the capability are all ErrForbidden.
func (g *Gate) Authorize(ctx context.Context, header string, capability Capability) (*models.AuthorizationKey, error) {
	const op = "auth.Authorize"

	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%s: missing key: %w", op, models.ErrForbidden)
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed key: %w", op, models.ErrForbidden)
	}

	key, err := g.lookup(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: unknown key %s: %w", op, id, models.ErrForbidden)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !capability.grantedBy(key) {
		return nil, fmt.Errorf("%s: key %q lacks %s: %w", op, key.Name, capability, models.ErrForbidden)
	}
	return key, nil
}

// Forget drops a cached key so the next check reads the key store.
func (g *Gate) Forget(ctx context.Context, id uuid.UUID) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Del(ctx, cachePrefix+id.String()).Err()
}

// Revoke deletes the key from store and drops its cached copy, so servers
// sharing the cache stop honouring it without waiting for the TTL.
func (g *Gate) Revoke(ctx context.Context, store KeyRevoker, id uuid.UUID) error {
	const op = "auth.Revoke"

	if err := store.DeleteAuthorizationKey(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := g.Forget(ctx, id); err != nil {
		return fmt.Errorf("%s: key deleted but cache entry kept: %w", op, err)
	}
	g.log.Info("authorization key revoked", "key_id", id)
	return nil
}

func (g *Gate) lookup(ctx context.Context, id uuid.UUID) (*models.AuthorizationKey, error) {
	if key, ok := g.cached(ctx, id); ok {
		return key, nil
	}

	key, err := g.keys.GetAuthorizationKey(ctx, id)
	if err != nil {
		return nil, err
	}

	if g.cache != nil {
		if raw, err := json.Marshal(key); err == nil {
			if err := g.cache.Set(ctx, cachePrefix+id.String(), raw, g.ttl).Err(); err != nil {
				g.log.Warn("auth key cache write failed", "key_id", id, "error", err)
			}
		}
	}
	return key, nil
}

func (g *Gate) cached(ctx context.Context, id uuid.UUID) (*models.AuthorizationKey, bool) {
	if g.cache == nil {
		return nil, false
	}
	raw, err := g.cache.Get(ctx, cachePrefix+id.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.log.Warn("auth key cache read failed", "key_id", id, "error", err)
		}
		return nil, false
	}
	var key models.AuthorizationKey
	if err := json.Unmarshal(raw, &key); err != nil {
		g.log.Warn("auth key cache entry corrupt", "key_id", id, "error", err)
		return nil, false
	}
	return &key, true
}
