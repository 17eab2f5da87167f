// Package cache keeps product records in Redis for read-by-id traffic.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"katalog/internal/models"
)

const keyPrefix = "katalog:product:"

// DefaultInvalidationTTL is how long an evicted id refuses new entries.
// A reader that loaded the record before the eviction and stores it after
// would otherwise cache the superseded version for the full TTL.
const DefaultInvalidationTTL = 30 * time.Second

// invalidated marks an evicted id. gob output never starts with a zero
// byte, so it cannot collide with an encoded product.
var invalidated = []byte{0}

// Config holds Redis connection details.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ProductCache stores products gob-encoded so that fields hidden from the
// JSON representation, the image keys in particular, survive the round trip.
type ProductCache struct {
	client          *redis.Client
	ttl             time.Duration
	invalidationTTL time.Duration
}

// NewProductCache returns a cache using a new client for cfg.
func NewProductCache(cfg Config) *ProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewProductCacheWithClient(client, cfg.TTL)
}

// NewProductCacheWithClient wraps an existing client.
func NewProductCacheWithClient(client *redis.Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProductCache{client: client, ttl: ttl, invalidationTTL: DefaultInvalidationTTL}
}

// Ping checks connectivity.
func (c *ProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached product, or nil, nil on a miss.
func (c *ProductCache) Get(ctx context.Context, id string) (*models.Product, error) {
	data, err := c.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", id)
	}

	if bytes.Equal(data, invalidated) {
		return nil, nil
	}

	var p models.Product
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		// Treat undecodable entries, e.g. from an older layout, as misses.
		_ = c.client.Del(ctx, Key(id)).Err()
		return nil, nil
	}
	return &p, nil
}

// Set stores p under its id unless the id already has an entry or was
// evicted within the invalidation window.
func (c *ProductCache) Set(ctx context.Context, p *models.Product) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return errors.Wrap(err, "encode product")
	}
	if err := c.client.SetNX(ctx, Key(p.ID), buf.Bytes(), c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", p.ID)
	}
	return nil
}

// Delete evicts id and blocks it from being cached again for the
// invalidation window. Evicting a missing entry is not an error.
func (c *ProductCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Set(ctx, Key(id), invalidated, c.invalidationTTL).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", id)
	}
	return nil
}

// Close releases the client's connections.
func (c *ProductCache) Close() error {
	return c.client.Close()
}

// Key is the Redis key of a product id.
func Key(id string) string {
	return keyPrefix + id
}
