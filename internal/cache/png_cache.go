// Package cache keeps rendered QR images in Redis so repeated content skips
// the encoder.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qr:png:"

// PNGCache caches PNG symbols keyed by content and encoder variant.
type PNGCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	variant string
}

// NewPNGCache returns a new PNGCache. variant must change whenever the
// rendering parameters change so stale images are never served.
func NewPNGCache(rdb *redis.Client, variant string, ttl time.Duration) *PNGCache {
	return &PNGCache{rdb: rdb, ttl: ttl, variant: variant}
}

func (c *PNGCache) key(content string) string {
	sum := sha256.Sum256([]byte(content))
	return keyPrefix + c.variant + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached image or nil on a miss.
func (c *PNGCache) Get(ctx context.Context, content string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, c.key(content)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores png for content.
func (c *PNGCache) Set(ctx context.Context, content string, png []byte) error {
	return c.rdb.Set(ctx, c.key(content), png, c.ttl).Err()
}

// Ping checks that redis is reachable.
func (c *PNGCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
