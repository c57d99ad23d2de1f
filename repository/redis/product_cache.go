package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/storecore/domain"
)

// ProductCache is a read-through cache of product snapshots. It is never the
// source of truth: entries are dropped after every committed product change.
type ProductCache struct {
	client *redislib.Client
	prefix string
	ttl    time.Duration
}

// NewProductCache creates a Redis-backed product cache.
func NewProductCache(client *redislib.Client, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ProductCache{
		client: client,
		prefix: "product:",
		ttl:    ttl,
	}
}

// Get returns the cached snapshot and whether it was present.
func (c *ProductCache) Get(ctx context.Context, id string) (domain.ProductSnapshot, bool, error) {
	result, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return domain.ProductSnapshot{}, false, nil
		}
		return domain.ProductSnapshot{}, false, err
	}

	var snap domain.ProductSnapshot
	if err := json.Unmarshal(result, &snap); err != nil {
		return domain.ProductSnapshot{}, false, err
	}
	return snap, true, nil
}

func (c *ProductCache) Set(ctx context.Context, snap domain.ProductSnapshot) error {
	if snap.ID == "" {
		return domain.ErrInvalidPayload
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snap.ID), payload, c.ttl).Err()
}

func (c *ProductCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.key(id)).Err()
}

func (c *ProductCache) key(id string) string {
	return fmt.Sprintf("%s%s", c.prefix, id)
}
