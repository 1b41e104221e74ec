package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ViewCache stores JSON-encoded views in redis, grouped by scope.
//
// Each scope has a generation counter that is part of every key.
// Invalidate bumps the counter, so all views written under the old
// generation become unreachable at once and expire on their own TTL.
type ViewCache struct {
	rdb    Store
	ttl    time.Duration
	prefix string
}

func NewViewCache(rdb Store, ttl time.Duration) *ViewCache {
	return &ViewCache{rdb: rdb, ttl: ttl, prefix: "scheduler:view"}
}

func (c *ViewCache) genKey(scope string) string {
	return c.prefix + ":gen:" + scope
}

func (c *ViewCache) entryKey(scope string, gen int64, key string) string {
	return fmt.Sprintf("%s:%s:%d:%s", c.prefix, scope, gen, key)
}

func (c *ViewCache) generation(ctx context.Context, scope string) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

// Get decodes the cached value into dst. It reports false on a miss.
func (c *ViewCache) Get(ctx context.Context, scope, key string, dst interface{}) (bool, error) {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return false, err
	}
	data, err := c.rdb.Get(ctx, c.entryKey(scope, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cached view: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// An undecodable entry is treated as a miss and overwritten.
		return false, nil
	}
	return true, nil
}

func (c *ViewCache) Set(ctx context.Context, scope, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode view: %w", err)
	}
	gen, err := c.generation(ctx, scope)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.entryKey(scope, gen, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached view: %w", err)
	}
	return nil
}

// Invalidate drops every view cached for scope.
func (c *ViewCache) Invalidate(ctx context.Context, scope string) error {
	if err := c.rdb.Incr(ctx, c.genKey(scope)).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}
