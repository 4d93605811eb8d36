// Package cache keeps hot catalog reads in Redis.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/grup/internal/domain/product"
)

const (
	keyPrefix  = "grup:product:"
	listKey    = "grup:products"
	DefaultTTL = 5 * time.Minute
)

var _ product.Repository = (*Products)(nil)

// Products is a read-through cache in front of a product.Repository.
//
// Redis failures are logged and never fail a read: the request falls through
// to the underlying repository.
type Products struct {
	next   product.Repository
	client redis.UniversalClient
	ttl    time.Duration
}

// NewProducts wraps next with a Redis cache. A non-positive ttl selects
// DefaultTTL.
func NewProducts(next product.Repository, client redis.UniversalClient, ttl time.Duration) *Products {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Products{next: next, client: client, ttl: ttl}
}

func productKey(id string) string {
	return keyPrefix + id
}

// List returns the whole catalog, cached as a single document.
func (c *Products) List(ctx context.Context) ([]product.Product, error) {
	var cached []product.Product
	if ok := c.getJSON(ctx, listKey, &cached); ok {
		return cached, nil
	}

	list, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	c.setJSON(ctx, listKey, list)
	return list, nil
}

// GetByID returns a product, filling the cache on miss. Missing products are
// not cached.
func (c *Products) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var cached product.Product
	if ok := c.getJSON(ctx, productKey(id), &cached); ok {
		return &cached, nil
	}

	p, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.setJSON(ctx, productKey(id), p)
	return p, nil
}

// GetByIDs serves what it can from one MGET and loads the rest from the
// underlying repository.
func (c *Products) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}

	var (
		found   = make([]product.Product, 0, len(ids))
		missing []string
	)
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		zctx.From(ctx).Warn("Product cache read failed", zap.Error(err))
		values = make([]any, len(ids))
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p product.Product
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found = append(found, p)
	}
	if len(missing) == 0 {
		return found, nil
	}

	loaded, err := c.next.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(loaded) > 0 {
		pipe := c.client.Pipeline()
		for i := range loaded {
			data, err := json.Marshal(&loaded[i])
			if err != nil {
				continue
			}
			pipe.Set(ctx, productKey(loaded[i].ID), data, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			zctx.From(ctx).Warn("Product cache fill failed", zap.Error(err))
		}
	}
	return append(found, loaded...), nil
}

// Upsert writes through to the repository and drops the stale entries.
func (c *Products) Upsert(ctx context.Context, p *product.Product) error {
	if err := c.next.Upsert(ctx, p); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, p.ID); err != nil {
		zctx.From(ctx).Warn("Product cache invalidation failed",
			zap.String("product_id", p.ID),
			zap.Error(err),
		)
	}
	return nil
}

// Invalidate removes the cached product ids and the cached catalog listing.
func (c *Products) Invalidate(ctx context.Context, ids ...string) error {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, listKey)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "delete cached products")
	}
	return nil
}

func (c *Products) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Warn("Product cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		zctx.From(ctx).Warn("Product cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Products) setJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Product cache write failed", zap.String("key", key), zap.Error(err))
	}
}
