package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-order-engine/internal/models"
)

// Cache holds resolved carts. Every Delete bumps the key's generation, and
// Set only stores a cart read under the current generation, so a read that
// raced with an invalidation never repopulates the cache.
type Cache interface {
	Get(ctx context.Context, key string) (*models.Cart, error)
	Generation(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, generation int64, cart *models.Cart) error
	Delete(ctx context.Context, key string) error
}

var (
	ErrCacheMiss       = errors.New("cache miss")
	ErrStaleGeneration = errors.New("cart invalidated since read")
)

const maxTTLJitter = 5 * time.Minute

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*models.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	return &cart, nil
}

func (r *RedisCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// Set stores the cart with the base TTL plus up to five minutes of jitter so
// entries written together do not expire together. It returns
// ErrStaleGeneration without writing when the key was invalidated after
// generation was read.
func (r *RedisCache) Set(ctx context.Context, key string, generation int64, cart *models.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Int63n(int64(maxTTLJitter)))
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey(key)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return ErrStaleGeneration
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(key), data, r.baseTTL+jitter)
			return nil
		})
		return err
	}, generationKey(key))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return ErrStaleGeneration
	default:
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Delete drops the cached cart and bumps its generation in one transaction.
// The generation outlives any cached value written under it.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(key))
		pipe.Expire(ctx, generationKey(key), 2*(r.baseTTL+maxTTLJitter))
		pipe.Del(ctx, cacheKey(key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(key string) string {
	return fmt.Sprintf("cart:%s", key)
}

func generationKey(key string) string {
	return cacheKey(key) + ":gen"
}

// NoopCache always misses. It is used when no Redis URL is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*models.Cart, error) { return nil, ErrCacheMiss }

func (NoopCache) Generation(context.Context, string) (int64, error) { return 0, nil }

func (NoopCache) Set(context.Context, string, int64, *models.Cart) error { return nil }

func (NoopCache) Delete(context.Context, string) error { return nil }
