package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"identify/internal/contact/metrics"
)

// RedisCache is a Redis-backed result cache shared by every instance.
type RedisCache struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

// NewRedis constructs a Redis result cache. m may be nil.
func NewRedis(client *redis.Client, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, metrics: m}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveCacheLatency("get", time.Since(start)) }()

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached view: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	defer func() { c.metrics.ObserveCacheLatency("set", time.Since(start)) }()

	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set cached view: %w", err)
	}
	return nil
}

// Index adds key to the cluster's key set. The set outlives its members by
// one TTL at most.
func (c *RedisCache) Index(ctx context.Context, primaryID int64, key string, ttl time.Duration) error {
	start := time.Now()
	defer func() { c.metrics.ObserveCacheLatency("index", time.Since(start)) }()

	ck := clusterKey(primaryID)
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, ck, key)
	pipe.Expire(ctx, ck, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index cached view: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, primaryID int64) error {
	start := time.Now()
	defer func() { c.metrics.ObserveCacheLatency("invalidate", time.Since(start)) }()

	ck := clusterKey(primaryID)
	keys, err := c.client.SMembers(ctx, ck).Result()
	if err != nil {
		return fmt.Errorf("list cluster views: %w", err)
	}
	keys = append(keys, ck)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cluster views: %w", err)
	}
	return nil
}
