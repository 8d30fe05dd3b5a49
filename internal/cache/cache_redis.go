package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
)

const redisCachePrefix = "duckflix:linkcache:"

// RedisBackend stores LinkCacheEntry values in Redis with JSON
// serialization, so multiple orchestrator replicas share one cache of
// resolved stream URLs. Grounded on the search service's RedisCacheBackend.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (domain.LinkCacheEntry, bool, error) {
	data, err := r.client.Get(ctx, redisCachePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.LinkCacheEntry{}, false, nil
		}
		return domain.LinkCacheEntry{}, false, err
	}
	var entry domain.LinkCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.LinkCacheEntry{}, false, err
	}
	return entry, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, entry domain.LinkCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisCachePrefix+key, data, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisCachePrefix+key).Err()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
