package sessionstore

import (
	"context"
	"time"

	"prepareup/internal/redis"
)

// redisGrace keeps entries a little past the store TTL so that the Store, not
// redis, decides when a session has expired.
const redisGrace = time.Minute

// RedisBackend stores entries in redis under a key prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		ttl += redisGrace
	}
	return r.client.Set(ctx, r.prefix+key, value, ttl)
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key)
	if redis.IsMiss(err) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key)
}
