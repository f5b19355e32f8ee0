package secrets

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces secret keys in the shared Redis keyspace.
const redisKeyPrefix = "ftl2:secret:"

// RedisBackend resolves secrets from a Redis KV store, the remote
// secret backend named in the external interfaces. It is a narrow
// collaborator, not a store this system owns: no encryption-at-rest is
// applied here (that is the backend's concern), matching the spec's
// treatment of the KV store as an external system accessed over its
// contract.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend dials addr (or reuses an existing client) for secret
// lookups.
func NewRedisBackend(addr, password string) *RedisBackend {
	return &RedisBackend{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := b.client.Get(ctx, redisKeyPrefix+name).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", name, err)
	}
	return v, true, nil
}

// Close releases the underlying Redis connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
