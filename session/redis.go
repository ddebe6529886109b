package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dhn/kerupuk-ledger/ledger"
)

// RedisRegistry stores token IDs as redis keys with the token's TTL, so
// sessions survive a restart and are shared between server processes.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry uses client with keys "<prefix><token id>".
func NewRedisRegistry(client redis.Cmdable, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "kerupuk:session:"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisRegistry) key(id string) string { return r.prefix + id }

func (r *RedisRegistry) Add(ctx context.Context, id string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := r.client.Set(ctx, r.key(id), 1, ttl).Err()
	return ledger.Storage("session add", err)
}

func (r *RedisRegistry) Contains(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return false, ledger.Storage("session lookup", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	return ledger.Storage("session remove", r.client.Del(ctx, r.key(id)).Err())
}
