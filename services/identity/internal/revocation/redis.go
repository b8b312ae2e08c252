package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "sono:identity:revoked:"

type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) Revoke(ctx context.Context, familyID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+familyID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke family %s: %w", familyID, err)
	}
	return nil
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+familyID).Result()
	if err != nil {
		return false, fmt.Errorf("check family %s: %w", familyID, err)
	}
	return n > 0, nil
}
