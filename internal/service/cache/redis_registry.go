package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	drepo "SnipeRadar/internal/domain/repository"
)

// RedisRegistry is a ListingRegistry shared across instances. Keys live in
// one sorted set scored by first-seen time; ZADD NX gives the atomic
// check-and-insert, and the same transaction trims expired and excess members.
type RedisRegistry struct {
	client  *redis.Client
	key     string
	ttl     time.Duration
	maxSize int64
	now     func() time.Time
}

func NewRedisRegistry(client *redis.Client, key string, ttl time.Duration, maxSize int) *RedisRegistry {
	if maxSize <= 0 {
		maxSize = 50_000
	}
	return &RedisRegistry{client: client, key: key, ttl: ttl, maxSize: int64(maxSize), now: time.Now}
}

func (r *RedisRegistry) MarkSeen(ctx context.Context, key string) (bool, error) {
	now := r.now()

	pipe := r.client.TxPipeline()
	if r.ttl > 0 {
		cutoff := now.Add(-r.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, r.key, "-inf", strconv.FormatInt(cutoff, 10))
	}
	added := pipe.ZAddNX(ctx, r.key, redis.Z{Score: float64(now.UnixMilli()), Member: key})
	pipe.ZRemRangeByRank(ctx, r.key, 0, -(r.maxSize + 1))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("registry mark %s: %w", key, err)
	}
	return added.Val() == 1, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, key string) error {
	if err := r.client.ZRem(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("registry remove %s: %w", key, err)
	}
	return nil
}

func (r *RedisRegistry) Size(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("registry size: %w", err)
	}
	return int(n), nil
}

var _ drepo.ListingRegistry = (*RedisRegistry)(nil)
