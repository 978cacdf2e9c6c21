package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// SettledReferenceCache marks payment references whose settlement has
// committed. Settlement is terminal, so a stale miss only costs one extra
// gateway verify call; staleness never changes an outcome.
type SettledReferenceCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewSettledReferenceCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *SettledReferenceCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SettledReferenceCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *SettledReferenceCache) IsSettled(ctx context.Context, reference string) bool {
	n, err := c.rdb.Exists(ctx, refKey(reference)).Result()
	if err != nil {
		c.logger.Debug("Redis lookup failed", zap.Error(err))
		return false
	}
	return n > 0
}

func (c *SettledReferenceCache) MarkSettled(ctx context.Context, reference string) {
	if err := c.rdb.Set(ctx, refKey(reference), "1", c.ttl).Err(); err != nil {
		c.logger.Debug("Redis set failed", zap.Error(err))
	}
}

func refKey(reference string) string {
	return fmt.Sprintf("settled_ref:%s", reference)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
