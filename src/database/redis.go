package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/config"
)

// RedisClient wraps the go-redis client used as the ephemeral KV store for
// sessions, CSRF tokens, upload metadata and transfer locks.
type RedisClient struct {
	*redis.Client
	logger *logrus.Logger
}

// NewRedisConnection creates a Redis client from the configured URL and
// fails fast if the server does not answer a ping.
func NewRedisConnection(cfg *config.Config, logger *logrus.Logger) (*RedisClient, error) {
	logger.Info("Connecting to Redis...")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis (fail-fast): %w", err)
	}

	logger.Info("Redis connection established")

	return &RedisClient{Client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	if r.logger != nil {
		r.logger.Info("Closing Redis connection...")
	}
	return r.Client.Close()
}

// HealthCheck verifies the Redis connection is still alive.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Ping(ctx).Err(); err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Error("Redis health check failed")
		}
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
