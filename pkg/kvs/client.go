// Package kvs provides the shared Redis client used by the Event Bus, the
// Intervention Manager, and the resume-overrides store.
package kvs

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/config"
)

// NewClient opens a Redis connection and verifies it with a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
