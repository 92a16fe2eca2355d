package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"crosspost/infrastructure/configuration"
)

// NewRedisClient connects to Redis from configuration. A host beginning with
// redis:// is treated as a full URL so container and managed-service configs
// both work.
func NewRedisClient(ctx context.Context, cfg configuration.RedisClient) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(cfg.Host, "redis://") || strings.HasPrefix(cfg.Host, "rediss://") {
		opt, err := redis.ParseURL(cfg.Host)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB(),
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
