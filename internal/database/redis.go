package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisClientName  = "divsync"
	redisPingTimeout = 5 * time.Second
)

// NewRedisClient connects the shared snapshot cache. The URL carries address,
// credentials and database number; the connection is checked before returning.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = redisClientName
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis at %s: %w", opts.Addr, err)
	}

	slog.Info("Redis snapshot cache connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}
