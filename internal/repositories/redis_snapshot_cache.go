package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "snapshot:"
	// Freshness is judged from CreatedAt by the caller; the key outlives it so a
	// signed-out user still gets the last known snapshot.
	SnapshotRetention = 7 * 24 * time.Hour
)

type RedisSnapshotCache struct {
	client *redis.Client
}

func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client}
}

func (c *RedisSnapshotCache) Get(ctx context.Context, key string) (*models.FinancialSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snapshot models.FinancialSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, key string, snapshot *models.FinancialSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKey(key), data, SnapshotRetention).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

func snapshotKey(key string) string {
	return snapshotKeyPrefix + key
}
