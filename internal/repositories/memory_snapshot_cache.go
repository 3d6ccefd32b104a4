package repositories

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prudhvinik1/divsync/internal/models"
)

const snapshotCleanupInterval = 30 * time.Minute

// MemorySnapshotCache is the in-process SnapshotCache used when no Redis URL is
// configured.
type MemorySnapshotCache struct {
	cache *cache.Cache
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{cache: cache.New(SnapshotRetention, snapshotCleanupInterval)}
}

func (c *MemorySnapshotCache) Get(ctx context.Context, key string) (*models.FinancialSnapshot, error) {
	v, ok := c.cache.Get(snapshotKey(key))
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := v.(models.FinancialSnapshot)
	return &snapshot, nil
}

func (c *MemorySnapshotCache) Set(ctx context.Context, key string, snapshot *models.FinancialSnapshot) error {
	c.cache.Set(snapshotKey(key), *snapshot, cache.DefaultExpiration)
	return nil
}
