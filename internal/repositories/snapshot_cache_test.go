package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prudhvinik1/divsync/internal/database"
	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSnapshotCacheSuite(t *testing.T, cache SnapshotCache, key string) {
	ctx := context.Background()

	_, err := cache.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	snapshot := &models.FinancialSnapshot{
		CashAccounts: []models.CashAccountSnapshot{{
			Account:         models.Account{ID: "ca-cash-1", UnifiedAccountType: "CASH", Status: "open"},
			Balance:         &models.Money{Amount: decimal.RequireFromString("1000.50"), Currency: "CAD"},
			CADInterestRate: decimal.RequireFromString("0.0275"),
		}},
		ManagedPositions: []models.ManagedPosition{},
		TradePositions:   []models.TradePosition{},
		IdentityID:       "identity-1",
		CreatedAt:        time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Set(ctx, key, snapshot))

	got, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "identity-1", got.IdentityID)
	assert.True(t, snapshot.CreatedAt.Equal(got.CreatedAt))
	require.Len(t, got.CashAccounts, 1)
	assert.True(t, got.CashAccounts[0].Balance.Amount.Equal(decimal.RequireFromString("1000.50")))
	assert.True(t, got.CashAccounts[0].CADInterestRate.Equal(decimal.RequireFromString("0.0275")))

	_, err = cache.Get(ctx, key+"-other")
	assert.ErrorIs(t, err, ErrNotFound, "snapshots are stored per key")
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "snapshot:current", snapshotKey("current"))
	assert.NotEqual(t, snapshotKey("a"), snapshotKey("b"))
}

func TestMemorySnapshotCache(t *testing.T) {
	runSnapshotCacheSuite(t, NewMemorySnapshotCache(), "current")
}

func TestRedisSnapshotCache(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := database.NewRedisClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	key := "test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), snapshotKey(key)) })

	runSnapshotCacheSuite(t, NewRedisSnapshotCache(client), key)
}
