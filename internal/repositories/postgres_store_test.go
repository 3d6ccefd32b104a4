package repositories

import (
	"context"
	"os"
	"testing"

	"github.com/prudhvinik1/divsync/internal/database"
	"github.com/stretchr/testify/require"
)

// Runs only against a disposable database: every subtest truncates the tables.
func TestPostgresRecordStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := database.NewPostgresPool(context.Background(), url)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)

	runRecordStoreSuite(t, func(t *testing.T) RecordStore {
		store := NewPostgresRecordStore(pool)
		require.NoError(t, store.Reset(context.Background()))
		return store
	})
}
