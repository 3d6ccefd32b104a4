package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRecordStoreSuite checks the behaviour every RecordStore backend shares.
// newStore must return an empty store.
func runRecordStoreSuite(t *testing.T, newStore func(t *testing.T) RecordStore) {
	t.Run("GetWatermark_NotFound", func(t *testing.T) {
		store := newStore(t)

		w, err := store.GetWatermark(context.Background())

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, w)
	})

	t.Run("SetWatermark_Replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		first := &models.SyncWatermark{CanonicalID: "tx-1", AccountID: "acc-1", Timestamp: msTime(2024, 1, 1, 10)}
		second := &models.SyncWatermark{CanonicalID: "tx-2", AccountID: "acc-2", Timestamp: msTime(2024, 1, 2, 10)}

		require.NoError(t, store.SetWatermark(ctx, first))
		require.NoError(t, store.SetWatermark(ctx, second))
		got, err := store.GetWatermark(ctx)

		require.NoError(t, err)
		assert.Equal(t, "tx-2", got.CanonicalID)
		assert.Equal(t, "acc-2", got.AccountID)
		assert.True(t, second.Timestamp.Equal(got.Timestamp), "timestamp round-trips at millisecond precision")
	})

	t.Run("SetWatermark_Anchorless", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		w := &models.SyncWatermark{Timestamp: msTime(2024, 1, 1, 10)}

		require.NoError(t, store.SetWatermark(ctx, w))
		got, err := store.GetWatermark(ctx)

		require.NoError(t, err)
		assert.Empty(t, got.CanonicalID)
		assert.True(t, w.Timestamp.Equal(got.Timestamp))
	})

	t.Run("SetWatermark_SameAnchorTwice", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		first := &models.SyncWatermark{CanonicalID: "tx-1", AccountID: "acc-1", Timestamp: msTime(2024, 1, 1, 10)}
		second := &models.SyncWatermark{CanonicalID: "tx-1", AccountID: "acc-1", Timestamp: msTime(2024, 1, 1, 11)}

		require.NoError(t, store.SetWatermark(ctx, first))
		require.NoError(t, store.SetWatermark(ctx, second))
		got, err := store.GetWatermark(ctx)

		require.NoError(t, err)
		assert.Equal(t, "tx-1", got.CanonicalID)
		assert.True(t, second.Timestamp.Equal(got.Timestamp), "last write wins")
	})

	t.Run("SetWatermark_ConcurrentWritersLastWins", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.SetWatermark(ctx, &models.SyncWatermark{
					CanonicalID: "tx-1",
					AccountID:   "acc-1",
					Timestamp:   msTime(2024, 1, 1, i),
				})
			}()
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		got, err := store.GetWatermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tx-1", got.CanonicalID)
	})

	t.Run("SetWatermark_ResumeStateRoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		w := &models.SyncWatermark{
			CanonicalID:        "tx-1",
			AccountID:          "acc-1",
			Timestamp:          msTime(2024, 1, 1, 10),
			ResumeCursor:       "cursor-2",
			PendingCanonicalID: "tx-9",
			PendingAccountID:   "acc-2",
		}

		require.NoError(t, store.SetWatermark(ctx, w))
		got, err := store.GetWatermark(ctx)
		require.NoError(t, err)
		assert.True(t, got.Resuming())
		assert.Equal(t, "cursor-2", got.ResumeCursor)
		assert.Equal(t, "tx-9", got.PendingCanonicalID)
		assert.Equal(t, "acc-2", got.PendingAccountID)

		// A completed sync clears the resume state.
		require.NoError(t, store.SetWatermark(ctx, &models.SyncWatermark{CanonicalID: "tx-9", AccountID: "acc-2", Timestamp: msTime(2024, 1, 2, 10)}))
		got, err = store.GetWatermark(ctx)
		require.NoError(t, err)
		assert.False(t, got.Resuming())
		assert.Empty(t, got.PendingCanonicalID)
	})

	t.Run("UpsertRecords_RoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("tx-1", msTime(2024, 2, 3, 4))
		rec.AssetQuantity = decimal.NewNullDecimal(decimal.RequireFromString("1.5"))
		rec.Details = map[string]string{"spendMerchant": "Coffee"}

		require.NoError(t, store.UpsertRecords(ctx, []*models.ActivityRecord{rec}))
		got, err := store.GetAllRecords(ctx)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rec.CanonicalID, got[0].CanonicalID)
		assert.Equal(t, rec.AccountID, got[0].AccountID)
		assert.True(t, rec.OccurredAt.Equal(got[0].OccurredAt))
		assert.True(t, rec.Amount.Equal(got[0].Amount))
		assert.Equal(t, rec.AmountSign, got[0].AmountSign)
		assert.Equal(t, "VFV", got[0].AssetSymbol)
		require.True(t, got[0].AssetQuantity.Valid)
		assert.True(t, got[0].AssetQuantity.Decimal.Equal(decimal.RequireFromString("1.5")))
		assert.Equal(t, rec.Details, got[0].Details)
		assert.Equal(t, "SELF_DIRECTED_TFSA", got[0].UnifiedAccountType)
	})

	t.Run("UpsertRecords_Idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		records := []*models.ActivityRecord{
			sampleRecord("tx-1", msTime(2024, 2, 1, 0)),
			sampleRecord("tx-2", msTime(2024, 2, 2, 0)),
		}

		require.NoError(t, store.UpsertRecords(ctx, records))
		require.NoError(t, store.UpsertRecords(ctx, records))
		got, err := store.GetAllRecords(ctx)

		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("UpsertRecords_OverwritesByCanonicalID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		original := sampleRecord("tx-1", msTime(2024, 2, 1, 0))
		updated := sampleRecord("tx-1", msTime(2024, 2, 1, 0))
		updated.Status = "settled"
		updated.AssetQuantity = decimal.NullDecimal{}

		require.NoError(t, store.UpsertRecords(ctx, []*models.ActivityRecord{original}))
		require.NoError(t, store.UpsertRecords(ctx, []*models.ActivityRecord{updated}))
		got, err := store.GetAllRecords(ctx)

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "settled", got[0].Status)
		assert.False(t, got[0].AssetQuantity.Valid)
		assert.Nil(t, got[0].Details)
	})

	t.Run("UpsertRecords_Empty", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.UpsertRecords(context.Background(), nil))
	})

	t.Run("Accounts_RoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		accounts := []*models.Account{
			{ID: "acc-2", Type: "ca_cash", UnifiedAccountType: "CASH", Currency: "CAD", Status: "open"},
			{ID: "acc-1", Type: "ca_tfsa", UnifiedAccountType: "SELF_DIRECTED_TFSA", Currency: "CAD", Nickname: "Long term", Status: "open"},
		}

		require.NoError(t, store.UpsertAccounts(ctx, accounts))
		accounts[0].Status = "closed"
		require.NoError(t, store.UpsertAccounts(ctx, accounts[:1]))
		got, err := store.GetAllAccounts(ctx)

		require.NoError(t, err)
		require.Len(t, got, 2)
		byID := map[string]*models.Account{}
		for _, a := range got {
			byID[a.ID] = a
		}
		assert.Equal(t, "closed", byID["acc-2"].Status)
		assert.Equal(t, "Long term", byID["acc-1"].Nickname)
	})

	t.Run("Reset_ClearsEverything", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.UpsertRecords(ctx, []*models.ActivityRecord{sampleRecord("tx-1", msTime(2024, 1, 1, 0))}))
		require.NoError(t, store.UpsertAccounts(ctx, []*models.Account{{ID: "acc-1", Status: "open"}}))
		require.NoError(t, store.SetWatermark(ctx, &models.SyncWatermark{CanonicalID: "tx-1", Timestamp: msTime(2024, 1, 1, 0)}))

		require.NoError(t, store.Reset(ctx))

		records, err := store.GetAllRecords(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
		accounts, err := store.GetAllAccounts(ctx)
		require.NoError(t, err)
		assert.Empty(t, accounts)
		_, err = store.GetWatermark(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func sampleRecord(id string, occurredAt time.Time) *models.ActivityRecord {
	return &models.ActivityRecord{
		CanonicalID:        id,
		AccountID:          "acc-1",
		IdentityID:         "identity-1",
		OccurredAt:         occurredAt,
		Amount:             decimal.RequireFromString("4.20"),
		AmountSign:         models.AmountPositive,
		Currency:           "CAD",
		Type:               "DIVIDEND",
		Status:             "completed",
		AssetSymbol:        "VFV",
		SecurityID:         "sec-s-1",
		UnifiedAccountType: "SELF_DIRECTED_TFSA",
	}
}

// msTime builds a UTC time with millisecond precision, the resolution every
// backend preserves for watermarks.
func msTime(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}
