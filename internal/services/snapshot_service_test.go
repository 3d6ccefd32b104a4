package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
	"github.com/prudhvinik1/divsync/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotClient struct {
	financialsCalls atomic.Int32
	managedErr      error
}

func (f *fakeSnapshotClient) FetchAccountFinancials(ctx context.Context, cred *models.Credential) ([]AccountFinancials, error) {
	f.financialsCalls.Add(1)
	return []AccountFinancials{
		{
			Account:             models.Account{ID: "ca-cash-1", UnifiedAccountType: "CASH", Currency: "CAD", Status: "open"},
			NetLiquidationValue: &models.Money{Amount: decimal.RequireFromString("1000"), Currency: "CAD"},
		},
		{Account: models.Account{ID: "managed-1", UnifiedAccountType: "MANAGED_TFSA", Currency: "CAD", Status: "open"}},
		{Account: models.Account{ID: "managed-closed", UnifiedAccountType: "MANAGED_RRSP", Currency: "CAD", Status: "closed"}},
		{Account: models.Account{ID: "tfsa-1", UnifiedAccountType: "SELF_DIRECTED_TFSA", Currency: "CAD", Status: "open"}},
	}, nil
}

func (f *fakeSnapshotClient) FetchInterestRates(ctx context.Context, cred *models.Credential, accountID string) (*InterestRates, error) {
	return &InterestRates{CAD: decimal.RequireFromString("0.0275"), USD: decimal.RequireFromString("0.015")}, nil
}

func (f *fakeSnapshotClient) FetchManagedPositions(ctx context.Context, cred *models.Credential, accountID string) ([]models.ManagedPosition, error) {
	if f.managedErr != nil {
		return nil, f.managedErr
	}
	return []models.ManagedPosition{
		{ID: "p1", AccountID: accountID, Symbol: "VTI", Type: "etf", Quantity: decimal.RequireFromString("2")},
		{ID: "p2", AccountID: accountID, Symbol: "CAD", Type: "currency", Quantity: decimal.RequireFromString("10")},
		{ID: "p3", AccountID: accountID, Symbol: "XBB", Type: "etf", Quantity: decimal.Zero},
	}, nil
}

func (f *fakeSnapshotClient) FetchTradePositions(ctx context.Context, cred *models.Credential) ([]models.TradePosition, error) {
	return []models.TradePosition{
		{ID: "s1", AccountID: "tfsa-1", Symbol: "AAPL", SecurityType: "equity", Quantity: decimal.NewFromInt(5), Active: true},
		{ID: "s2", AccountID: "tfsa-1", Symbol: "AAPL250117C00200000", SecurityType: "option", Quantity: decimal.NewFromInt(1), Active: true},
		{ID: "s3", AccountID: "tfsa-1", Symbol: "XEQT", SecurityType: "exchange_traded_fund", Quantity: decimal.NewFromInt(3), Active: false},
	}, nil
}

func newTestSnapshotService(t *testing.T, creds CredentialProvider, client SnapshotClient, now *time.Time) (*SnapshotService, repositories.SnapshotCache) {
	t.Helper()
	cache := repositories.NewMemorySnapshotCache()
	svc, err := NewSnapshotService(SnapshotServiceConfig{
		Cache:       cache,
		Credentials: creds,
		Client:      client,
		Now:         func() time.Time { return *now },
	})
	require.NoError(t, err)
	return svc, cache
}

func TestSnapshotService_GetSnapshot_BuildsAndFilters(t *testing.T) {
	now := testNow
	client := &fakeSnapshotClient{}
	svc, _ := newTestSnapshotService(t, signedIn(), client, &now)

	snapshot, err := svc.GetSnapshot(context.Background())

	require.NoError(t, err)
	assert.False(t, snapshot.Stale)
	assert.False(t, snapshot.NeedsCredential)
	assert.True(t, testNow.Equal(snapshot.CreatedAt))
	assert.Equal(t, "identity-1", snapshot.IdentityID)

	require.Len(t, snapshot.CashAccounts, 1)
	cash := snapshot.CashAccounts[0]
	assert.Equal(t, "ca-cash-1", cash.Account.ID)
	assert.True(t, cash.Balance.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, cash.CADInterestRate.Equal(decimal.RequireFromString("0.0275")))

	require.Len(t, snapshot.ManagedPositions, 1, "currency lines, zero quantities and closed accounts are dropped")
	assert.Equal(t, "VTI", snapshot.ManagedPositions[0].Symbol)
	require.NotNil(t, snapshot.ManagedPositions[0].Account)
	assert.Equal(t, "managed-1", snapshot.ManagedPositions[0].Account.ID)

	require.Len(t, snapshot.TradePositions, 1, "options and inactive positions are dropped")
	assert.Equal(t, "AAPL", snapshot.TradePositions[0].Symbol)
	require.NotNil(t, snapshot.TradePositions[0].Account)
	assert.Equal(t, "SELF_DIRECTED_TFSA", snapshot.TradePositions[0].Account.UnifiedAccountType)
}

func TestSnapshotService_GetSnapshot_CachedWithinTTL(t *testing.T) {
	now := testNow
	client := &fakeSnapshotClient{}
	svc, _ := newTestSnapshotService(t, signedIn(), client, &now)

	_, err := svc.GetSnapshot(context.Background())
	require.NoError(t, err)

	now = testNow.Add(9 * time.Minute)
	_, err = svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), client.financialsCalls.Load())

	now = testNow.Add(11 * time.Minute)
	refreshed, err := svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), client.financialsCalls.Load())
	assert.True(t, now.Equal(refreshed.CreatedAt))
}

func TestSnapshotService_GetSnapshot_OtherIdentityRefetches(t *testing.T) {
	now := testNow
	client := &fakeSnapshotClient{}
	creds := signedIn()
	svc, _ := newTestSnapshotService(t, creds, client, &now)

	_, err := svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	creds.cred = &models.Credential{AccessToken: "other", IdentityID: "identity-2"}
	snapshot, err := svc.GetSnapshot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(2), client.financialsCalls.Load())
	assert.Equal(t, "identity-2", snapshot.IdentityID)
}

func TestSnapshotService_GetSnapshot_NoCredential(t *testing.T) {
	now := testNow
	client := &fakeSnapshotClient{}
	creds := signedIn()
	svc, _ := newTestSnapshotService(t, creds, client, &now)

	// Nothing cached yet.
	creds.cred = nil
	snapshot, err := svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snapshot.NeedsCredential)
	assert.Equal(t, int32(0), client.financialsCalls.Load())

	// Cached snapshot of any age is served, flagged stale after a day.
	creds.cred = &models.Credential{AccessToken: "token", IdentityID: "identity-1"}
	_, err = svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	creds.cred = nil
	now = testNow.Add(25 * time.Hour)

	snapshot, err = svc.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, snapshot.NeedsCredential)
	assert.True(t, snapshot.Stale)
	assert.Len(t, snapshot.CashAccounts, 1)
	assert.Equal(t, int32(1), client.financialsCalls.Load())
}

func TestSnapshotService_GetSnapshot_RemoteFailureNotCached(t *testing.T) {
	now := testNow
	client := &fakeSnapshotClient{managedErr: errBoom}
	svc, cache := newTestSnapshotService(t, signedIn(), client, &now)

	_, err := svc.GetSnapshot(context.Background())

	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, err, ErrRemoteFailure)
	_, err = cache.Get(context.Background(), snapshotCacheKey)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}
