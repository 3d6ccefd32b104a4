package repositories

import (
	"context"

	"github.com/prudhvinik1/divsync/internal/models"
)

// RecordStore is the local cache behind the sync engine: activity records keyed
// by canonical id, accounts keyed by id, and a single sync watermark row.
// Bulk writes are atomic per table; there is no transaction spanning tables.
type RecordStore interface {
	// GetWatermark returns ErrNotFound when no sync has written one yet.
	GetWatermark(ctx context.Context) (*models.SyncWatermark, error)
	SetWatermark(ctx context.Context, watermark *models.SyncWatermark) error

	// GetAllRecords returns records in no particular order.
	GetAllRecords(ctx context.Context) ([]*models.ActivityRecord, error)
	UpsertRecords(ctx context.Context, records []*models.ActivityRecord) error

	GetAllAccounts(ctx context.Context) ([]*models.Account, error)
	UpsertAccounts(ctx context.Context, accounts []*models.Account) error

	// Reset removes every record, account and the watermark.
	Reset(ctx context.Context) error
}

// SnapshotCache holds financial snapshots under a caller-chosen key.
type SnapshotCache interface {
	// Get returns ErrNotFound when nothing is cached under key.
	Get(ctx context.Context, key string) (*models.FinancialSnapshot, error)
	Set(ctx context.Context, key string, snapshot *models.FinancialSnapshot) error
}
