package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/divsync/internal/models"
)

var ErrNotFound = errors.New("not found")

type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordStore(pool *pgxpool.Pool) *PostgresRecordStore {
	return &PostgresRecordStore{pool: pool}
}

func (r *PostgresRecordStore) GetWatermark(ctx context.Context) (*models.SyncWatermark, error) {
	query := `SELECT canonical_id, account_id, timestamp_ms, resume_cursor, pending_canonical_id, pending_account_id
	          FROM sync_watermark WHERE id = 1`

	var w models.SyncWatermark
	var ts int64
	err := r.pool.QueryRow(ctx, query).Scan(
		&w.CanonicalID, &w.AccountID, &ts,
		&w.ResumeCursor, &w.PendingCanonicalID, &w.PendingAccountID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	w.Timestamp = time.UnixMilli(ts)
	return &w, nil
}

// SetWatermark replaces the single watermark row. Concurrent writers resolve
// as last write wins.
func (r *PostgresRecordStore) SetWatermark(ctx context.Context, watermark *models.SyncWatermark) error {
	query := `INSERT INTO sync_watermark (id, canonical_id, account_id, timestamp_ms, resume_cursor, pending_canonical_id, pending_account_id)
	          VALUES (1, $1, $2, $3, $4, $5, $6)
	          ON CONFLICT (id) DO UPDATE SET
	              canonical_id = EXCLUDED.canonical_id,
	              account_id = EXCLUDED.account_id,
	              timestamp_ms = EXCLUDED.timestamp_ms,
	              resume_cursor = EXCLUDED.resume_cursor,
	              pending_canonical_id = EXCLUDED.pending_canonical_id,
	              pending_account_id = EXCLUDED.pending_account_id`

	_, err := r.pool.Exec(ctx, query,
		watermark.CanonicalID, watermark.AccountID, watermark.Timestamp.UnixMilli(),
		watermark.ResumeCursor, watermark.PendingCanonicalID, watermark.PendingAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

func (r *PostgresRecordStore) GetAllRecords(ctx context.Context) ([]*models.ActivityRecord, error) {
	query := `SELECT canonical_id, account_id, identity_id, occurred_at, amount, amount_sign,
	                 currency, type, sub_type, status, asset_symbol, asset_quantity,
	                 security_id, unified_account_type, details
	          FROM activity_records`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.ActivityRecord
	for rows.Next() {
		var row recordRow
		var occurredAt time.Time
		err := rows.Scan(
			&row.CanonicalID,
			&row.AccountID,
			&row.IdentityID,
			&occurredAt,
			&row.Amount,
			&row.AmountSign,
			&row.Currency,
			&row.Type,
			&row.SubType,
			&row.Status,
			&row.AssetSymbol,
			&row.AssetQuantity,
			&row.SecurityID,
			&row.UnifiedAccountType,
			&row.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		record.OccurredAt = occurredAt
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// UpsertRecords sends all records as one batch inside a transaction, so a
// page is either stored completely or not at all.
func (r *PostgresRecordStore) UpsertRecords(ctx context.Context, records []*models.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO activity_records (
	              canonical_id, account_id, identity_id, occurred_at, amount, amount_sign,
	              currency, type, sub_type, status, asset_symbol, asset_quantity,
	              security_id, unified_account_type, details
	          ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          ON CONFLICT (canonical_id) DO UPDATE SET
	              account_id = EXCLUDED.account_id,
	              identity_id = EXCLUDED.identity_id,
	              occurred_at = EXCLUDED.occurred_at,
	              amount = EXCLUDED.amount,
	              amount_sign = EXCLUDED.amount_sign,
	              currency = EXCLUDED.currency,
	              type = EXCLUDED.type,
	              sub_type = EXCLUDED.sub_type,
	              status = EXCLUDED.status,
	              asset_symbol = EXCLUDED.asset_symbol,
	              asset_quantity = EXCLUDED.asset_quantity,
	              security_id = EXCLUDED.security_id,
	              unified_account_type = EXCLUDED.unified_account_type,
	              details = EXCLUDED.details`

	batch := &pgx.Batch{}
	for _, rec := range records {
		row, err := toRecordRow(rec)
		if err != nil {
			return err
		}
		batch.Queue(query,
			row.CanonicalID,
			row.AccountID,
			row.IdentityID,
			rec.OccurredAt,
			row.Amount,
			row.AmountSign,
			row.Currency,
			row.Type,
			row.SubType,
			row.Status,
			row.AssetSymbol,
			row.AssetQuantity,
			row.SecurityID,
			row.UnifiedAccountType,
			row.Details,
		)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}
	return nil
}

func (r *PostgresRecordStore) GetAllAccounts(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT id, type, unified_account_type, currency, nickname, status FROM accounts ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Type, &a.UnifiedAccountType, &a.Currency, &a.Nickname, &a.Status); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

func (r *PostgresRecordStore) UpsertAccounts(ctx context.Context, accounts []*models.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	query := `INSERT INTO accounts (id, type, unified_account_type, currency, nickname, status)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (id) DO UPDATE SET
	              type = EXCLUDED.type,
	              unified_account_type = EXCLUDED.unified_account_type,
	              currency = EXCLUDED.currency,
	              nickname = EXCLUDED.nickname,
	              status = EXCLUDED.status`

	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(query, a.ID, a.Type, a.UnifiedAccountType, a.Currency, a.Nickname, a.Status)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to upsert accounts: %w", err)
	}
	return nil
}

func (r *PostgresRecordStore) Reset(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE activity_records, accounts, sync_watermark`)
	if err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	return nil
}
