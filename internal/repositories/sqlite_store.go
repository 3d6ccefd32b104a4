package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prudhvinik1/divsync/internal/models"
)

// Fixed width so that lexical order on the column is chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteRecordStore struct {
	db *sql.DB
}

func NewSQLiteRecordStore(db *sql.DB) *SQLiteRecordStore {
	return &SQLiteRecordStore{db: db}
}

func (s *SQLiteRecordStore) GetWatermark(ctx context.Context) (*models.SyncWatermark, error) {
	query := `SELECT canonical_id, account_id, timestamp_ms, resume_cursor, pending_canonical_id, pending_account_id
	          FROM sync_watermark WHERE id = 1`

	var w models.SyncWatermark
	var ts int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&w.CanonicalID, &w.AccountID, &ts,
		&w.ResumeCursor, &w.PendingCanonicalID, &w.PendingAccountID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	w.Timestamp = time.UnixMilli(ts)
	return &w, nil
}

// SetWatermark replaces the single watermark row.
func (s *SQLiteRecordStore) SetWatermark(ctx context.Context, watermark *models.SyncWatermark) error {
	query := `INSERT INTO sync_watermark (id, canonical_id, account_id, timestamp_ms, resume_cursor, pending_canonical_id, pending_account_id)
	          VALUES (1, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (id) DO UPDATE SET
	              canonical_id = excluded.canonical_id,
	              account_id = excluded.account_id,
	              timestamp_ms = excluded.timestamp_ms,
	              resume_cursor = excluded.resume_cursor,
	              pending_canonical_id = excluded.pending_canonical_id,
	              pending_account_id = excluded.pending_account_id`

	_, err := s.db.ExecContext(ctx, query,
		watermark.CanonicalID, watermark.AccountID, watermark.Timestamp.UnixMilli(),
		watermark.ResumeCursor, watermark.PendingCanonicalID, watermark.PendingAccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) GetAllRecords(ctx context.Context) ([]*models.ActivityRecord, error) {
	query := `SELECT canonical_id, account_id, identity_id, occurred_at, amount, amount_sign,
	                 currency, type, sub_type, status, asset_symbol, asset_quantity,
	                 security_id, unified_account_type, details
	          FROM activity_records`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.ActivityRecord
	for rows.Next() {
		var row recordRow
		var occurredAt string
		var quantity sql.NullString
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
			&quantity,
			&row.SecurityID,
			&row.UnifiedAccountType,
			&row.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if quantity.Valid {
			row.AssetQuantity = &quantity.String
		}

		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		record.OccurredAt, err = time.Parse(sqliteTimeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("invalid occurred_at %q for record %s: %w", occurredAt, row.CanonicalID, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// UpsertRecords writes all records in one transaction. An existing canonical id
// is overwritten in place.
func (s *SQLiteRecordStore) UpsertRecords(ctx context.Context, records []*models.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin records transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO activity_records (
			canonical_id, account_id, identity_id, occurred_at, amount, amount_sign,
			currency, type, sub_type, status, asset_symbol, asset_quantity,
			security_id, unified_account_type, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (canonical_id) DO UPDATE SET
			account_id = excluded.account_id,
			identity_id = excluded.identity_id,
			occurred_at = excluded.occurred_at,
			amount = excluded.amount,
			amount_sign = excluded.amount_sign,
			currency = excluded.currency,
			type = excluded.type,
			sub_type = excluded.sub_type,
			status = excluded.status,
			asset_symbol = excluded.asset_symbol,
			asset_quantity = excluded.asset_quantity,
			security_id = excluded.security_id,
			unified_account_type = excluded.unified_account_type,
			details = excluded.details`)
	if err != nil {
		return fmt.Errorf("failed to prepare record upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		row, err := toRecordRow(r)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			row.CanonicalID,
			row.AccountID,
			row.IdentityID,
			r.OccurredAt.UTC().Format(sqliteTimeLayout),
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
			string(row.Details),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.CanonicalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) GetAllAccounts(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT id, type, unified_account_type, currency, nickname, status FROM accounts ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query)
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

func (s *SQLiteRecordStore) UpsertAccounts(ctx context.Context, accounts []*models.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin accounts transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (id, type, unified_account_type, currency, nickname, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			unified_account_type = excluded.unified_account_type,
			currency = excluded.currency,
			nickname = excluded.nickname,
			status = excluded.status`)
	if err != nil {
		return fmt.Errorf("failed to prepare account upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range accounts {
		if _, err := stmt.ExecContext(ctx, a.ID, a.Type, a.UnifiedAccountType, a.Currency, a.Nickname, a.Status); err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}
	return nil
}

func (s *SQLiteRecordStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"activity_records", "accounts", "sync_watermark"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}
