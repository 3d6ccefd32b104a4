package database

// Three logical tables: activity_records keyed by canonical id with secondary
// indexes on account and time, accounts keyed by id, and sync_watermark which
// holds a single row with id 1.

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS activity_records (
		canonical_id         TEXT PRIMARY KEY,
		account_id           TEXT NOT NULL,
		identity_id          TEXT NOT NULL DEFAULT '',
		occurred_at          TIMESTAMPTZ NOT NULL,
		amount               TEXT NOT NULL,
		amount_sign          TEXT NOT NULL,
		currency             TEXT NOT NULL,
		type                 TEXT NOT NULL,
		sub_type             TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT '',
		asset_symbol         TEXT NOT NULL DEFAULT '',
		asset_quantity       TEXT,
		security_id          TEXT NOT NULL DEFAULT '',
		unified_account_type TEXT NOT NULL DEFAULT '',
		details              JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_account_id ON activity_records (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_occurred_at ON activity_records (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id                   TEXT PRIMARY KEY,
		type                 TEXT NOT NULL DEFAULT '',
		unified_account_type TEXT NOT NULL DEFAULT '',
		currency             TEXT NOT NULL DEFAULT '',
		nickname             TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sync_watermark (
		id                   SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		canonical_id         TEXT NOT NULL DEFAULT '',
		account_id           TEXT NOT NULL DEFAULT '',
		timestamp_ms         BIGINT NOT NULL,
		resume_cursor        TEXT NOT NULL DEFAULT '',
		pending_canonical_id TEXT NOT NULL DEFAULT '',
		pending_account_id   TEXT NOT NULL DEFAULT ''
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS activity_records (
		canonical_id         TEXT PRIMARY KEY,
		account_id           TEXT NOT NULL,
		identity_id          TEXT NOT NULL DEFAULT '',
		occurred_at          TEXT NOT NULL,
		amount               TEXT NOT NULL,
		amount_sign          TEXT NOT NULL,
		currency             TEXT NOT NULL,
		type                 TEXT NOT NULL,
		sub_type             TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT '',
		asset_symbol         TEXT NOT NULL DEFAULT '',
		asset_quantity       TEXT,
		security_id          TEXT NOT NULL DEFAULT '',
		unified_account_type TEXT NOT NULL DEFAULT '',
		details              TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_account_id ON activity_records (account_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_records_occurred_at ON activity_records (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id                   TEXT PRIMARY KEY,
		type                 TEXT NOT NULL DEFAULT '',
		unified_account_type TEXT NOT NULL DEFAULT '',
		currency             TEXT NOT NULL DEFAULT '',
		nickname             TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sync_watermark (
		id                   INTEGER PRIMARY KEY CHECK (id = 1),
		canonical_id         TEXT NOT NULL DEFAULT '',
		account_id           TEXT NOT NULL DEFAULT '',
		timestamp_ms         INTEGER NOT NULL,
		resume_cursor        TEXT NOT NULL DEFAULT '',
		pending_canonical_id TEXT NOT NULL DEFAULT '',
		pending_account_id   TEXT NOT NULL DEFAULT ''
	)`,
}
