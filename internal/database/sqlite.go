package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens (or creates) the embedded record store database and
// ensures its tables exist. Use ":memory:" for a throwaway database.
func NewSQLiteDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database at %s: %w", path, err)
	}

	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		slog.Warn("Could not enable WAL journal mode", "path", path, "error", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("error migrating sqlite schema: %w", err)
		}
	}

	slog.Info("SQLite database ready", "path", path)
	return db, nil
}
