package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	sqlLiteCreate = `
        CREATE TABLE IF NOT EXISTS shuffle_flags (
            key        TEXT PRIMARY KEY,
            value      TEXT NOT NULL,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
        );
    `
	sqlLiteGet    = `SELECT value FROM shuffle_flags WHERE key = ?`
	sqlLiteAll    = `SELECT key, value FROM shuffle_flags`
	sqlLiteUpsert = `
        INSERT INTO shuffle_flags (key, value, updated_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE SET
            value = excluded.value,
            updated_at = excluded.updated_at;
    `
)

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the flag database at path.
func OpenSQLite(ctx context.Context, path string, pollInterval time.Duration, logger *zap.Logger) (*Persistent, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// A single connection keeps the per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`, sqlLiteCreate} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialise sqlite store: %w", err)
		}
	}
	s, err := newPersistent(ctx, &sqliteBackend{db: db}, pollInterval, logger.Named("store.sqlite"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (b *sqliteBackend) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := b.db.QueryRowContext(ctx, sqlLiteGet, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

func (b *sqliteBackend) set(ctx context.Context, key, value string) error {
	if _, err := b.db.ExecContext(ctx, sqlLiteUpsert, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (b *sqliteBackend) snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, sqlLiteAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan flag row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
