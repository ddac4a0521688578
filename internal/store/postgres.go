package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlPgCreate = `
        CREATE TABLE IF NOT EXISTS shuffle_flags (
            key        TEXT PRIMARY KEY,
            value      TEXT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
    `
	sqlPgGet    = `SELECT value FROM shuffle_flags WHERE key = $1`
	sqlPgAll    = `SELECT key, value FROM shuffle_flags`
	sqlPgUpsert = `
        INSERT INTO shuffle_flags (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
)

type postgresBackend struct {
	pool DBPool
}

// NewPostgres creates a store over pool, verifying the connection and
// ensuring the table exists.
func NewPostgres(ctx context.Context, pool DBPool, pollInterval time.Duration, logger *zap.Logger) (*Persistent, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlPgCreate); err != nil {
		return nil, fmt.Errorf("failed to create flag table: %w", err)
	}
	return newPersistent(ctx, &postgresBackend{pool: pool}, pollInterval, logger.Named("store.postgres"))
}

// OpenPostgres connects a pgx pool to dsn and wraps it in a store.
func OpenPostgres(ctx context.Context, dsn string, pollInterval time.Duration, logger *zap.Logger) (*Persistent, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, pollInterval, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (b *postgresBackend) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := b.pool.QueryRow(ctx, sqlPgGet, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

func (b *postgresBackend) set(ctx context.Context, key, value string) error {
	if _, err := b.pool.Exec(ctx, sqlPgUpsert, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (b *postgresBackend) snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := b.pool.Query(ctx, sqlPgAll)
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

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}
