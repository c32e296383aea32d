// Package postgres provides a PostgreSQL kvstore implementation for
// deployments where queue state must be shared with other infrastructure.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/notifyq/internal/kvstore"
)

var _ kvstore.Store = (*Store)(nil)

// Config contains PostgreSQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectAttempts int
}

// Store implements kvstore.Store on a single key-value table.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool with retry, runs migrations and returns
// the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := Migrate(cfg.URL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for metrics collection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Get returns the value for a key.
func (s *Store) Get(ctx context.Context, scope, key string) (string, error) {
	query := `SELECT value FROM kv_entries WHERE scope = $1 AND key = $2`

	var value string
	err := s.pool.QueryRow(ctx, query, scope, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kvstore.ErrNotFound
		}
		return "", fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

// GetMany returns the values for the given keys, omitting absent ones.
func (s *Store) GetMany(ctx context.Context, scope string, keys []string) (map[string]string, error) {
	query := `SELECT key, value FROM kv_entries WHERE scope = $1 AND key = ANY($2)`

	rows, err := s.pool.Query(ctx, query, scope, keys)
	if err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string, len(keys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return result, nil
}

// SetMany upserts all given key-value pairs.
func (s *Store) SetMany(ctx context.Context, scope string, values map[string]string) error {
	query := `
		INSERT INTO kv_entries (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for key, val := range values {
		batch.Queue(query, scope, key, val)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range values {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("set key: %w", err)
		}
	}
	return nil
}

// Update applies fn under a transaction-level advisory lock on the key, so
// two concurrent read-modify-writes of the same key are serialized even when
// the row does not exist yet.
func (s *Store) Update(ctx context.Context, scope, key string, fn kvstore.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockQuery := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := tx.Exec(ctx, lockQuery, scope+"/"+key); err != nil {
		return fmt.Errorf("lock key: %w", err)
	}

	var current string
	found := true
	err = tx.QueryRow(ctx, `SELECT value FROM kv_entries WHERE scope = $1 AND key = $2`, scope, key).Scan(&current)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read key: %w", err)
		}
		found = false
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	upsert := `
		INSERT INTO kv_entries (scope, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, upsert, scope, key, next); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// connect establishes a connection pool to PostgreSQL with retry logic.
func connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				slog.Info("connected to database", "attempts", attempt)
				return pool, nil
			}
			pool.Close()
		}

		lastErr = err
		if attempt < attempts {
			backoff := calcBackoff(attempt)
			slog.Warn("failed to connect to database, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff", backoff,
				"error", err,
			)
			if !sleep(ctx, backoff) {
				return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

// calcBackoff returns exponential backoff duration capped at 16 seconds.
func calcBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<(attempt-1)) * time.Second
	if backoff > 16*time.Second {
		backoff = 16 * time.Second
	}
	return backoff
}

// sleep waits for duration or context cancellation. Returns false if cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
