// Package postgres implements the order and counter repositories on PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wagnerwagner/merx/internal/repositories"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	number           TEXT NOT NULL,
	sequence         BIGINT NOT NULL,
	access_uuid      TEXT NOT NULL,
	items            JSONB NOT NULL,
	totals           JSONB NOT NULL,
	fields           JSONB NOT NULL DEFAULT '{}',
	payment_method   TEXT NOT NULL,
	correlation_id   TEXT NOT NULL DEFAULT '',
	payment_complete BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at          TIMESTAMPTZ,
	payment_details  JSONB,
	invoice_date     TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_correlation_idx ON orders (correlation_id) WHERE correlation_id <> '';
CREATE TABLE IF NOT EXISTS counters (
	id            TEXT PRIMARY KEY,
	current_value BIGINT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);`

// Store wraps the SQL connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies connectivity and applies the schema.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return store, nil
}

// NewStore wraps an existing pool without touching the schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close closes the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// wrapError classifies driver errors as repository errors.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.ErrorNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505" || pgErr.Code == "40001":
			return repositories.NewStoreError(op, repositories.ErrorConflict, err)
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			return repositories.NewStoreError(op, repositories.ErrorUnavailable, err)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return repositories.NewStoreError(op, repositories.ErrorUnavailable, err)
	}
	return repositories.NewStoreError(op, repositories.ErrorUnknown, err)
}
