package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresOptions holds the connection pool settings
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements Store interface for PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened database
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS fixes (
		id UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		envelope VARCHAR(16) NOT NULL,
		dev_eui BYTEA,
		device_id VARCHAR(128) NOT NULL DEFAULT '',
		application_id VARCHAR(128) NOT NULL DEFAULT '',
		f_port SMALLINT NOT NULL,
		f_cnt BIGINT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		altitude INTEGER NOT NULL,
		hdop DOUBLE PRECISION NOT NULL,
		sats INTEGER NOT NULL,
		accuracy DOUBLE PRECISION NOT NULL,
		num_gateways INTEGER NOT NULL,
		min_rssi INTEGER NOT NULL,
		max_rssi INTEGER NOT NULL,
		min_distance INTEGER NOT NULL,
		max_distance INTEGER NOT NULL,
		buffer BYTEA NOT NULL,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fixes_dev_eui ON fixes (dev_eui)`,
	`CREATE INDEX IF NOT EXISTS idx_fixes_created_at ON fixes (created_at DESC)`,
}

// Migrate creates the tables the store needs
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
