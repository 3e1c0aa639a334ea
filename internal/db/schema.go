package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		plate_number TEXT NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ,
		payment_status INT NOT NULL DEFAULT 0,
		payment_amount BIGINT,
		payment_time TIMESTAMPTZ,
		is_unauthorized_exit BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_plate_entry ON sessions (plate_number, entry_time)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions (plate_number) WHERE exit_time IS NULL`,
	`CREATE TABLE IF NOT EXISTS daily_aggregates (
		id BIGSERIAL PRIMARY KEY,
		date DATE UNIQUE NOT NULL,
		total_entries INT NOT NULL DEFAULT 0,
		total_exits INT NOT NULL DEFAULT 0,
		total_revenue BIGINT NOT NULL DEFAULT 0,
		unauthorized_exits INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'operator',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
// Safe to run from every binary at startup.
func EnsureSchema(ctx context.Context, pool *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}
