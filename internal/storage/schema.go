package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are ordered DDL statements applied at startup. TEXT columns hold
// UUIDs and JSON payloads so the same schema works on sqlite and postgres.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		format TEXT NOT NULL,
		capture TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		seq INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_owner ON submissions(owner_id)`,
	`CREATE TABLE IF NOT EXISTS extraction_results (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL UNIQUE,
		text TEXT NOT NULL,
		strategy TEXT NOT NULL,
		char_count INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS field_extractions (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL UNIQUE,
		class TEXT NOT NULL,
		fields TEXT NOT NULL,
		stated_percentage REAL,
		derived_percentage REAL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS verification_records (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		submission_a TEXT NOT NULL,
		submission_b TEXT NOT NULL,
		comparisons TEXT NOT NULL,
		verdict TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_owner ON verification_records(owner_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		submission_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		attempts TEXT NOT NULL,
		last_error TEXT,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id)`,
}

// Migrate applies the schema to the given database.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}
	return nil
}
