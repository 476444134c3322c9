package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// schemaLockKey serializes bootstrap DDL across api and worker startups.
const schemaLockKey = int64(2026030101)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS guidelines (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_guidelines_status ON guidelines(status);

CREATE TABLE IF NOT EXISTS guideline_manifest (
	document_id TEXT PRIMARY KEY,
	ingested_at TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	parent_count INTEGER NOT NULL,
	child_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guideline_chunks (
	position INTEGER NOT NULL,
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES guideline_manifest(document_id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	level TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	sequence INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	text TEXT NOT NULL,
	medical_terms JSONB NOT NULL DEFAULT '[]'::jsonb,
	embedding JSONB,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_guideline_chunks_position ON guideline_chunks(position);

CREATE TABLE IF NOT EXISTS guideline_snapshot_state (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	generation BIGINT NOT NULL
);

INSERT INTO guideline_snapshot_state (id, generation) VALUES (1, 0) ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema creates the registry and snapshot tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
