// Package sqlite keeps the snapshot in a single local database file for the CLI.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/repository/records"
)

//go:embed schema.sql
var schema string

type Store struct {
	db   *sql.DB
	path string
}

// Open creates the parent directory and schema when missing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// SaveSnapshot replaces the snapshot as generation base+1. Advancing the
// generation first takes the write lock, so two CLI processes cannot both save
// on top of the same base.
func (s *Store) SaveSnapshot(ctx context.Context, base uint64, chunks []domain.Chunk, manifest []domain.ManifestEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE snapshot_state SET generation = generation + 1 WHERE id = 1 AND generation = ?`, int64(base))
	if err != nil {
		return fmt.Errorf("advance snapshot generation: %w", err)
	}
	advanced, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance snapshot generation: %w", err)
	}
	if advanced == 0 {
		return fmt.Errorf("save snapshot on generation %d: %w", base, domain.ErrSnapshotConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM guideline_chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM guideline_manifest`); err != nil {
		return fmt.Errorf("clear manifest: %w", err)
	}

	for _, entry := range manifest {
		row, err := records.FromManifest(entry)
		if err != nil {
			return err
		}
		args := row.Args()
		args[1] = row.IngestedAt.Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guideline_manifest (`+records.ManifestColumns+`) VALUES (?,?,?,?,?,?)`, args...,
		); err != nil {
			return fmt.Errorf("insert manifest %s: %w", entry.DocumentID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO guideline_chunks (`+records.ChunkColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		row, err := records.FromChunk(i, chunk)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row.Args()...); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context) (domain.StoredSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoredSnapshot{}, fmt.Errorf("begin snapshot read: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var generation int64
	err = tx.QueryRowContext(ctx, `SELECT generation FROM snapshot_state WHERE id = 1`).Scan(&generation)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.StoredSnapshot{}, fmt.Errorf("query snapshot generation: %w", err)
	}
	manifest, err := loadManifest(ctx, tx)
	if err != nil {
		return domain.StoredSnapshot{}, err
	}
	chunks, err := loadChunks(ctx, tx)
	if err != nil {
		return domain.StoredSnapshot{}, err
	}
	return domain.StoredSnapshot{Generation: uint64(generation), Chunks: chunks, Manifest: manifest}, nil
}

func loadChunks(ctx context.Context, tx *sql.Tx) ([]domain.Chunk, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+records.ChunkColumns+` FROM guideline_chunks ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var row records.ChunkRow
		if err := rows.Scan(row.Targets()...); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk, err := row.Chunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

func loadManifest(ctx context.Context, tx *sql.Tx) ([]domain.ManifestEntry, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+records.ManifestColumns+` FROM guideline_manifest ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	var manifest []domain.ManifestEntry
	for rows.Next() {
		var row records.ManifestRow
		var ingestedAt string
		if err := rows.Scan(&row.DocumentID, &ingestedAt, &row.Fingerprint, &row.Metadata, &row.ParentCount, &row.ChildCount); err != nil {
			return nil, fmt.Errorf("scan manifest: %w", err)
		}
		if row.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt); err != nil {
			return nil, fmt.Errorf("parse ingested_at for %s: %w", row.DocumentID, err)
		}
		entry, err := row.Entry()
		if err != nil {
			return nil, err
		}
		manifest = append(manifest, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifest: %w", err)
	}
	return manifest, nil
}
