package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/repository/records"
)

// SnapshotRepository persists the active snapshot as one row per chunk plus
// the manifest. Saves replace both tables in a single transaction guarded by
// the generation row in guideline_snapshot_state.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, base uint64, chunks []domain.Chunk, manifest []domain.ManifestEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// The row lock taken here makes a concurrent save wait, then miss the
	// generation it expected.
	res, err := tx.ExecContext(ctx,
		`UPDATE guideline_snapshot_state SET generation = generation + 1 WHERE id = 1 AND generation = $1`, int64(base))
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO guideline_manifest (`+records.ManifestColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
			row.Args()...,
		); err != nil {
			return fmt.Errorf("insert manifest %s: %w", entry.DocumentID, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO guideline_chunks (`+records.ChunkColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
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

// LoadSnapshot reads the generation and both tables from one consistent view.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context) (domain.StoredSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.StoredSnapshot{}, fmt.Errorf("begin snapshot read: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var generation int64
	err = tx.QueryRowContext(ctx, `SELECT generation FROM guideline_snapshot_state WHERE id = 1`).Scan(&generation)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.StoredSnapshot{}, fmt.Errorf("query snapshot generation: %w", err)
	}
	chunks, manifest, err := loadRows(ctx, tx)
	if err != nil {
		return domain.StoredSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StoredSnapshot{}, fmt.Errorf("commit snapshot read: %w", err)
	}
	return domain.StoredSnapshot{Generation: uint64(generation), Chunks: chunks, Manifest: manifest}, nil
}

func loadRows(ctx context.Context, tx *sql.Tx) ([]domain.Chunk, []domain.ManifestEntry, error) {
	manifestRows, err := tx.QueryContext(ctx, `SELECT `+records.ManifestColumns+` FROM guideline_manifest ORDER BY document_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query manifest: %w", err)
	}
	defer manifestRows.Close()

	var manifest []domain.ManifestEntry
	for manifestRows.Next() {
		var row records.ManifestRow
		if err := manifestRows.Scan(row.Targets()...); err != nil {
			return nil, nil, fmt.Errorf("scan manifest: %w", err)
		}
		entry, err := row.Entry()
		if err != nil {
			return nil, nil, err
		}
		manifest = append(manifest, entry)
	}
	if err := manifestRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate manifest: %w", err)
	}

	chunkRows, err := tx.QueryContext(ctx, `SELECT `+records.ChunkColumns+` FROM guideline_chunks ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("query chunks: %w", err)
	}
	defer chunkRows.Close()

	var chunks []domain.Chunk
	for chunkRows.Next() {
		var row records.ChunkRow
		if err := chunkRows.Scan(row.Targets()...); err != nil {
			return nil, nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk, err := row.Chunk()
		if err != nil {
			return nil, nil, err
		}
		chunks = append(chunks, chunk)
	}
	if err := chunkRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, manifest, nil
}
