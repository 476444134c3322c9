package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type GuidelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewGuidelineRepository(db *sql.DB) *GuidelineRepository {
	return &GuidelineRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *GuidelineRepository) Create(ctx context.Context, g *domain.Guideline) error {
	metadata, err := json.Marshal(metadataOrEmpty(g.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	now := r.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = now
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO guidelines (
	id, filename, mime_type, storage_path, metadata, status, error_message, chunk_count, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		g.ID, g.Filename, g.MimeType, g.StoragePath, string(metadata), string(g.Status), g.Error,
		g.ChunkCount, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert guideline: %w", err)
	}
	return nil
}

func (r *GuidelineRepository) GetByID(ctx context.Context, id string) (*domain.Guideline, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, mime_type, storage_path, metadata, status, error_message, chunk_count, created_at, updated_at
FROM guidelines
WHERE id = $1
`, id)

	var g domain.Guideline
	var metadataRaw []byte
	var status string
	err := row.Scan(
		&g.ID, &g.Filename, &g.MimeType, &g.StoragePath, &metadataRaw, &status, &g.Error,
		&g.ChunkCount, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrGuidelineNotFound, "get guideline", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan guideline: %w", err)
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &g.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	g.Status = domain.GuidelineStatus(status)
	return &g, nil
}

func (r *GuidelineRepository) UpdateStatus(ctx context.Context, id string, status domain.GuidelineStatus, errMessage string, chunkCount int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE guidelines
SET status = $2, error_message = $3, chunk_count = $4, updated_at = $5
WHERE id = $1
`, id, string(status), errMessage, chunkCount, r.now())
	if err != nil {
		return fmt.Errorf("update guideline status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update guideline status rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrGuidelineNotFound, "update guideline status", fmt.Errorf("id=%s", id))
	}
	return nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
