package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

type UploadGuidelineUseCase struct {
	repo    ports.GuidelineRepository
	storage ports.ObjectStorage
	queue   ports.UploadQueue
}

func NewUploadGuidelineUseCase(
	repo ports.GuidelineRepository,
	storage ports.ObjectStorage,
	queue ports.UploadQueue,
) *UploadGuidelineUseCase {
	return &UploadGuidelineUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores the file, registers it and queues it for processing. The
// guideline id doubles as the document id inside the snapshot.
func (uc *UploadGuidelineUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	metadata map[string]string,
	body io.Reader,
) (*domain.Guideline, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.InvalidInput("upload guideline", "filename is required")
	}
	id := uuid.NewString()
	metadata = normalizedMetadata(metadata)
	if err := (domain.DocumentInput{ID: id, Metadata: metadata}).Validate(); err != nil {
		return nil, err
	}

	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	g := &domain.Guideline{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Metadata:    metadata,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create guideline record: %w", err)
	}
	if err := uc.queue.PublishGuidelineUploaded(ctx, g.ID); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}
	return g, nil
}

func (uc *UploadGuidelineUseCase) GetByID(ctx context.Context, id string) (*domain.Guideline, error) {
	return uc.repo.GetByID(ctx, id)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "guideline.bin"
	}
	return base
}
