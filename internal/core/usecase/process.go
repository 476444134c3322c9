package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

// SnapshotRestorer reloads the persisted snapshot so that a worker rebuilds on
// top of what other workers have already stored.
type SnapshotRestorer interface {
	Restore(ctx context.Context) error
}

type ProcessGuidelineUseCase struct {
	repo      ports.GuidelineRepository
	extractor ports.PageExtractor
	ingestor  ports.GuidelineIngestor
	restorer  SnapshotRestorer
}

func NewProcessGuidelineUseCase(
	repo ports.GuidelineRepository,
	extractor ports.PageExtractor,
	ingestor ports.GuidelineIngestor,
	restorer SnapshotRestorer,
) *ProcessGuidelineUseCase {
	return &ProcessGuidelineUseCase{
		repo:      repo,
		extractor: extractor,
		ingestor:  ingestor,
		restorer:  restorer,
	}
}

func (uc *ProcessGuidelineUseCase) ProcessByID(ctx context.Context, guidelineID string) error {
	if err := uc.markStatus(ctx, guidelineID, domain.StatusProcessing, "", 0); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	chunkCount, err := uc.processPipeline(ctx, guidelineID)
	if err != nil {
		if failErr := uc.markFailed(ctx, guidelineID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, guidelineID, domain.StatusReady, "", chunkCount); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

func (uc *ProcessGuidelineUseCase) processPipeline(ctx context.Context, guidelineID string) (int, error) {
	g, err := uc.loadGuideline(ctx, guidelineID)
	if err != nil {
		return 0, err
	}

	pages, err := uc.extractPages(ctx, g)
	if err != nil {
		return 0, err
	}

	if uc.restorer != nil {
		if err := uc.restorer.Restore(ctx); err != nil {
			return 0, fmt.Errorf("restore snapshot: %w", err)
		}
	}

	return uc.ingest(ctx, domain.DocumentInput{ID: g.ID, Pages: pages, Metadata: g.Metadata})
}

func (uc *ProcessGuidelineUseCase) loadGuideline(ctx context.Context, guidelineID string) (*domain.Guideline, error) {
	g, err := uc.repo.GetByID(ctx, guidelineID)
	if err != nil {
		return nil, fmt.Errorf("fetch guideline by id: %w", err)
	}
	return g, nil
}

func (uc *ProcessGuidelineUseCase) extractPages(ctx context.Context, g *domain.Guideline) ([]domain.Page, error) {
	pages, err := uc.extractor.ExtractPages(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("extract pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract pages", errors.New("document has no pages"))
	}
	return pages, nil
}

func (uc *ProcessGuidelineUseCase) ingest(ctx context.Context, doc domain.DocumentInput) (int, error) {
	report, err := uc.ingestor.Ingest(ctx, []domain.DocumentInput{doc})
	if err != nil {
		return 0, fmt.Errorf("ingest guideline: %w", err)
	}
	for _, failure := range report.Failures {
		if failure.DocumentID == doc.ID {
			return 0, fmt.Errorf("ingest guideline: %s", failure.Reason)
		}
	}
	outcome, ok := report.Outcome(doc.ID)
	if !ok {
		return 0, fmt.Errorf("ingest guideline: no outcome reported for %s", doc.ID)
	}
	if outcome.Outcome == domain.OutcomeSkipped {
		return 0, domain.WrapError(domain.ErrInvalidInput, "chunk guideline", errors.New("document produced no chunks"))
	}
	return outcome.ChunkCount, nil
}

func (uc *ProcessGuidelineUseCase) markStatus(ctx context.Context, guidelineID string, status domain.GuidelineStatus, errMessage string, chunkCount int) error {
	return uc.repo.UpdateStatus(ctx, guidelineID, status, errMessage, chunkCount)
}

func (uc *ProcessGuidelineUseCase) markFailed(ctx context.Context, guidelineID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, guidelineID, domain.StatusFailed, processErr.Error(), 0)
}
