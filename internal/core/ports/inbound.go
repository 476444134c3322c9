package ports

import (
	"context"
	"io"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// GuidelineIngestor rebuilds the active snapshot from a set of guideline documents.
type GuidelineIngestor interface {
	Ingest(ctx context.Context, docs []domain.DocumentInput) (domain.IngestReport, error)
	Remove(ctx context.Context, documentIDs []string) (domain.IngestReport, error)
}

// EvidenceSearcher is the inbound contract for hybrid retrieval.
type EvidenceSearcher interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

// AnswerVerifier scores a generated answer against evidence.
type AnswerVerifier interface {
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerificationResult, error)
}

// SafetyValidator screens a recommendation against a patient profile.
type SafetyValidator interface {
	Validate(ctx context.Context, req domain.SafetyRequest) (*domain.SafetyValidationResult, error)
}

// ClinicalAnswerer runs search, generation, verification and optional safety screening.
type ClinicalAnswerer interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.ClinicalAnswer, error)
}

// SystemInspector reports the state of the active snapshot.
type SystemInspector interface {
	Status() domain.SystemStatus
}

// GuidelineUploader accepts a source file for asynchronous processing.
type GuidelineUploader interface {
	Upload(ctx context.Context, filename, mimeType string, metadata map[string]string, body io.Reader) (*domain.Guideline, error)
}

// GuidelineReader is the read model for uploaded guideline state.
type GuidelineReader interface {
	GetByID(ctx context.Context, id string) (*domain.Guideline, error)
}

// GuidelineProcessor turns an uploaded guideline into snapshot content.
type GuidelineProcessor interface {
	ProcessByID(ctx context.Context, guidelineID string) error
}
