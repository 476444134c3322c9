package ports

import (
	"context"
	"io"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// TermExtractor matches lexicon vocabulary in free text.
type TermExtractor interface {
	Extract(text string) []string
	Match(text string) []domain.TermMatch
}

// DrugVocabulary adds canonicalization and drug classes to term matching.
type DrugVocabulary interface {
	TermExtractor
	Canonical(text string, category domain.TermCategory) (string, bool)
	ClassOf(drug string) string
}

// Tokenizer produces normalized content tokens (lower-cased, stemmed, stop words removed).
type Tokenizer interface {
	Tokens(text string) []string
}

// Chunker splits one document into parent and child chunks.
type Chunker interface {
	Chunk(doc domain.DocumentInput) ([]domain.Chunk, []domain.Notice)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// KnowledgeBase answers rule lookups for the safety engine. A false result is a
// knowledge gap, not a failure.
type KnowledgeBase interface {
	LookupInteraction(drugA, drugB string) (domain.InteractionRule, bool)
	LookupContraindication(drug, conditionOrState string) (domain.ContraindicationRule, bool)
	LookupDosingRange(drug string, age domain.AgeBand, renal, hepatic domain.OrganFunction) (domain.DosingRange, bool)
}

// SnapshotStore persists one record per chunk plus the document manifest.
// SaveSnapshot stores the snapshot as generation base+1 only while the stored
// generation is still base; otherwise it returns domain.ErrSnapshotConflict and
// changes nothing.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, base uint64, chunks []domain.Chunk, manifest []domain.ManifestEntry) error
	LoadSnapshot(ctx context.Context) (domain.StoredSnapshot, error)
}

// SnapshotNotifier announces that a new snapshot has been persisted.
type SnapshotNotifier interface {
	PublishSnapshotUpdated(ctx context.Context, generation uint64) error
}

// SearchCache memoizes search responses per snapshot generation.
type SearchCache interface {
	Get(ctx context.Context, key string) (*domain.SearchResponse, bool, error)
	Set(ctx context.Context, key string, resp *domain.SearchResponse) error
}

// AnswerGenerator produces candidate answer text from retrieved evidence.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, evidence []domain.RetrievalResult, contexts []domain.ParentContext) (string, error)
}

// GuidelineRepository persists uploaded guideline state.
type GuidelineRepository interface {
	Create(ctx context.Context, g *domain.Guideline) error
	GetByID(ctx context.Context, id string) (*domain.Guideline, error)
	UpdateStatus(ctx context.Context, id string, status domain.GuidelineStatus, errMessage string, chunkCount int) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// UploadQueue publishes/consumes guideline upload events.
type UploadQueue interface {
	PublishGuidelineUploaded(ctx context.Context, guidelineID string) error
	SubscribeGuidelineUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// PageExtractor extracts per-page text from a stored guideline.
type PageExtractor interface {
	ExtractPages(ctx context.Context, g *domain.Guideline) ([]domain.Page, error)
}
