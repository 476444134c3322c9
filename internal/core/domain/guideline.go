package domain

import "time"

type GuidelineStatus string

const (
	StatusUploaded   GuidelineStatus = "uploaded"
	StatusProcessing GuidelineStatus = "processing"
	StatusReady      GuidelineStatus = "ready"
	StatusFailed     GuidelineStatus = "failed"
)

// Guideline is an uploaded source file tracked until it is part of a snapshot.
type Guideline struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	MimeType    string            `json:"mime_type"`
	StoragePath string            `json:"storage_path"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      GuidelineStatus   `json:"status"`
	Error       string            `json:"error,omitempty"`
	ChunkCount  int               `json:"chunk_count"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ManifestEntry records what is needed to decide whether a document must be rebuilt.
type ManifestEntry struct {
	DocumentID  string            `json:"document_id"`
	IngestedAt  time.Time         `json:"ingested_at"`
	Fingerprint string            `json:"fingerprint"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ParentCount int               `json:"parent_count"`
	ChildCount  int               `json:"child_count"`
}

// StoredSnapshot is the persisted snapshot together with the generation it was
// saved as. Generation 0 means nothing was ever saved.
type StoredSnapshot struct {
	Generation uint64
	Chunks     []Chunk
	Manifest   []ManifestEntry
}

type DocumentOutcome string

const (
	OutcomeCreated   DocumentOutcome = "created"
	OutcomeUnchanged DocumentOutcome = "unchanged"
	OutcomeSkipped   DocumentOutcome = "skipped"
	OutcomeFailed    DocumentOutcome = "failed"
	OutcomeRemoved   DocumentOutcome = "removed"
)

type DocumentResult struct {
	DocumentID string          `json:"document_id"`
	Outcome    DocumentOutcome `json:"outcome"`
	ChunkCount int             `json:"chunk_count"`
}

type DocumentFailure struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// IngestReport summarises one rebuild. Failures never block other documents.
type IngestReport struct {
	Generation    uint64            `json:"generation"`
	Swapped       bool              `json:"swapped"`
	ChunksCreated int               `json:"chunks_created"`
	Documents     []DocumentResult  `json:"documents"`
	Failures      []DocumentFailure `json:"failures,omitempty"`
	Notices       []Notice          `json:"notices,omitempty"`
}

func (r IngestReport) Outcome(documentID string) (DocumentResult, bool) {
	for _, doc := range r.Documents {
		if doc.DocumentID == documentID {
			return doc, true
		}
	}
	return DocumentResult{}, false
}

type SystemStatus struct {
	Ready        bool            `json:"ready"`
	Generation   uint64          `json:"generation"`
	BuiltAt      time.Time       `json:"built_at,omitzero"`
	Documents    int             `json:"documents"`
	ParentChunks int             `json:"parent_chunks"`
	ChildChunks  int             `json:"child_chunks"`
	EmbeddingDim int             `json:"embedding_dim"`
	Guidelines   []ManifestEntry `json:"guidelines"`
}
