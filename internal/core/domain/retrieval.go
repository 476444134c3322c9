package domain

type RetrievalMethod string

const (
	MethodBM25     RetrievalMethod = "bm25"
	MethodSemantic RetrievalMethod = "semantic"
	MethodHybrid   RetrievalMethod = "hybrid"
)

// FusionWeights scale the normalized lexical and semantic scores. They need not sum to 1.
type FusionWeights struct {
	BM25     float64 `json:"bm25"`
	Semantic float64 `json:"semantic"`
}

func DefaultFusionWeights() FusionWeights {
	return FusionWeights{BM25: 0.4, Semantic: 0.6}
}

// SearchFilter restricts candidates by exact, case-insensitive metadata match.
// Zero values mean "no restriction".
type SearchFilter struct {
	Society  string            `json:"society,omitempty"`
	Year     int               `json:"year,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (f SearchFilter) IsEmpty() bool {
	return f.Society == "" && f.Year == 0 && len(f.Metadata) == 0
}

type SearchRequest struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Filter  SearchFilter   `json:"filters"`
	Weights *FusionWeights `json:"weights,omitempty"`
}

// RetrievalResult carries the normalized scores that entered fusion.
type RetrievalResult struct {
	ChunkID       string          `json:"chunk_id"`
	DocumentID    string          `json:"source_document_id"`
	PageNumber    int             `json:"page_number"`
	ParentID      string          `json:"parent_id"`
	Text          string          `json:"text"`
	LexicalScore  float64         `json:"lexical_score"`
	SemanticScore float64         `json:"semantic_score"`
	FusedScore    float64         `json:"fused_score"`
	Method        RetrievalMethod `json:"method"`
	Rank          int             `json:"rank"`
	MedicalTerms  []string        `json:"medical_terms,omitempty"`
}

// ParentContext is attached once per parent even when several children matched.
type ParentContext struct {
	ParentID   string   `json:"parent_id"`
	DocumentID string   `json:"source_document_id"`
	PageNumber int      `json:"page_number"`
	Text       string   `json:"text"`
	ChildIDs   []string `json:"child_ids"`
}

type SearchResponse struct {
	Query      string            `json:"query"`
	Generation uint64            `json:"generation"`
	Weights    FusionWeights     `json:"weights"`
	Results    []RetrievalResult `json:"results"`
	Contexts   []ParentContext   `json:"contexts"`
	Notices    []Notice          `json:"notices,omitempty"`
}
