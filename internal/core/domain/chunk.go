package domain

import (
	"strconv"
	"strings"
)

type ChunkLevel string

const (
	LevelParent ChunkLevel = "parent"
	LevelChild  ChunkLevel = "child"
)

// Chunk is immutable once a snapshot holding it has been built.
type Chunk struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	TokenCount   int               `json:"token_count"`
	DocumentID   string            `json:"source_document_id"`
	PageNumber   int               `json:"page_number"`
	Level        ChunkLevel        `json:"level"`
	ParentID     string            `json:"parent_id,omitempty"`
	Sequence     int               `json:"sequence"`
	MedicalTerms []string          `json:"medical_terms"`
	Embedding    []float32         `json:"embedding,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (c Chunk) IsParent() bool {
	return c.Level == LevelParent
}

type Page struct {
	Number int    `json:"page_number"`
	Text   string `json:"text"`
}

// Chunk ids zero-pad page and sequence numbers, so id order follows document
// order only up to these limits.
const (
	MaxPageNumber         = 9999
	MaxParentsPerDocument = 9999
	MaxChildrenPerParent  = 999
)

type DocumentInput struct {
	ID       string            `json:"document_id"`
	Pages    []Page            `json:"pages"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validate checks the identifier and page numbering. Page text may be empty;
// empty pages are reported by the chunker rather than rejected here.
func (d DocumentInput) Validate() error {
	id := strings.TrimSpace(d.ID)
	if id == "" {
		return InvalidInput("validate document", "document_id is required")
	}
	if id != d.ID || strings.ContainsAny(id, ": \t\n") {
		return InvalidInput("validate document", "document_id %q must not contain whitespace or ':'", d.ID)
	}
	seen := make(map[int]struct{}, len(d.Pages))
	for _, page := range d.Pages {
		if page.Number <= 0 || page.Number > MaxPageNumber {
			return InvalidInput("validate document", "document %s: page_number must be between 1 and %d, got %d", d.ID, MaxPageNumber, page.Number)
		}
		if _, dup := seen[page.Number]; dup {
			return InvalidInput("validate document", "document %s: duplicate page_number %d", d.ID, page.Number)
		}
		seen[page.Number] = struct{}{}
	}
	if year, ok := d.Metadata[MetaYear]; ok && year != "" {
		if _, err := strconv.Atoi(year); err != nil {
			return InvalidInput("validate document", "document %s: metadata year %q is not a number", d.ID, year)
		}
	}
	return nil
}

// Well-known chunk metadata keys.
const (
	MetaSociety = "society"
	MetaYear    = "year"
	MetaTitle   = "title"
	MetaTopic   = "topic"
)
