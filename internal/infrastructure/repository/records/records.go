// Package records maps snapshot chunks and manifest entries to flat SQL rows.
// JSON columns hold the list and map fields so postgres and sqlite share one layout.
package records

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// ChunkColumns is the column order used by ChunkRow.Args and Scan targets.
const ChunkColumns = "position, id, document_id, page_number, level, parent_id, sequence, token_count, text, medical_terms, embedding, metadata"

// ManifestColumns is the column order used by ManifestRow.Args and Scan targets.
const ManifestColumns = "document_id, ingested_at, fingerprint, metadata, parent_count, child_count"

type ChunkRow struct {
	Position     int
	ID           string
	DocumentID   string
	PageNumber   int
	Level        string
	ParentID     string
	Sequence     int
	TokenCount   int
	Text         string
	MedicalTerms []byte
	Embedding    []byte
	Metadata     []byte
}

func FromChunk(position int, c domain.Chunk) (ChunkRow, error) {
	terms, err := json.Marshal(nonNil(c.MedicalTerms))
	if err != nil {
		return ChunkRow{}, fmt.Errorf("marshal medical terms: %w", err)
	}
	var embedding []byte
	if len(c.Embedding) > 0 {
		if embedding, err = json.Marshal(c.Embedding); err != nil {
			return ChunkRow{}, fmt.Errorf("marshal embedding: %w", err)
		}
	}
	metadata, err := marshalMap(c.Metadata)
	if err != nil {
		return ChunkRow{}, err
	}
	return ChunkRow{
		Position:     position,
		ID:           c.ID,
		DocumentID:   c.DocumentID,
		PageNumber:   c.PageNumber,
		Level:        string(c.Level),
		ParentID:     c.ParentID,
		Sequence:     c.Sequence,
		TokenCount:   c.TokenCount,
		Text:         c.Text,
		MedicalTerms: terms,
		Embedding:    embedding,
		Metadata:     metadata,
	}, nil
}

func (r ChunkRow) Args() []any {
	var embedding any
	if len(r.Embedding) > 0 {
		embedding = string(r.Embedding)
	}
	return []any{
		r.Position, r.ID, r.DocumentID, r.PageNumber, r.Level, r.ParentID, r.Sequence, r.TokenCount,
		r.Text, string(r.MedicalTerms), embedding, string(r.Metadata),
	}
}

// Targets returns scan destinations in ChunkColumns order.
func (r *ChunkRow) Targets() []any {
	return []any{
		&r.Position, &r.ID, &r.DocumentID, &r.PageNumber, &r.Level, &r.ParentID, &r.Sequence, &r.TokenCount,
		&r.Text, &r.MedicalTerms, &r.Embedding, &r.Metadata,
	}
}

func (r ChunkRow) Chunk() (domain.Chunk, error) {
	c := domain.Chunk{
		ID:         r.ID,
		Text:       r.Text,
		TokenCount: r.TokenCount,
		DocumentID: r.DocumentID,
		PageNumber: r.PageNumber,
		Level:      domain.ChunkLevel(r.Level),
		ParentID:   r.ParentID,
		Sequence:   r.Sequence,
	}
	if err := json.Unmarshal(r.MedicalTerms, &c.MedicalTerms); err != nil {
		return domain.Chunk{}, fmt.Errorf("chunk %s: unmarshal medical terms: %w", r.ID, err)
	}
	if len(r.Embedding) > 0 {
		if err := json.Unmarshal(r.Embedding, &c.Embedding); err != nil {
			return domain.Chunk{}, fmt.Errorf("chunk %s: unmarshal embedding: %w", r.ID, err)
		}
	}
	metadata, err := unmarshalMap(r.Metadata)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("chunk %s: %w", r.ID, err)
	}
	c.Metadata = metadata
	return c, nil
}

type ManifestRow struct {
	DocumentID  string
	IngestedAt  time.Time
	Fingerprint string
	Metadata    []byte
	ParentCount int
	ChildCount  int
}

func FromManifest(e domain.ManifestEntry) (ManifestRow, error) {
	metadata, err := marshalMap(e.Metadata)
	if err != nil {
		return ManifestRow{}, err
	}
	return ManifestRow{
		DocumentID:  e.DocumentID,
		IngestedAt:  e.IngestedAt.UTC(),
		Fingerprint: e.Fingerprint,
		Metadata:    metadata,
		ParentCount: e.ParentCount,
		ChildCount:  e.ChildCount,
	}, nil
}

func (r ManifestRow) Args() []any {
	return []any{r.DocumentID, r.IngestedAt, r.Fingerprint, string(r.Metadata), r.ParentCount, r.ChildCount}
}

func (r *ManifestRow) Targets() []any {
	return []any{&r.DocumentID, &r.IngestedAt, &r.Fingerprint, &r.Metadata, &r.ParentCount, &r.ChildCount}
}

func (r ManifestRow) Entry() (domain.ManifestEntry, error) {
	metadata, err := unmarshalMap(r.Metadata)
	if err != nil {
		return domain.ManifestEntry{}, fmt.Errorf("manifest %s: %w", r.DocumentID, err)
	}
	return domain.ManifestEntry{
		DocumentID:  r.DocumentID,
		IngestedAt:  r.IngestedAt.UTC(),
		Fingerprint: r.Fingerprint,
		Metadata:    metadata,
		ParentCount: r.ParentCount,
		ChildCount:  r.ChildCount,
	}, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return raw, nil
}

func unmarshalMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}
