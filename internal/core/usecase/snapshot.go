package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/index/lexical"
	"github.com/kirillkom/medguide-rag/internal/core/index/semantic"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

var errNoSnapshot = errors.New("no snapshot is active")

// Snapshot is one immutable corpus plus its indices. Readers obtain it once per
// call and never observe a later rebuild.
type Snapshot struct {
	Generation uint64
	BuiltAt    time.Time

	parents  map[string]domain.Chunk
	children []domain.Chunk
	childPos map[string]int
	lexical  *lexical.Index
	semantic *semantic.Index

	manifest   map[string]domain.ManifestEntry
	byDocument map[string][]domain.Chunk
}

// BuildSnapshot validates referential integrity and embedding dimensions and
// builds both indices. Children either all carry embeddings or none do; in the
// latter case the snapshot is lexical-only.
func BuildSnapshot(
	chunks []domain.Chunk,
	manifest []domain.ManifestEntry,
	generation uint64,
	builtAt time.Time,
	tokenizer ports.Tokenizer,
	params lexical.Params,
) (*Snapshot, error) {
	s := &Snapshot{
		Generation: generation,
		BuiltAt:    builtAt.UTC(),
		parents:    make(map[string]domain.Chunk),
		childPos:   make(map[string]int),
		manifest:   make(map[string]domain.ManifestEntry, len(manifest)),
		byDocument: make(map[string][]domain.Chunk),
	}

	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			return nil, fmt.Errorf("chunk without id in document %s", c.DocumentID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %s", c.ID)
		}
		seen[c.ID] = struct{}{}

		switch c.Level {
		case domain.LevelParent:
			if c.ParentID != "" {
				return nil, fmt.Errorf("parent chunk %s has parent_id %s", c.ID, c.ParentID)
			}
			s.parents[c.ID] = c
		case domain.LevelChild:
			s.children = append(s.children, c)
		default:
			return nil, fmt.Errorf("chunk %s has unknown level %q", c.ID, c.Level)
		}
		s.byDocument[c.DocumentID] = append(s.byDocument[c.DocumentID], c)
	}

	sort.Slice(s.children, func(i, j int) bool { return s.children[i].ID < s.children[j].ID })

	withVectors := 0
	for i, c := range s.children {
		parent, ok := s.parents[c.ParentID]
		if !ok {
			return nil, fmt.Errorf("child chunk %s references missing parent %s", c.ID, c.ParentID)
		}
		if parent.DocumentID != c.DocumentID {
			return nil, fmt.Errorf("child chunk %s and parent %s belong to different documents", c.ID, parent.ID)
		}
		if len(c.Embedding) > 0 {
			withVectors++
		}
		s.childPos[c.ID] = i
	}
	if withVectors != 0 && withVectors != len(s.children) {
		return nil, fmt.Errorf("%d of %d child chunks have no embedding", len(s.children)-withVectors, len(s.children))
	}

	docs := make([][]string, len(s.children))
	for i, c := range s.children {
		docs[i] = tokenizer.Tokens(c.Text)
	}
	s.lexical = lexical.Build(docs, params)

	if withVectors > 0 {
		vectors := make([][]float32, len(s.children))
		for i, c := range s.children {
			vectors[i] = c.Embedding
		}
		ix, err := semantic.Build(vectors)
		if err != nil {
			return nil, fmt.Errorf("build semantic index: %w", err)
		}
		s.semantic = ix
	}

	for _, entry := range manifest {
		if _, ok := s.byDocument[entry.DocumentID]; !ok {
			return nil, fmt.Errorf("manifest entry %s has no chunks", entry.DocumentID)
		}
		s.manifest[entry.DocumentID] = entry
	}
	for docID := range s.byDocument {
		if _, ok := s.manifest[docID]; !ok {
			s.manifest[docID] = manifestFor(docID, "", s.byDocument[docID], nil, s.BuiltAt)
		}
	}
	return s, nil
}

// Chunks returns every chunk ordered by document id, each document's chunks in
// chunker order (parents followed by their children).
func (s *Snapshot) Chunks() []domain.Chunk {
	ids := s.DocumentIDs()
	out := make([]domain.Chunk, 0, len(s.parents)+len(s.children))
	for _, id := range ids {
		out = append(out, s.byDocument[id]...)
	}
	return out
}

func (s *Snapshot) DocumentIDs() []string {
	ids := make([]string, 0, len(s.byDocument))
	for id := range s.byDocument {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Snapshot) Manifest() []domain.ManifestEntry {
	out := make([]domain.ManifestEntry, 0, len(s.manifest))
	for _, id := range s.DocumentIDs() {
		out = append(out, s.manifest[id])
	}
	return out
}

func (s *Snapshot) ManifestEntry(documentID string) (domain.ManifestEntry, bool) {
	entry, ok := s.manifest[documentID]
	return entry, ok
}

func (s *Snapshot) DocumentChunks(documentID string) []domain.Chunk {
	return s.byDocument[documentID]
}

// Chunk looks up a parent or child by id.
func (s *Snapshot) Chunk(id string) (domain.Chunk, bool) {
	if p, ok := s.parents[id]; ok {
		return p, true
	}
	if pos, ok := s.childPos[id]; ok {
		return s.children[pos], true
	}
	return domain.Chunk{}, false
}

func (s *Snapshot) Parent(id string) (domain.Chunk, bool) {
	p, ok := s.parents[id]
	return p, ok
}

func (s *Snapshot) ParentCount() int {
	return len(s.parents)
}

func (s *Snapshot) ChildCount() int {
	return len(s.children)
}

// EmbeddingDim is 0 for a lexical-only snapshot.
func (s *Snapshot) EmbeddingDim() int {
	if s.semantic == nil {
		return 0
	}
	return s.semantic.Dim()
}

// candidates returns child positions whose metadata satisfies the filter. Keys
// must already be lower-cased; values compare case-insensitively.
func (s *Snapshot) candidates(filter map[string]string) []int {
	out := make([]int, 0, len(s.children))
	for i, c := range s.children {
		if matchesFilter(c.Metadata, filter) {
			out = append(out, i)
		}
	}
	return out
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, want := range filter {
		if !strings.EqualFold(strings.TrimSpace(meta[k]), want) {
			return false
		}
	}
	return true
}

func (s *Snapshot) status() domain.SystemStatus {
	return domain.SystemStatus{
		Ready:        true,
		Generation:   s.Generation,
		BuiltAt:      s.BuiltAt,
		Documents:    len(s.byDocument),
		ParentChunks: len(s.parents),
		ChildChunks:  len(s.children),
		EmbeddingDim: s.EmbeddingDim(),
		Guidelines:   s.Manifest(),
	}
}

func manifestFor(documentID, fingerprint string, chunks []domain.Chunk, metadata map[string]string, at time.Time) domain.ManifestEntry {
	entry := domain.ManifestEntry{
		DocumentID:  documentID,
		IngestedAt:  at,
		Fingerprint: fingerprint,
		Metadata:    metadata,
	}
	for _, c := range chunks {
		if c.IsParent() {
			entry.ParentCount++
		} else {
			entry.ChildCount++
		}
		if entry.Metadata == nil && len(c.Metadata) > 0 {
			entry.Metadata = c.Metadata
		}
	}
	return entry
}
