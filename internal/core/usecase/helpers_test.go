package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/core/terms"
	"github.com/kirillkom/medguide-rag/internal/core/textnorm"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/chunking"
)

func testTokenizer(t *testing.T) ports.Tokenizer {
	t.Helper()
	a, err := textnorm.Default()
	if err != nil {
		t.Fatalf("textnorm.Default() error = %v", err)
	}
	return a
}

func testChunker() ports.Chunker {
	return chunking.NewHierarchicalChunker(terms.Default(), chunking.Options{
		ParentTokens: 40,
		ChildTokens:  12,
		ChildOverlap: 3,
	})
}

// keywordEmbedder projects text onto fixed keyword axes so cosine scores are
// predictable in tests.
type keywordEmbedder struct {
	mu       sync.Mutex
	axes     []string
	calls    int
	texts    int
	failOn   string
	err      error
	queryErr error
	dim      int
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{axes: []string{
		"hypertension", "blood pressure", "atrial fibrillation", "anticoagul",
		"warfarin", "stroke", "heart failure", "beta", "statin", "cholesterol",
	}}
}

func (f *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	dim := len(f.axes) + 1
	if f.dim > 0 {
		dim = f.dim
	}
	v := make([]float32, dim)
	for i, axis := range f.axes {
		if i >= dim {
			break
		}
		v[i] = float32(strings.Count(lower, axis))
	}
	v[dim-1] = 0.01
	return v
}

func (f *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts += len(texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding backend rejected input")
		}
		out[i] = f.vector(text)
	}
	return out, nil
}

func (f *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.vector(text), nil
}

func (f *keywordEmbedder) embeddedTexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

type snapshotStoreFake struct {
	mu         sync.Mutex
	generation uint64
	chunks     []domain.Chunk
	manifest   []domain.ManifestEntry
	saves      int
	conflicts  int
	saveErr    error
	loadErr    error
}

func (f *snapshotStoreFake) SaveSnapshot(_ context.Context, base uint64, chunks []domain.Chunk, manifest []domain.ManifestEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if base != f.generation {
		f.conflicts++
		return fmt.Errorf("save on generation %d, stored %d: %w", base, f.generation, domain.ErrSnapshotConflict)
	}
	f.saves++
	f.generation++
	f.chunks = append([]domain.Chunk(nil), chunks...)
	f.manifest = append([]domain.ManifestEntry(nil), manifest...)
	return nil
}

func (f *snapshotStoreFake) LoadSnapshot(context.Context) (domain.StoredSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.StoredSnapshot{}, f.loadErr
	}
	return domain.StoredSnapshot{Generation: f.generation, Chunks: f.chunks, Manifest: f.manifest}, nil
}

func (f *snapshotStoreFake) documentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.manifest))
	for _, entry := range f.manifest {
		ids = append(ids, entry.DocumentID)
	}
	return ids
}

type notifierFake struct {
	mu          sync.Mutex
	generations []uint64
	err         error
}

func (f *notifierFake) PublishSnapshotUpdated(_ context.Context, generation uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, generation)
	return f.err
}

type engineDeps struct {
	embedder *keywordEmbedder
	store    *snapshotStoreFake
	notifier *notifierFake
}

func newTestEngine(t *testing.T) (*Engine, engineDeps) {
	t.Helper()
	deps := engineDeps{
		embedder: newKeywordEmbedder(),
		store:    &snapshotStoreFake{},
		notifier: &notifierFake{},
	}
	e := NewEngine(testChunker(), deps.embedder, testTokenizer(t), deps.store, deps.notifier, EngineOptions{
		Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	return e, deps
}

func hypertensionDoc() domain.DocumentInput {
	return domain.DocumentInput{
		ID: "esc-2024-af",
		Pages: []domain.Page{
			{Number: 1, Text: "Hypertension is a major risk factor. Blood pressure should be measured at every visit. " +
				"Lifestyle changes are recommended for all patients with elevated blood pressure."},
			{Number: 2, Text: "Oral anticoagulation is recommended in patients with atrial fibrillation and a high stroke risk. " +
				"Warfarin requires INR monitoring. Direct oral anticoagulants are preferred over warfarin."},
		},
		Metadata: map[string]string{"society": "ESC", "year": "2024", "topic": "atrial fibrillation"},
	}
}

func heartFailureDoc() domain.DocumentInput {
	return domain.DocumentInput{
		ID: "aha-2022-hf",
		Pages: []domain.Page{
			{Number: 1, Text: "Beta blockers reduce mortality in heart failure with reduced ejection fraction. " +
				"Start at a low dose and titrate slowly."},
		},
		Metadata: map[string]string{"society": "AHA", "year": "2022", "topic": "heart failure"},
	}
}

func statinDoc() domain.DocumentInput {
	return domain.DocumentInput{
		ID: "esc-2019-lipids",
		Pages: []domain.Page{
			{Number: 1, Text: "High intensity statin therapy lowers cholesterol and cardiovascular events. " +
				"Check lipid levels after eight weeks."},
		},
		Metadata: map[string]string{"society": "ESC", "year": "2019", "topic": "dyslipidaemia"},
	}
}

func ingestOrFail(t *testing.T, e *Engine, docs ...domain.DocumentInput) domain.IngestReport {
	t.Helper()
	report, err := e.Ingest(context.Background(), docs)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return report
}
