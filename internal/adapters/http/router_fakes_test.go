package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/observability/logging"
)

type ingestorFake struct {
	docs    []domain.DocumentInput
	removed []string
	err     error
}

func (f *ingestorFake) Ingest(_ context.Context, docs []domain.DocumentInput) (domain.IngestReport, error) {
	if f.err != nil {
		return domain.IngestReport{}, f.err
	}
	f.docs = docs
	report := domain.IngestReport{Generation: 1, Swapped: true}
	for _, d := range docs {
		report.Documents = append(report.Documents, domain.DocumentResult{DocumentID: d.ID, Outcome: domain.OutcomeCreated, ChunkCount: 2})
	}
	return report, nil
}

func (f *ingestorFake) Remove(_ context.Context, ids []string) (domain.IngestReport, error) {
	if f.err != nil {
		return domain.IngestReport{}, f.err
	}
	f.removed = ids
	return domain.IngestReport{Generation: 2, Swapped: true}, nil
}

type searcherFake struct {
	req domain.SearchRequest
	err error
}

func (f *searcherFake) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SearchResponse{
		Query:      req.Query,
		Generation: 1,
		Weights:    domain.DefaultFusionWeights(),
		Results: []domain.RetrievalResult{{
			ChunkID:    "esc-af:p0002:s0001",
			DocumentID: "esc-af",
			PageNumber: 2,
			Text:       "Warfarin requires INR monitoring.",
			FusedScore: 1,
			Method:     domain.MethodHybrid,
			Rank:       1,
		}},
		Contexts: []domain.ParentContext{},
	}, nil
}

type verifierFake struct{ err error }

func (f verifierFake) Verify(context.Context, domain.VerifyRequest) (*domain.VerificationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VerificationResult{OverallScore: 1, HallucinationRisk: domain.HallucinationLow}, nil
}

type safetyFake struct {
	req domain.SafetyRequest
}

func (f *safetyFake) Validate(_ context.Context, req domain.SafetyRequest) (*domain.SafetyValidationResult, error) {
	f.req = req
	if err := req.Patient.Validate(); err != nil {
		return nil, err
	}
	return &domain.SafetyValidationResult{OverallSafetyScore: 1, RiskLevel: domain.RiskLow}, nil
}

type answererFake struct{}

func (answererFake) Answer(_ context.Context, req domain.AnswerRequest) (*domain.ClinicalAnswer, error) {
	return &domain.ClinicalAnswer{
		Question:     req.Question,
		Answer:       "Warfarin requires INR monitoring.",
		Verification: &domain.VerificationResult{OverallScore: 1, HallucinationRisk: domain.HallucinationLow},
	}, nil
}

type inspectorFake struct{}

func (inspectorFake) Status() domain.SystemStatus {
	return domain.SystemStatus{
		Ready:        true,
		Generation:   1,
		Documents:    1,
		ParentChunks: 1,
		ChildChunks:  2,
		Guidelines:   []domain.ManifestEntry{{DocumentID: "esc-af", ParentCount: 1, ChildCount: 2}},
	}
}

type uploaderFake struct {
	metadata map[string]string
	body     string
}

func (f *uploaderFake) Upload(_ context.Context, filename, mimeType string, metadata map[string]string, body io.Reader) (*domain.Guideline, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.InvalidInput("upload guideline", "empty file")
	}
	f.metadata = metadata
	f.body = string(raw)
	now := time.Now().UTC()
	return &domain.Guideline{
		ID:          "gl-1",
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: "gl-1_" + filename,
		Metadata:    metadata,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type readerFake struct{ err error }

func (f readerFake) GetByID(_ context.Context, id string) (*domain.Guideline, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Guideline{ID: id, Filename: "af.pdf", Status: domain.StatusReady}, nil
}

type routerFixture struct {
	ingestor *ingestorFake
	searcher *searcherFake
	safety   *safetyFake
	uploader *uploaderFake
	verifier verifierFake
	reader   readerFake
	logger   *slog.Logger
}

func newFixture() *routerFixture {
	return &routerFixture{
		ingestor: &ingestorFake{},
		searcher: &searcherFake{},
		safety:   &safetyFake{},
		uploader: &uploaderFake{},
	}
}

func (f *routerFixture) handler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	logger := f.logger
	if logger == nil {
		logger = logging.Discard()
	}
	rt, err := NewRouter(cfg, Dependencies{
		Ingestor:  f.ingestor,
		Searcher:  f.searcher,
		Verifier:  f.verifier,
		Safety:    f.safety,
		Answerer:  answererFake{},
		Inspector: inspectorFake{},
		Uploader:  f.uploader,
		Reader:    f.reader,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt.Handler()
}

func newTestHandler(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	return newFixture().handler(t, cfg)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
