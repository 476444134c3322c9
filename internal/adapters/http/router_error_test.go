package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.InvalidInput("search", "query is required"), http.StatusBadRequest, "invalid_input"},
		{domain.WrapError(domain.ErrGuidelineNotFound, "get", errors.New("id=x")), http.StatusNotFound, "guideline_not_found"},
		{domain.WrapError(domain.ErrSnapshotUnavailable, "verify", errors.New("empty")), http.StatusServiceUnavailable, "snapshot_unavailable"},
		{domain.WrapError(domain.ErrTemporary, "ollama.embed", errors.New("503")), http.StatusServiceUnavailable, "temporary"},
		{domain.WrapError(domain.ErrUnauthorized, "auth", errors.New("bad key")), http.StatusUnauthorized, "unauthorized"},
		{fmt.Errorf("ingest guidelines: %w", domain.ErrSnapshotConflict), http.StatusConflict, "snapshot_conflict"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		got := classifyError(tc.err)
		if got.status != tc.status || got.code != tc.code {
			t.Fatalf("classifyError(%v) = %+v, want %d/%s", tc.err, got, tc.status, tc.code)
		}
	}
}

func TestSearchMapsDomainInvalidInputTo400(t *testing.T) {
	fixture := newFixture()
	fixture.searcher.err = domain.InvalidInput("search", "top_k must be between 1 and 50, got 99")
	handler := fixture.handler(t, config.Config{})

	res := postJSON(t, handler, "/v1/search", map[string]any{"query": "warfarin", "top_k": 99})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["error"] == "" || body["code"] != "invalid_input" {
		t.Fatalf("expected error message and invalid_input code, got %v", body)
	}
}

func TestGetGuidelineReturns404ForNotFound(t *testing.T) {
	fixture := newFixture()
	fixture.reader.err = domain.WrapError(domain.ErrGuidelineNotFound, "get", errors.New("id=missing"))
	handler := fixture.handler(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/guidelines/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestVerifyWithoutSnapshotReturns503(t *testing.T) {
	fixture := newFixture()
	fixture.verifier.err = domain.WrapError(domain.ErrSnapshotUnavailable, "verify", errors.New("chunk ids given before any ingest"))
	handler := fixture.handler(t, config.Config{})

	res := postJSON(t, handler, "/v1/verify", map[string]any{"answer_text": "x", "chunk_ids": []string{"a:p0001:s0001"}})
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestMalformedJSONReturns400(t *testing.T) {
	handler := newTestHandler(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", res.Code)
	}
}

func TestUnexpectedErrorReturns500(t *testing.T) {
	fixture := newFixture()
	fixture.ingestor.err = errors.New("postgres down")
	handler := fixture.handler(t, config.Config{})

	res := postJSON(t, handler, "/v1/guidelines", map[string]any{"documents": []any{}})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
}
