package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/config"
)

func TestRequestValidationRejectsContractViolations(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIRequestValidation: true})

	cases := []struct {
		name    string
		path    string
		payload map[string]any
	}{
		{name: "missing query", path: "/v1/search", payload: map[string]any{"top_k": 3}},
		{name: "top_k type", path: "/v1/search", payload: map[string]any{"query": "af", "top_k": "three"}},
		{name: "negative weight", path: "/v1/search", payload: map[string]any{"query": "af", "weights": map[string]any{"bm25": -1, "semantic": 1}}},
		{name: "page number", path: "/v1/guidelines", payload: map[string]any{"documents": []any{map[string]any{"document_id": "a", "pages": []any{map[string]any{"page_number": 0, "text": "x"}}}}}},
		{name: "age range", path: "/v1/safety/validate", payload: map[string]any{"recommendation_text": "x", "patient_profile": map[string]any{"age": 200}}},
	}
	for _, tc := range cases {
		res := postJSON(t, handler, tc.path, tc.payload)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, res.Code)
		}
		body := decodeBody(t, res)
		msg, _ := body["error"].(string)
		if !strings.HasPrefix(msg, "invalid request") {
			t.Fatalf("%s: expected validation message, got %q", tc.name, msg)
		}
		if body["code"] != "invalid_input" {
			t.Fatalf("%s: expected invalid_input code, got %v", tc.name, body["code"])
		}
	}
}

func TestRequestValidationAcceptsValidRequests(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIRequestValidation: true})

	res := postJSON(t, handler, "/v1/search", map[string]any{"query": "warfarin", "top_k": 5})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/guidelines/gl-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for registry lookup, got %d", rec.Code)
	}
}

func TestRequestValidationLeavesUnknownRoutesToMux(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIRequestValidation: true})

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestEmbeddedContractLoads(t *testing.T) {
	if _, err := newRequestValidator(); err != nil {
		t.Fatalf("newRequestValidator() error = %v", err)
	}
}
