package httpadapter

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIKey: "secret"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 without credentials, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestIngestGuidelines(t *testing.T) {
	fixture := newFixture()
	handler := fixture.handler(t, config.Config{})

	res := postJSON(t, handler, "/v1/guidelines", ingestRequest{Documents: []domain.DocumentInput{{
		ID:       "esc-af",
		Pages:    []domain.Page{{Number: 1, Text: "Atrial fibrillation."}},
		Metadata: map[string]string{"society": "ESC"},
	}}})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(fixture.ingestor.docs) != 1 || fixture.ingestor.docs[0].Metadata["society"] != "ESC" {
		t.Fatalf("unexpected ingested docs: %+v", fixture.ingestor.docs)
	}
	body := decodeBody(t, res)
	if body["swapped"] != true {
		t.Fatalf("expected swapped report, got %v", body)
	}
}

func TestListAndRemoveGuidelines(t *testing.T) {
	fixture := newFixture()
	handler := fixture.handler(t, config.Config{})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/guidelines", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", res.Code)
	}
	list := decodeBody(t, res)
	if entries, _ := list["guidelines"].([]any); len(entries) != 1 {
		t.Fatalf("expected one manifest entry, got %v", list)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodDelete, "/v1/guidelines/esc-af", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("remove expected 200, got %d", res.Code)
	}
	if len(fixture.ingestor.removed) != 1 || fixture.ingestor.removed[0] != "esc-af" {
		t.Fatalf("unexpected removed ids: %v", fixture.ingestor.removed)
	}
}

func TestUploadGuidelineSuccess(t *testing.T) {
	fixture := newFixture()
	handler := fixture.handler(t, config.Config{})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "af.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("Atrial fibrillation.\fPage two.")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = writer.WriteField("society", "ESC")
	_ = writer.WriteField("metadata", `{"topic":"af","society":"AHA"}`)
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/guidelines/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if decodeBody(t, res)["id"] != "gl-1" {
		t.Fatalf("unexpected response")
	}
	if fixture.uploader.metadata["society"] != "ESC" || fixture.uploader.metadata["topic"] != "af" {
		t.Fatalf("expected explicit field to win over metadata JSON, got %v", fixture.uploader.metadata)
	}
}

func TestUploadGuidelineMissingMultipartField(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIRequestValidation: true})

	req := httptest.NewRequest(http.MethodPost, "/v1/guidelines/upload", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadGuidelineTooLarge(t *testing.T) {
	handler := newTestHandler(t, config.Config{APIMaxUploadBytes: 256})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "big.txt")
	_, _ = part.Write(bytes.Repeat([]byte("x"), 1024))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/guidelines/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}
