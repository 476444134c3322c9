package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/observability/logging"
)

func accessLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		if line["msg"] == "http_request" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestSearchTagsSnapshotGeneration(t *testing.T) {
	var buf bytes.Buffer
	fixture := newFixture()
	fixture.logger = logging.NewLogger(&buf, "api", "info")
	handler := fixture.handler(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"warfarin"}`))
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get(generationHeader); got != "1" {
		t.Fatalf("expected generation header 1, got %q", got)
	}
	if got := res.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}

	lines := accessLogLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one access log line, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["request_id"] != "req-42" || lines[0]["snapshot_generation"] != float64(1) {
		t.Fatalf("unexpected access log attrs: %v", lines[0])
	}
}

func TestAccessLogCarriesErrorCode(t *testing.T) {
	var buf bytes.Buffer
	fixture := newFixture()
	fixture.logger = logging.NewLogger(&buf, "api", "info")
	fixture.ingestor.err = errors.New("postgres down")
	handler := fixture.handler(t, config.Config{})

	res := postJSON(t, handler, "/v1/guidelines", map[string]any{"documents": []any{}})
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}

	lines := accessLogLines(t, &buf)
	if len(lines) != 1 || lines[0]["error_code"] != "internal" || lines[0]["level"] != "ERROR" {
		t.Fatalf("unexpected access log: %s", buf.String())
	}
	if res.Header().Get(generationHeader) != "" {
		t.Fatalf("failed ingest must not report a generation")
	}
}

func TestOversizedRequestIDIsReplaced(t *testing.T) {
	handler := newTestHandler(t, config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 200))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if got := res.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", got)
	}
}
