package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type harness struct {
	t      *testing.T
	sqlite string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	return &harness{t: t, sqlite: filepath.Join(t.TempDir(), "medguide.db")}
}

// run executes one command against the harness database and returns stdout.
func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	root.SetArgs(append([]string{"--sqlite", h.sqlite, "--embedding", "hashing", "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) mustRun(stdin string, args ...string) string {
	h.t.Helper()
	out, err := h.run(stdin, args...)
	if err != nil {
		h.t.Fatalf("medguidectl %v: %v", args, err)
	}
	return out
}

func writeGuideline(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ESC AF 2024.txt")
	text := "Warfarin requires INR monitoring in atrial fibrillation.\fDirect oral anticoagulants are preferred over warfarin."
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestIngestSearchStatusRemove(t *testing.T) {
	h := newHarness(t)
	path := writeGuideline(t)

	var report domain.IngestReport
	decode(t, h.mustRun("", "ingest", path, "--society", "ESC", "--year", "2024"), &report)
	if !report.Swapped || report.Generation == 0 || report.ChunksCreated == 0 {
		t.Fatalf("unexpected ingest report: %+v", report)
	}

	var resp domain.SearchResponse
	decode(t, h.mustRun("", "search", "warfarin", "INR", "--society", "ESC"), &resp)
	if len(resp.Results) == 0 || resp.Results[0].DocumentID != "esc-af-2024" {
		t.Fatalf("unexpected search results: %+v", resp.Results)
	}

	var status domain.SystemStatus
	decode(t, h.mustRun("", "status"), &status)
	if !status.Ready || status.Documents != 1 || status.EmbeddingDim == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}

	decode(t, h.mustRun("", "remove", "esc-af-2024"), &report)
	decode(t, h.mustRun("", "status"), &status)
	if status.Documents != 0 {
		t.Fatalf("expected empty snapshot after remove, got %+v", status)
	}
}

func TestIngestFromJSONOnStdin(t *testing.T) {
	h := newHarness(t)
	payload := `{"documents":[{"document_id":"aha-hf-2022","pages":[{"page_number":1,"text":"Sacubitril valsartan is recommended in heart failure with reduced ejection fraction."}],"metadata":{"society":"AHA"}}]}`

	var report domain.IngestReport
	decode(t, h.mustRun(payload, "ingest", "--from-json", "-"), &report)
	if _, ok := report.Outcome("aha-hf-2022"); !ok {
		t.Fatalf("expected outcome for aha-hf-2022, got %+v", report)
	}
}

func TestIngestArgumentErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run("", "ingest"); err == nil {
		t.Fatalf("expected error without files")
	}
	if _, err := h.run("", "ingest", "a.txt", "b.txt", "--id", "x"); err == nil {
		t.Fatalf("expected error for --id with two files")
	}
}

func TestSafetyWithInlineProfile(t *testing.T) {
	h := newHarness(t)

	var res domain.SafetyValidationResult
	decode(t, h.mustRun("", "safety",
		"--text", "Start aspirin 75 mg daily.",
		"--profile", `{"medications":["warfarin"],"conditions":[],"allergies":[]}`,
	), &res)
	if len(res.DrugInteractions) == 0 || res.RiskLevel.Rank() < domain.RiskHigh.Rank() {
		t.Fatalf("expected high-risk warfarin interaction, got %+v", res)
	}
}

func TestSafetyRejectsMisspelledProfileKey(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("", "safety",
		"--text", "Give digoxin 0.25 mg once daily.",
		"--profile", `{"kidney_fuction":"severe"}`,
	)
	if err == nil || !strings.Contains(err.Error(), "kidney_fuction") {
		t.Fatalf("expected the unknown key to be rejected, got %v", err)
	}
}

func TestVerifyAgainstSnapshot(t *testing.T) {
	h := newHarness(t)
	h.mustRun("", "ingest", writeGuideline(t))

	var res domain.VerificationResult
	decode(t, h.mustRun("Warfarin requires INR monitoring in atrial fibrillation.", "verify", "--answer-file", "-"), &res)
	if len(res.Statements) == 0 {
		t.Fatalf("expected verified claims, got %+v", res)
	}
}

func decode(t *testing.T, raw string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
}
