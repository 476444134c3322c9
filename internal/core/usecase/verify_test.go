package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/terms"
)

func newTestVerifier(t *testing.T, source SnapshotSource) *VerifyUseCase {
	t.Helper()
	return NewVerifyUseCase(source, testTokenizer(t), terms.Default(), DefaultVerifyOptions())
}

type nilSource struct{}

func (nilSource) Current() *Snapshot { return nil }

var warfarinEvidence = []domain.Chunk{{
	ID:   "ev-1",
	Text: "Warfarin requires INR monitoring in patients with atrial fibrillation. The target INR is 2.0 to 3.0.",
}}

func TestVerifySupportedAnswer(t *testing.T) {
	uc := newTestVerifier(t, nilSource{})

	res, err := uc.Verify(context.Background(), domain.VerifyRequest{
		AnswerText: "Warfarin requires INR monitoring. The target INR is 2.0 to 3.0.",
		Evidence:   warfarinEvidence,
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.OverallScore != 1 || res.HallucinationRisk != domain.HallucinationLow {
		t.Fatalf("expected fully verified low risk answer, got score=%v risk=%s", res.OverallScore, res.HallucinationRisk)
	}
	if len(res.Statements) != 2 || res.Statements[0].SupportingChunkID != "ev-1" {
		t.Fatalf("expected 2 statements supported by ev-1, got %+v", res.Statements)
	}
	if len(res.Statements[0].ClinicalTerms) == 0 {
		t.Fatalf("expected clinical terms on first statement")
	}
}

func TestVerifyUnverifiedDosingEscalatesRisk(t *testing.T) {
	uc := newTestVerifier(t, nilSource{})

	res, err := uc.Verify(context.Background(), domain.VerifyRequest{
		AnswerText: "Warfarin requires INR monitoring. Give amiodarone 800 mg twice daily for rapid conversion.",
		Evidence:   warfarinEvidence,
	})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.OverallScore != 0.5 {
		t.Fatalf("expected score 0.5, got %v", res.OverallScore)
	}
	if len(res.UnverifiedFacts) != 1 || len(res.VerifiedFacts) != 1 {
		t.Fatalf("unexpected fact split: verified=%v unverified=%v", res.VerifiedFacts, res.UnverifiedFacts)
	}
	if res.HallucinationRisk != domain.HallucinationHigh {
		t.Fatalf("expected medium escalated to high, got %s", res.HallucinationRisk)
	}
}

func TestVerifyWithoutEvidenceIsHighRisk(t *testing.T) {
	uc := newTestVerifier(t, nilSource{})

	res, err := uc.Verify(context.Background(), domain.VerifyRequest{AnswerText: "Statins lower cholesterol."})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.OverallScore != 0 || res.HallucinationRisk != domain.HallucinationHigh {
		t.Fatalf("expected score 0 high risk, got score=%v risk=%s", res.OverallScore, res.HallucinationRisk)
	}
}

func TestVerifyEmptyAnswer(t *testing.T) {
	uc := newTestVerifier(t, nilSource{})

	res, err := uc.Verify(context.Background(), domain.VerifyRequest{AnswerText: "  It is.  "})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.OverallScore != 1 || res.HallucinationRisk != domain.HallucinationLow {
		t.Fatalf("expected vacuous low risk result, got %+v", res)
	}
	codes := map[domain.NoticeCode]bool{}
	for _, n := range res.Notices {
		codes[n.Code] = true
	}
	if !codes[domain.NoticeNoStatements] || !codes[domain.NoticeSkippedText] {
		t.Fatalf("expected skipped_statement and no_statements notices, got %+v", res.Notices)
	}
	if res.VerifiedFacts == nil || res.UnverifiedFacts == nil {
		t.Fatalf("expected non-nil fact lists")
	}
}

func TestVerifyResolvesChunkIDsFromSnapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	ingestOrFail(t, e, hypertensionDoc())
	uc := newTestVerifier(t, e)

	var child domain.Chunk
	for _, c := range e.Current().Chunks() {
		if !c.IsParent() {
			child = c
			break
		}
	}

	res, err := uc.Verify(context.Background(), domain.VerifyRequest{AnswerText: child.Text, ChunkIDs: []string{child.ID}})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	for _, s := range res.Statements {
		if !s.Verified || s.SupportingChunkID != child.ID {
			t.Fatalf("expected statement supported by %s, got %+v", child.ID, s)
		}
	}

	_, err = uc.Verify(context.Background(), domain.VerifyRequest{AnswerText: "x", ChunkIDs: []string{"missing"}})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown chunk, got %v", err)
	}
}

func TestVerifyChunkIDsWithoutSnapshot(t *testing.T) {
	uc := newTestVerifier(t, nilSource{})

	_, err := uc.Verify(context.Background(), domain.VerifyRequest{AnswerText: "x", ChunkIDs: []string{"doc:p0001:s0001"}})
	if !errors.Is(err, domain.ErrSnapshotUnavailable) {
		t.Fatalf("expected snapshot unavailable, got %v", err)
	}
}
