package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type generatorFake struct {
	answer   string
	err      error
	calls    int
	evidence []domain.RetrievalResult
}

func (f *generatorFake) GenerateAnswer(_ context.Context, _ string, evidence []domain.RetrievalResult, _ []domain.ParentContext) (string, error) {
	f.calls++
	f.evidence = evidence
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func newTestAnswer(t *testing.T, gen *generatorFake, docs ...domain.DocumentInput) *AnswerUseCase {
	t.Helper()
	search, e, _ := newTestSearch(t, docs...)
	return NewAnswerUseCase(search, gen, newTestVerifier(t, e), newTestSafety(t))
}

func TestAnswerVerifiesAgainstRetrievedEvidence(t *testing.T) {
	gen := &generatorFake{answer: "Warfarin requires INR monitoring. Direct oral anticoagulants are preferred over warfarin."}
	uc := newTestAnswer(t, gen, hypertensionDoc())

	res, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: "How is warfarin monitored?"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if gen.calls != 1 || len(gen.evidence) == 0 {
		t.Fatalf("expected generator to receive evidence, calls=%d", gen.calls)
	}
	if len(res.Evidence) > defaultAnswerTopK {
		t.Fatalf("expected at most %d evidence results, got %d", defaultAnswerTopK, len(res.Evidence))
	}
	if res.Verification == nil || res.Verification.HallucinationRisk != domain.HallucinationLow {
		t.Fatalf("expected low hallucination risk, got %+v", res.Verification)
	}
	if res.Safety != nil {
		t.Fatalf("expected no safety screening without patient profile")
	}
}

func TestAnswerScreensWithPatientProfile(t *testing.T) {
	gen := &generatorFake{answer: "Warfarin requires INR monitoring."}
	uc := newTestAnswer(t, gen, hypertensionDoc())
	patient := completeProfile()
	patient.Medications = []string{"aspirin"}

	res, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: "warfarin monitoring", Patient: &patient})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if res.Safety == nil || len(res.Safety.DrugInteractions) != 1 {
		t.Fatalf("expected warfarin-aspirin interaction, got %+v", res.Safety)
	}
}

func TestAnswerWithoutEvidenceSkipsGeneration(t *testing.T) {
	gen := &generatorFake{answer: "unused"}
	uc := newTestAnswer(t, gen)

	res, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: "warfarin monitoring"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if gen.calls != 0 || res.Answer != "" || res.Verification != nil {
		t.Fatalf("expected no generation without evidence, got %+v", res)
	}
	if len(res.Notices) != 1 || res.Notices[0].Code != domain.NoticeNoSnapshot {
		t.Fatalf("expected no_snapshot notice, got %+v", res.Notices)
	}
}

func TestAnswerPropagatesErrors(t *testing.T) {
	gen := &generatorFake{err: errors.New("model unavailable")}
	uc := newTestAnswer(t, gen, hypertensionDoc())

	if _, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: "warfarin"}); err == nil {
		t.Fatalf("expected generator error")
	}
	if _, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: " "}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty question, got %v", err)
	}
	bad := domain.PatientProfile{Gender: "unknown"}
	if _, err := uc.Answer(context.Background(), domain.AnswerRequest{Question: "warfarin", Patient: &bad}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad profile, got %v", err)
	}
}
