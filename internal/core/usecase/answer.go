package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

const defaultAnswerTopK = 5

type AnswerUseCase struct {
	searcher  ports.EvidenceSearcher
	generator ports.AnswerGenerator
	verifier  ports.AnswerVerifier
	safety    ports.SafetyValidator
}

func NewAnswerUseCase(
	searcher ports.EvidenceSearcher,
	generator ports.AnswerGenerator,
	verifier ports.AnswerVerifier,
	safety ports.SafetyValidator,
) *AnswerUseCase {
	return &AnswerUseCase{
		searcher:  searcher,
		generator: generator,
		verifier:  verifier,
		safety:    safety,
	}
}

// Answer retrieves evidence, asks the generator for an answer and checks the
// answer against the same evidence. With a patient profile the answer is also
// screened by the safety engine.
func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.ClinicalAnswer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.InvalidInput("answer", "question is required")
	}
	if req.Patient != nil {
		if err := req.Patient.Validate(); err != nil {
			return nil, err
		}
	}
	topK := req.TopK
	if topK == 0 {
		topK = defaultAnswerTopK
	}

	search, err := uc.searcher.Search(ctx, domain.SearchRequest{
		Query:   question,
		TopK:    topK,
		Filter:  req.Filter,
		Weights: req.Weights,
	})
	if err != nil {
		return nil, err
	}

	out := &domain.ClinicalAnswer{
		Question: question,
		Evidence: search.Results,
		Contexts: search.Contexts,
		Notices:  search.Notices,
	}
	if len(search.Results) == 0 {
		return out, nil
	}

	text, err := uc.generator.GenerateAnswer(ctx, question, search.Results, search.Contexts)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	out.Answer = text

	verification, err := uc.verifier.Verify(ctx, domain.VerifyRequest{
		AnswerText: text,
		Evidence:   evidenceChunks(search.Results, search.Contexts),
	})
	if err != nil {
		return nil, fmt.Errorf("verify answer: %w", err)
	}
	out.Verification = verification

	if req.Patient != nil && uc.safety != nil {
		safety, err := uc.safety.Validate(ctx, domain.SafetyRequest{
			RecommendationText:     text,
			Patient:                *req.Patient,
			CheckInteractions:      true,
			CheckContraindications: true,
		})
		if err != nil {
			return nil, fmt.Errorf("screen answer: %w", err)
		}
		out.Safety = safety
	}
	return out, nil
}

// evidenceChunks turns retrieved children and their parent contexts into
// verification evidence.
func evidenceChunks(results []domain.RetrievalResult, contexts []domain.ParentContext) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(results)+len(contexts))
	for _, r := range results {
		out = append(out, domain.Chunk{
			ID:         r.ChunkID,
			Text:       r.Text,
			DocumentID: r.DocumentID,
			PageNumber: r.PageNumber,
			Level:      domain.LevelChild,
			ParentID:   r.ParentID,
		})
	}
	for _, c := range contexts {
		out = append(out, domain.Chunk{
			ID:         c.ParentID,
			Text:       c.Text,
			DocumentID: c.DocumentID,
			PageNumber: c.PageNumber,
			Level:      domain.LevelParent,
		})
	}
	return out
}
