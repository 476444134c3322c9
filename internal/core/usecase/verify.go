package usecase

import (
	"context"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/core/textnorm"
)

type VerifyOptions struct {
	// Threshold is the minimum coverage for a statement to count as verified.
	Threshold float64
	Bands     domain.RiskBands
}

func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{Threshold: 0.7, Bands: domain.DefaultRiskBands()}
}

type VerifyUseCase struct {
	source    SnapshotSource
	tokenizer ports.Tokenizer
	terms     ports.TermExtractor
	opts      VerifyOptions
}

func NewVerifyUseCase(source SnapshotSource, tokenizer ports.Tokenizer, terms ports.TermExtractor, opts VerifyOptions) *VerifyUseCase {
	def := DefaultVerifyOptions()
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = def.Threshold
	}
	if opts.Bands == (domain.RiskBands{}) {
		opts.Bands = def.Bands
	}
	return &VerifyUseCase{
		source:    source,
		tokenizer: tokenizer,
		terms:     terms,
		opts:      opts,
	}
}

type evidenceTokens struct {
	chunkID string
	tokens  map[string]struct{}
}

// Verify splits the answer into sentences and scores each one by the share of
// its content tokens found in the best single evidence chunk.
func (uc *VerifyUseCase) Verify(_ context.Context, req domain.VerifyRequest) (*domain.VerificationResult, error) {
	evidence, err := uc.resolveEvidence(req)
	if err != nil {
		return nil, err
	}

	prepared := make([]evidenceTokens, len(evidence))
	for i, c := range evidence {
		prepared[i] = evidenceTokens{chunkID: c.ID, tokens: textnorm.TokenSet(uc.tokenizer.Tokens(c.Text))}
	}

	result := &domain.VerificationResult{
		VerifiedFacts:   []string{},
		UnverifiedFacts: []string{},
		Statements:      []domain.StatementScore{},
	}
	unverifiedDosing := false

	for _, sentence := range textnorm.SplitSentences(req.AnswerText) {
		tokens := textnorm.UniqueTokens(uc.tokenizer.Tokens(sentence))
		if len(tokens) == 0 {
			result.Notices = append(result.Notices, domain.Notice{
				Code:    domain.NoticeSkippedText,
				Message: "statement has no content words: " + truncate(sentence, 80),
			})
			continue
		}

		score, support := bestCoverage(tokens, prepared)
		statement := domain.StatementScore{
			Statement:         sentence,
			Score:             score,
			Verified:          score >= uc.opts.Threshold,
			SupportingChunkID: support,
			ClinicalTerms:     uc.terms.Extract(sentence),
		}
		result.Statements = append(result.Statements, statement)

		if statement.Verified {
			result.VerifiedFacts = append(result.VerifiedFacts, sentence)
			continue
		}
		result.UnverifiedFacts = append(result.UnverifiedFacts, sentence)
		if uc.mentionsDosing(sentence) {
			unverifiedDosing = true
		}
	}

	if len(result.Statements) == 0 {
		result.OverallScore = 1
		result.HallucinationRisk = domain.HallucinationLow
		result.Notices = append(result.Notices, domain.Notice{
			Code:    domain.NoticeNoStatements,
			Message: "answer contains no verifiable statements",
		})
		return result, nil
	}

	result.OverallScore = float64(len(result.VerifiedFacts)) / float64(len(result.Statements))
	result.HallucinationRisk = uc.opts.Bands.Classify(result.OverallScore)
	if unverifiedDosing {
		result.HallucinationRisk = result.HallucinationRisk.Escalate()
	}
	return result, nil
}

// resolveEvidence returns inline chunks followed by chunks looked up by id in the
// active snapshot.
func (uc *VerifyUseCase) resolveEvidence(req domain.VerifyRequest) ([]domain.Chunk, error) {
	const op = "verify"
	out := make([]domain.Chunk, 0, len(req.Evidence)+len(req.ChunkIDs))
	out = append(out, req.Evidence...)
	if len(req.ChunkIDs) == 0 {
		return out, nil
	}

	snap := uc.source.Current()
	if snap == nil {
		return nil, domain.WrapError(domain.ErrSnapshotUnavailable, op, errNoSnapshot)
	}
	for _, id := range req.ChunkIDs {
		c, ok := snap.Chunk(strings.TrimSpace(id))
		if !ok {
			return nil, domain.InvalidInput(op, "unknown chunk id %q", id)
		}
		out = append(out, c)
	}
	return out, nil
}

func (uc *VerifyUseCase) mentionsDosing(sentence string) bool {
	for _, m := range uc.terms.Match(sentence) {
		if m.IsDosing() {
			return true
		}
	}
	return false
}

// bestCoverage returns the highest coverage and the first chunk reaching it.
func bestCoverage(tokens []string, evidence []evidenceTokens) (float64, string) {
	var (
		best    float64
		support string
	)
	for _, ev := range evidence {
		hits := 0
		for _, tok := range tokens {
			if _, ok := ev.tokens[tok]; ok {
				hits++
			}
		}
		coverage := float64(hits) / float64(len(tokens))
		if coverage > best {
			best, support = coverage, ev.chunkID
		}
	}
	return best, support
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
