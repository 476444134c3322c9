package usecase

import (
	"sort"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

// normalizeScores maps a list to [0,1] by min-max. When every value is equal,
// positive values map to 1 and the rest to 0, so a single matching candidate
// scores 1 and a list of zeros stays zero.
func normalizeScores(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	minScore, maxScore := scores[0], scores[0]
	for _, s := range scores[1:] {
		minScore = min(minScore, s)
		maxScore = max(maxScore, s)
	}
	spread := maxScore - minScore
	for i, s := range scores {
		switch {
		case spread > 0:
			out[i] = (s - minScore) / spread
		case s > 0:
			out[i] = 1
		}
	}
	return out
}

// methodFor tags a result by the scorers that contributed a non-zero value.
func methodFor(lex, sem float64, semanticRan bool) domain.RetrievalMethod {
	switch {
	case lex > 0 && sem > 0:
		return domain.MethodHybrid
	case lex > 0:
		return domain.MethodBM25
	case sem > 0:
		return domain.MethodSemantic
	case semanticRan:
		return domain.MethodHybrid
	default:
		return domain.MethodBM25
	}
}

// fuse combines normalized lists position by position and orders the result by
// fused score descending, then chunk id ascending.
func fuse(children []domain.Chunk, lex, sem []float64, weights domain.FusionWeights, semanticRan bool) []domain.RetrievalResult {
	out := make([]domain.RetrievalResult, len(children))
	for i, c := range children {
		out[i] = domain.RetrievalResult{
			ChunkID:       c.ID,
			DocumentID:    c.DocumentID,
			PageNumber:    c.PageNumber,
			ParentID:      c.ParentID,
			Text:          c.Text,
			LexicalScore:  lex[i],
			SemanticScore: sem[i],
			FusedScore:    weights.BM25*lex[i] + weights.Semantic*sem[i],
			Method:        methodFor(lex[i], sem[i], semanticRan),
			MedicalTerms:  c.MedicalTerms,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

func trimResults(results []domain.RetrievalResult, limit int) []domain.RetrievalResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

// parentContexts returns one context per distinct parent in result order.
func parentContexts(snap *Snapshot, results []domain.RetrievalResult) []domain.ParentContext {
	out := make([]domain.ParentContext, 0, len(results))
	index := make(map[string]int, len(results))
	for _, r := range results {
		if i, ok := index[r.ParentID]; ok {
			out[i].ChildIDs = append(out[i].ChildIDs, r.ChunkID)
			continue
		}
		parent, ok := snap.Parent(r.ParentID)
		if !ok {
			continue
		}
		index[r.ParentID] = len(out)
		out = append(out, domain.ParentContext{
			ParentID:   parent.ID,
			DocumentID: parent.DocumentID,
			PageNumber: parent.PageNumber,
			Text:       parent.Text,
			ChildIDs:   []string{r.ChunkID},
		})
	}
	return out
}
