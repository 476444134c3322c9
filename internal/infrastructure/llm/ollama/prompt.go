package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

const maxContextChars = 12000

func buildAnswerPrompt(question string, evidence []domain.RetrievalResult, contexts []domain.ParentContext) string {
	var b strings.Builder
	for idx, ctx := range contexts {
		entry := fmt.Sprintf("[%d] %s page %d (%s)\n%s\n\n", idx+1, ctx.DocumentID, ctx.PageNumber, ctx.ParentID, ctx.Text)
		if b.Len()+len(entry) > maxContextChars {
			break
		}
		b.WriteString(entry)
	}
	// Without parent contexts fall back to the matched passages themselves.
	if b.Len() == 0 {
		for idx, r := range evidence {
			fmt.Fprintf(&b, "[%d] %s page %d score=%.3f\n%s\n\n", idx+1, r.DocumentID, r.PageNumber, r.FusedScore, r.Text)
		}
	}

	return fmt.Sprintf(`You are a clinical assistant answering questions about cardiovascular guidelines.
Answer only from the guideline excerpts below. Do not add drugs, doses or recommendations
that are not stated in the excerpts. If the excerpts are insufficient, say so directly.
Write short declarative sentences.

Question:
%s

Guideline excerpts:
%s
`, question, b.String())
}
