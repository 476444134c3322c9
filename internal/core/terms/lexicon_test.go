package terms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

func TestExtractIsCaseInsensitiveAndMatchesPhrases(t *testing.T) {
	lex := Default()

	got := lex.Extract("In patients with ATRIAL   Fibrillation and heart\nfailure, WARFARIN is recommended (Class I).")

	assert.Equal(t, []string{"atrial fibrillation", "class i", "heart failure", "warfarin"}, got)
}

func TestExtractDistinguishesRecommendationClasses(t *testing.T) {
	lex := Default()

	got := lex.Extract("Class IIa recommendation; Class III: harm.")

	assert.Contains(t, got, "class iia")
	assert.Contains(t, got, "class iii")
	assert.NotContains(t, got, "class i")
}

func TestMatchReportsDosageAndAdministration(t *testing.T) {
	lex := Default()

	matches := lex.Match("Give metoprolol 25 mg orally twice daily.")

	var categories []domain.TermCategory
	for _, m := range matches {
		categories = append(categories, m.Category)
	}
	assert.Contains(t, categories, domain.TermDrug)
	assert.Contains(t, categories, domain.TermDosage)
	assert.Contains(t, categories, domain.TermAdministration)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Start, matches[i].Start, "matches must be ordered by position")
	}
}

func TestWordBoundariesPreventPartialMatches(t *testing.T) {
	lex := Default()

	got := lex.Extract("The ASAP protocol was unrelated to aspirinate salts.")

	assert.NotContains(t, got, "aspirin")
}

func TestDrugClasses(t *testing.T) {
	lex := Default()

	assert.Equal(t, "beta blocker", lex.ClassOf("Metoprolol"))
	assert.Equal(t, "anticoagulant", lex.ClassOf("warfarin"))
	assert.Equal(t, "", lex.ClassOf("unknownium"))

	term, ok := lex.Canonical("start a beta-blocker", domain.TermDrug)
	require.True(t, ok)
	assert.Equal(t, "beta blocker", term)
}

func TestLoadCustomLexicon(t *testing.T) {
	src := `
entries:
  - term: Foo Drug
    category: drug
    class: widgets
    patterns: [foodrug, foo drug]
  - term: dose
    category: dosage
    regex: '\d+ mg'
`
	lex, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, []string{"dose", "foo drug"}, lex.Extract("FOO  DRUG 10 mg"))
	assert.Equal(t, "widgets", lex.ClassOf("foo drug"))
}

func TestLoadRejectsUnknownCategory(t *testing.T) {
	_, err := Load(strings.NewReader("entries:\n  - term: x\n    category: planet\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader("entries:\n  - term: x\n    category: drug\n    colour: red\n"))
	require.Error(t, err)
}

func TestExtractEmptyText(t *testing.T) {
	assert.Empty(t, Default().Extract(""))
}
