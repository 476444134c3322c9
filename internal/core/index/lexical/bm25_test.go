package lexical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(s string) []string {
	return strings.Fields(s)
}

func allPositions(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestScoreRanksMatchingDocumentsFirst(t *testing.T) {
	ix := Build([][]string{
		tokens("warfarin anticoagul inr monitor"),
		tokens("beta blocker heart rate"),
		tokens("warfarin aspirin bleed risk"),
	}, DefaultParams())

	scores := ix.Score(tokens("warfarin bleed"), allPositions(3))

	require.Len(t, scores, 3)
	assert.Zero(t, scores[1])
	assert.Greater(t, scores[2], scores[0])
	assert.Greater(t, scores[0], 0.0)
}

func TestScoreNormalizesForDocumentLength(t *testing.T) {
	ix := Build([][]string{
		tokens("digoxin toxic"),
		tokens("digoxin toxic level renal function elder patient dose adjust monitor"),
	}, DefaultParams())

	scores := ix.Score(tokens("digoxin"), allPositions(2))

	assert.Greater(t, scores[0], scores[1])
}

func TestScoreTermFrequencySaturates(t *testing.T) {
	ix := Build([][]string{
		tokens("statin statin x x"),
		tokens("statin statin statin statin statin statin statin statin"),
		tokens("y y y y"),
	}, Params{K1: 1.2, B: 0})

	scores := ix.Score(tokens("statin"), allPositions(3))

	ratio := scores[1] / scores[0]
	assert.Less(t, ratio, 4.0, "eight occurrences must score less than four times two occurrences")
	assert.Greater(t, ratio, 1.0)
}

func TestScoreSubsetOfPositions(t *testing.T) {
	ix := Build([][]string{tokens("a b"), tokens("a"), tokens("c")}, DefaultParams())

	scores := ix.Score(tokens("a"), []int{2, 1})

	require.Len(t, scores, 2)
	assert.Zero(t, scores[0])
	assert.Greater(t, scores[1], 0.0)
}

func TestScoreEmptyQueryOrIndex(t *testing.T) {
	assert.Equal(t, []float64{0}, Build([][]string{tokens("a")}, DefaultParams()).Score(nil, []int{0}))
	assert.Empty(t, Build(nil, DefaultParams()).Score(tokens("a"), nil))
}

func TestParamsFallbackToDefaults(t *testing.T) {
	ix := Build(nil, Params{K1: -1, B: 2})
	assert.Equal(t, DefaultParams(), ix.Params())
}
