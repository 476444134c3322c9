package semantic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreCosine(t *testing.T) {
	ix, err := Build([][]float32{{1, 0}, {0, 3}, {1, 1}, {0, 0}})
	require.NoError(t, err)
	require.Equal(t, 2, ix.Dim())

	scores, err := ix.Score([]float32{2, 0}, []int{0, 1, 2, 3})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, scores[0], 1e-9)
	assert.InDelta(t, 0.0, scores[1], 1e-9)
	assert.InDelta(t, 0.70710678, scores[2], 1e-6)
	assert.Zero(t, scores[3])
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	_, err := Build([][]float32{{1, 0}, {1, 0, 0}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestScoreRejectsQueryDimension(t *testing.T) {
	ix, err := Build([][]float32{{1, 0}})
	require.NoError(t, err)

	_, err = ix.Score([]float32{1, 0, 0}, []int{0})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestEmptyIndexScoresZero(t *testing.T) {
	ix, err := Build(nil)
	require.NoError(t, err)

	scores, err := ix.Score([]float32{1}, []int{})
	require.NoError(t, err)
	assert.Empty(t, scores)
}
