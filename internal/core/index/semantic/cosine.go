// Package semantic implements an immutable cosine-similarity index over child embeddings.
package semantic

import (
	"errors"
	"fmt"
	"math"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Index stores unit-length copies of the input vectors.
type Index struct {
	dim     int
	vectors [][]float64
}

// Build requires every vector to share one non-zero dimension. Zero vectors are
// kept and always score 0.
func Build(vectors [][]float32) (*Index, error) {
	ix := &Index{vectors: make([][]float64, len(vectors))}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("vector %d is empty", i)
		}
		if ix.dim == 0 {
			ix.dim = len(v)
		}
		if len(v) != ix.dim {
			return nil, fmt.Errorf("vector %d: %w: got %d, want %d", i, ErrDimensionMismatch, len(v), ix.dim)
		}
		ix.vectors[i] = unit(v)
	}
	return ix, nil
}

func (ix *Index) Dim() int {
	return ix.dim
}

func (ix *Index) Len() int {
	return len(ix.vectors)
}

// Score returns cosine similarity in [-1, 1] for the given positions.
func (ix *Index) Score(query []float32, positions []int) ([]float64, error) {
	scores := make([]float64, len(positions))
	if len(ix.vectors) == 0 {
		return scores, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query: %w: got %d, want %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	q := unit(query)
	for i, pos := range positions {
		if pos < 0 || pos >= len(ix.vectors) {
			continue
		}
		var dot float64
		for j, x := range ix.vectors[pos] {
			dot += x * q[j]
		}
		scores[i] = dot
	}
	return scores, nil
}

func unit(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		out[i] = f
		norm += f * f
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}
