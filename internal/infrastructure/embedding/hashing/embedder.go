// Package hashing provides a deterministic, dependency-free embedder. Tokens
// are hashed into signed buckets and the resulting vector is L2-normalized,
// so cosine similarity approximates weighted token overlap. It lets the
// semantic index run offline and in tests without a model server.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

const DefaultDimension = 256

type Embedder struct {
	dim       int
	tokenizer ports.Tokenizer
}

// New uses tokenizer for normalization when given, otherwise a lower-cased
// alphanumeric split.
func New(dim int, tokenizer ports.Tokenizer) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim, tokenizer: tokenizer}
}

func (e *Embedder) Dimension() int {
	return e.dim
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := e.tokens(text)
	for _, token := range tokens {
		idx, sign := e.bucket(token)
		vec[idx] += sign
	}
	// Adjacent pairs keep some phrase information ("heart failure").
	for i := 1; i < len(tokens); i++ {
		idx, sign := e.bucket(tokens[i-1] + " " + tokens[i])
		vec[idx] += 0.5 * sign
	}
	normalize(vec)
	return vec
}

func (e *Embedder) bucket(token string) (int, float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum64()
	sign := float32(1)
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dim)), sign
}

func (e *Embedder) tokens(text string) []string {
	if e.tokenizer != nil {
		return e.tokenizer.Tokens(text)
	}
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
