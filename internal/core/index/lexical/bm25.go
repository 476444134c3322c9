// Package lexical implements an immutable Okapi BM25 index over child chunks.
package lexical

import "math"

type Params struct {
	K1 float64
	B  float64
}

func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

func (p Params) normalize() Params {
	def := DefaultParams()
	if p.K1 <= 0 {
		p.K1 = def.K1
	}
	if p.B < 0 || p.B > 1 {
		p.B = def.B
	}
	return p
}

type document struct {
	tf     map[string]int
	length int
}

// Index scores documents by position. It is never mutated after Build.
type Index struct {
	params Params
	docs   []document
	df     map[string]int
	avgLen float64
}

// Build indexes pre-tokenized documents. Position i in docs is position i in scores.
func Build(docs [][]string, params Params) *Index {
	ix := &Index{
		params: params.normalize(),
		docs:   make([]document, len(docs)),
		df:     make(map[string]int),
	}
	total := 0
	for i, tokens := range docs {
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			ix.df[tok]++
		}
		ix.docs[i] = document{tf: tf, length: len(tokens)}
		total += len(tokens)
	}
	if len(docs) > 0 {
		ix.avgLen = float64(total) / float64(len(docs))
	}
	return ix
}

func (ix *Index) Len() int {
	return len(ix.docs)
}

func (ix *Index) Params() Params {
	return ix.params
}

// idf uses the non-negative variant ln(1 + (N - df + 0.5) / (df + 0.5)).
func (ix *Index) idf(term string) float64 {
	df := float64(ix.df[term])
	n := float64(len(ix.docs))
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Score returns BM25 scores for the given positions. Repeated query terms count once.
func (ix *Index) Score(query []string, positions []int) []float64 {
	scores := make([]float64, len(positions))
	if len(query) == 0 || ix.avgLen == 0 {
		return scores
	}

	seen := make(map[string]struct{}, len(query))
	terms := make([]string, 0, len(query))
	for _, q := range query {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		if ix.df[q] == 0 {
			continue
		}
		terms = append(terms, q)
	}
	if len(terms) == 0 {
		return scores
	}

	idf := make([]float64, len(terms))
	for i, term := range terms {
		idf[i] = ix.idf(term)
	}

	k1, b := ix.params.K1, ix.params.B
	for i, pos := range positions {
		if pos < 0 || pos >= len(ix.docs) {
			continue
		}
		doc := ix.docs[pos]
		norm := k1 * (1 - b + b*float64(doc.length)/ix.avgLen)
		var score float64
		for j, term := range terms {
			tf := float64(doc.tf[term])
			if tf == 0 {
				continue
			}
			score += idf[j] * (tf * (k1 + 1)) / (tf + norm)
		}
		scores[i] = score
	}
	return scores
}
