package textnorm

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/analysis"
	"github.com/blevesearch/bleve/analysis/lang/en"
	"github.com/blevesearch/bleve/registry"
)

// Analyzer runs the English analysis chain: unicode word segmentation,
// possessive stripping, lower-casing, English stop-word removal and Porter stemming.
type Analyzer struct {
	analyze func([]byte) analysis.TokenStream
}

func NewAnalyzer() (*Analyzer, error) {
	cache := registry.NewCache()
	a, err := cache.AnalyzerNamed(en.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("load english analyzer: %w", err)
	}
	return &Analyzer{analyze: a.Analyze}, nil
}

var defaultAnalyzer = sync.OnceValues(NewAnalyzer)

// Default returns a process-wide analyzer. It is safe for concurrent use.
func Default() (*Analyzer, error) {
	return defaultAnalyzer()
}

// Tokens returns content tokens in text order, duplicates included.
func (a *Analyzer) Tokens(text string) []string {
	if text == "" {
		return nil
	}
	stream := a.analyze([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		out = append(out, string(tok.Term))
	}
	return out
}

func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// UniqueTokens keeps the first occurrence of every token.
func UniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
