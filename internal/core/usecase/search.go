package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

// SnapshotSource hands out the active snapshot.
type SnapshotSource interface {
	Current() *Snapshot
}

type SearchOptions struct {
	DefaultTopK int
	MaxTopK     int
	Weights     domain.FusionWeights
	// FilterKeys lists metadata keys accepted in SearchFilter.Metadata.
	FilterKeys []string
	MinYear    int
	MaxYear    int
	Logger     *slog.Logger
}

func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		DefaultTopK: 10,
		MaxTopK:     50,
		Weights:     domain.DefaultFusionWeights(),
		FilterKeys:  []string{domain.MetaSociety, domain.MetaYear, domain.MetaTopic, domain.MetaTitle},
		MinYear:     1950,
		MaxYear:     2100,
	}
}

type SearchUseCase struct {
	source    SnapshotSource
	embedder  ports.Embedder
	tokenizer ports.Tokenizer
	cache     ports.SearchCache
	opts      SearchOptions
	allowed   map[string]struct{}
}

// NewSearchUseCase accepts a nil embedder (lexical-only) and a nil cache.
func NewSearchUseCase(
	source SnapshotSource,
	embedder ports.Embedder,
	tokenizer ports.Tokenizer,
	cache ports.SearchCache,
	opts SearchOptions,
) *SearchUseCase {
	def := DefaultSearchOptions()
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = def.DefaultTopK
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = def.MaxTopK
	}
	if opts.DefaultTopK > opts.MaxTopK {
		opts.DefaultTopK = opts.MaxTopK
	}
	if opts.Weights == (domain.FusionWeights{}) {
		opts.Weights = def.Weights
	}
	if len(opts.FilterKeys) == 0 {
		opts.FilterKeys = def.FilterKeys
	}
	if opts.MinYear == 0 && opts.MaxYear == 0 {
		opts.MinYear, opts.MaxYear = def.MinYear, def.MaxYear
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(opts.FilterKeys))
	for _, k := range opts.FilterKeys {
		allowed[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	return &SearchUseCase{
		source:    source,
		embedder:  embedder,
		tokenizer: tokenizer,
		cache:     cache,
		opts:      opts,
		allowed:   allowed,
	}
}

type searchPlan struct {
	Query   string               `json:"query"`
	TopK    int                  `json:"top_k"`
	Filter  map[string]string    `json:"filter"`
	Weights domain.FusionWeights `json:"weights"`
}

func (uc *SearchUseCase) Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	plan, err := uc.plan(req)
	if err != nil {
		return nil, err
	}

	snap := uc.source.Current()
	if snap == nil {
		return &domain.SearchResponse{
			Query:    plan.Query,
			Weights:  plan.Weights,
			Results:  []domain.RetrievalResult{},
			Contexts: []domain.ParentContext{},
			Notices: []domain.Notice{{
				Code:    domain.NoticeNoSnapshot,
				Message: "no guidelines have been ingested yet",
			}},
		}, nil
	}

	cacheKey := uc.cacheKey(snap.Generation, plan)
	if uc.cache != nil {
		cached, ok, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			uc.opts.Logger.Warn("search_cache_get_failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	resp := uc.run(ctx, snap, plan)

	if uc.cache != nil {
		if err := uc.cache.Set(ctx, cacheKey, resp); err != nil {
			uc.opts.Logger.Warn("search_cache_set_failed", "error", err)
		}
	}
	return resp, nil
}

func (uc *SearchUseCase) run(ctx context.Context, snap *Snapshot, plan searchPlan) *domain.SearchResponse {
	resp := &domain.SearchResponse{
		Query:      plan.Query,
		Generation: snap.Generation,
		Weights:    plan.Weights,
		Results:    []domain.RetrievalResult{},
		Contexts:   []domain.ParentContext{},
	}

	positions := snap.candidates(plan.Filter)
	if len(positions) == 0 {
		resp.Notices = append(resp.Notices, domain.Notice{
			Code:    domain.NoticeNoCandidates,
			Message: "no guideline chunks match the filters",
		})
		return resp
	}

	lexRaw := snap.lexical.Score(uc.tokenizer.Tokens(plan.Query), positions)
	semRaw, semanticRan := uc.semanticScores(ctx, snap, plan.Query, positions)
	if !semanticRan {
		semRaw = make([]float64, len(positions))
		resp.Notices = append(resp.Notices, domain.Notice{
			Code:    domain.NoticeLexicalOnly,
			Message: "semantic scoring unavailable; ranked by lexical score only",
		})
	}

	children := make([]domain.Chunk, len(positions))
	for i, pos := range positions {
		children[i] = snap.children[pos]
	}

	results := fuse(children, normalizeScores(lexRaw), normalizeScores(semRaw), plan.Weights, semanticRan)
	results = trimResults(results, plan.TopK)
	for i := range results {
		results[i].Rank = i + 1
	}
	resp.Results = results
	resp.Contexts = parentContexts(snap, results)
	return resp
}

// semanticScores reports false when the snapshot has no vectors or the query
// could not be embedded; search then degrades to lexical ranking.
func (uc *SearchUseCase) semanticScores(ctx context.Context, snap *Snapshot, query string, positions []int) ([]float64, bool) {
	if snap.semantic == nil || uc.embedder == nil {
		return nil, false
	}
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		uc.opts.Logger.Warn("search_embed_query_failed", "error", err)
		return nil, false
	}
	scores, err := snap.semantic.Score(vector, positions)
	if err != nil {
		uc.opts.Logger.Warn("search_semantic_score_failed", "error", err)
		return nil, false
	}
	return scores, true
}

func (uc *SearchUseCase) plan(req domain.SearchRequest) (searchPlan, error) {
	const op = "search"
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return searchPlan{}, domain.InvalidInput(op, "query is required")
	}

	topK := req.TopK
	switch {
	case topK == 0:
		topK = uc.opts.DefaultTopK
	case topK < 0 || topK > uc.opts.MaxTopK:
		return searchPlan{}, domain.InvalidInput(op, "top_k must be between 1 and %d, got %d", uc.opts.MaxTopK, topK)
	}

	weights := uc.opts.Weights
	if req.Weights != nil {
		weights = *req.Weights
		if !validWeight(weights.BM25) || !validWeight(weights.Semantic) {
			return searchPlan{}, domain.InvalidInput(op, "weights must be finite and non-negative")
		}
		if weights.BM25 == 0 && weights.Semantic == 0 {
			return searchPlan{}, domain.InvalidInput(op, "at least one weight must be positive")
		}
	}

	filter, err := uc.filterMap(req.Filter)
	if err != nil {
		return searchPlan{}, err
	}
	return searchPlan{Query: query, TopK: topK, Filter: filter, Weights: weights}, nil
}

// filterMap merges the typed society/year fields with free metadata keys into
// one lower-cased key map.
func (uc *SearchUseCase) filterMap(f domain.SearchFilter) (map[string]string, error) {
	const op = "search"
	out := make(map[string]string)
	for k, v := range f.Metadata {
		key := strings.ToLower(strings.TrimSpace(k))
		if _, ok := uc.allowed[key]; !ok {
			return nil, domain.InvalidInput(op, "unsupported filter key %q", k)
		}
		value := strings.TrimSpace(v)
		if value == "" {
			return nil, domain.InvalidInput(op, "filter %q has an empty value", k)
		}
		if key == domain.MetaYear {
			year, err := strconv.Atoi(value)
			if err != nil {
				return nil, domain.InvalidInput(op, "filter year %q is not a number", v)
			}
			if err := uc.checkYear(year); err != nil {
				return nil, err
			}
		}
		out[key] = value
	}
	if society := strings.TrimSpace(f.Society); society != "" {
		out[domain.MetaSociety] = society
	}
	if f.Year != 0 {
		if err := uc.checkYear(f.Year); err != nil {
			return nil, err
		}
		out[domain.MetaYear] = strconv.Itoa(f.Year)
	}
	return out, nil
}

func (uc *SearchUseCase) checkYear(year int) error {
	if year < uc.opts.MinYear || year > uc.opts.MaxYear {
		return domain.InvalidInput("search", "filter year %d is outside %d..%d", year, uc.opts.MinYear, uc.opts.MaxYear)
	}
	return nil
}

func validWeight(w float64) bool {
	return w >= 0 && !math.IsNaN(w) && !math.IsInf(w, 0)
}

func (uc *SearchUseCase) cacheKey(generation uint64, plan searchPlan) string {
	// encoding/json sorts map keys, so the digest is stable.
	raw, _ := json.Marshal(plan)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("search:%d:%s", generation, hex.EncodeToString(sum[:]))
}
