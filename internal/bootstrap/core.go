package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/index/lexical"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/core/terms"
	"github.com/kirillkom/medguide-rag/internal/core/textnorm"
	"github.com/kirillkom/medguide-rag/internal/core/usecase"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/knowledge"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/knowledge/neo4jkb"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/resilience"
)

const (
	EmbeddingOllama  = "ollama"
	EmbeddingHashing = "hashing"
	EmbeddingNone    = "none"
)

// Core is the snapshot engine and the read-side use cases built on it.
type Core struct {
	Lexicon *terms.Lexicon
	Engine  *usecase.Engine
	Search  *usecase.SearchUseCase
	Verify  *usecase.VerifyUseCase
	Safety  *usecase.SafetyUseCase
}

type coreDeps struct {
	store    ports.SnapshotStore
	notifier ports.SnapshotNotifier
	embedder ports.Embedder
	cache    ports.SearchCache
}

func loadLexicon(cfg config.Config) (*terms.Lexicon, error) {
	if path := strings.TrimSpace(cfg.LexiconPath); path != "" {
		lex, err := terms.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load lexicon: %w", err)
		}
		return lex, nil
	}
	return terms.Default(), nil
}

// loadKnowledge layers the built-in tables, an optional YAML/XLSX file and an
// optional Neo4j rule graph, then adds the lexicon's drug classes.
func loadKnowledge(ctx context.Context, cfg config.Config, lex *terms.Lexicon, logger *slog.Logger) (*knowledge.Base, error) {
	tables, err := knowledge.DefaultTables()
	if err != nil {
		return nil, fmt.Errorf("load default knowledge: %w", err)
	}
	if path := strings.TrimSpace(cfg.KnowledgePath); path != "" {
		extra, err := knowledge.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load knowledge file: %w", err)
		}
		tables = tables.Merge(extra)
		logger.Info("knowledge_file_loaded", "path", path,
			"interactions", len(extra.Interactions),
			"contraindications", len(extra.Contraindications),
			"dosing", len(extra.Dosing),
		)
	}
	if uri := strings.TrimSpace(cfg.Neo4jURI); uri != "" {
		source, err := neo4jkb.NewSource(ctx, uri, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect neo4j: %w", err)
		}
		graph, err := source.Tables(ctx)
		_ = source.Close(ctx)
		if err != nil {
			return nil, fmt.Errorf("load neo4j knowledge: %w", err)
		}
		tables = tables.Merge(graph)
		logger.Info("knowledge_graph_loaded", "uri", uri, "interactions", len(graph.Interactions))
	}
	tables = tables.Merge(knowledge.Tables{DrugClasses: lex.DrugClasses()})

	kb, err := knowledge.New(tables)
	if err != nil {
		return nil, fmt.Errorf("build knowledge base: %w", err)
	}
	return kb, nil
}

func newExecutor(cfg config.Config, logger *slog.Logger, observer resilience.Observer) *resilience.Executor {
	rc := resilience.DefaultConfig()
	if cfg.ResilienceRetryAttempts > 0 {
		rc.RetryMaxAttempts = cfg.ResilienceRetryAttempts
	}
	if cfg.ResilienceRetryBackoff > 0 {
		rc.RetryInitialBackoff = cfg.ResilienceRetryBackoff
	}
	if cfg.ResilienceRetryMaxWait > 0 {
		rc.RetryMaxBackoff = cfg.ResilienceRetryMaxWait
	}
	if cfg.ResilienceBreakerOpenFor > 0 {
		rc.BreakerOpenTimeout = cfg.ResilienceBreakerOpenFor
	}
	rc.BreakerEnabled = cfg.ResilienceBreakerEnabled

	opts := []resilience.Option{
		resilience.WithLogger(logger),
		resilience.WithOperationConfig(ollama.OperationGenerate, resilience.GenerationConfig(rc)),
	}
	if observer != nil {
		opts = append(opts, resilience.WithObserver(observer))
	}
	return resilience.NewExecutor(rc, opts...)
}

// newEmbedder returns a nil interface for "none", which makes retrieval lexical-only.
func newEmbedder(cfg config.Config, tokenizer ports.Tokenizer, client *ollama.Client) (ports.Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider)) {
	case EmbeddingOllama:
		if client == nil {
			return nil, fmt.Errorf("embedding provider %q needs an ollama client", cfg.EmbeddingProvider)
		}
		return ollama.NewEmbedder(client), nil
	case EmbeddingHashing:
		return hashing.New(cfg.HashingDimension, tokenizer), nil
	case EmbeddingNone, "":
		return nil, nil
	default:
		return nil, domain.InvalidInput("select embedder", "embedding_provider %q must be one of ollama, hashing, none", cfg.EmbeddingProvider)
	}
}

func buildCore(ctx context.Context, cfg config.Config, logger *slog.Logger, tokenizer ports.Tokenizer, deps coreDeps) (*Core, error) {
	lex, err := loadLexicon(cfg)
	if err != nil {
		return nil, err
	}
	kb, err := loadKnowledge(ctx, cfg, lex, logger)
	if err != nil {
		return nil, err
	}

	chunker := chunking.NewHierarchicalChunker(lex, chunking.Options{
		ParentTokens: cfg.ParentChunkTokens,
		ChildTokens:  cfg.ChildChunkTokens,
		ChildOverlap: cfg.ChunkOverlap,
		SpanPages:    cfg.ChunkSpanPages,
	})
	engine := usecase.NewEngine(chunker, deps.embedder, tokenizer, deps.store, deps.notifier, usecase.EngineOptions{
		Lexical:        lexical.Params{K1: cfg.BM25K1, B: cfg.BM25B},
		EmbedBatchSize: cfg.EmbedBatchSize,
		Logger:         logger,
	})

	searchOpts := usecase.DefaultSearchOptions()
	if cfg.RAGTopK > 0 {
		searchOpts.DefaultTopK = cfg.RAGTopK
	}
	if cfg.RAGMaxTopK > 0 {
		searchOpts.MaxTopK = cfg.RAGMaxTopK
	}
	if cfg.FusionBM25Weight > 0 || cfg.FusionSemanticWeight > 0 {
		searchOpts.Weights = domain.FusionWeights{BM25: cfg.FusionBM25Weight, Semantic: cfg.FusionSemanticWeight}
	}
	searchOpts.Logger = logger

	verifyOpts := usecase.DefaultVerifyOptions()
	if cfg.VerifyThreshold > 0 {
		verifyOpts.Threshold = cfg.VerifyThreshold
	}

	safetyOpts := usecase.DefaultSafetyOptions()
	for severity, penalty := range map[domain.Severity]float64{
		domain.SeverityCritical: cfg.SafetyPenaltyCritical,
		domain.SeverityHigh:     cfg.SafetyPenaltyHigh,
		domain.SeverityModerate: cfg.SafetyPenaltyModerate,
		domain.SeverityMinor:    cfg.SafetyPenaltyMinor,
	} {
		if penalty > 0 {
			safetyOpts.Penalties[severity] = penalty
		}
	}
	if cfg.SafetyDoseWindow > 0 {
		safetyOpts.DoseWindow = cfg.SafetyDoseWindow
	}

	return &Core{
		Lexicon: lex,
		Engine:  engine,
		Search:  usecase.NewSearchUseCase(engine, deps.embedder, tokenizer, deps.cache, searchOpts),
		Verify:  usecase.NewVerifyUseCase(engine, tokenizer, lex, verifyOpts),
		Safety:  usecase.NewSafetyUseCase(kb, lex, safetyOpts),
	}, nil
}

func defaultTokenizer() (ports.Tokenizer, error) {
	analyzer, err := textnorm.Default()
	if err != nil {
		return nil, fmt.Errorf("init text analyzer: %w", err)
	}
	return analyzer, nil
}
