package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/storage/localfs"
)

// Local is the single-process wiring used by medguidectl: a SQLite snapshot
// file and no registry, queue or cache.
type Local struct {
	Config config.Config
	Logger *slog.Logger

	*Core
	Store *sqlite.Store
}

// NewLocal opens the SQLite file and restores the snapshot persisted in it.
func NewLocal(ctx context.Context, cfg config.Config, opts Options) (*Local, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := strings.TrimSpace(cfg.SQLitePath)
	if dir := filepath.Dir(path); path != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	tokenizer, err := defaultTokenizer()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var client *ollama.Client
	if strings.EqualFold(strings.TrimSpace(cfg.EmbeddingProvider), EmbeddingOllama) {
		client = ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, newExecutor(cfg, logger, opts.Observer))
	}
	embedder, err := newEmbedder(cfg, tokenizer, client)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	core, err := buildCore(ctx, cfg, logger, tokenizer, coreDeps{store: store, embedder: embedder})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := core.Engine.Restore(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("restore snapshot from %s: %w", store.Path(), err)
	}

	return &Local{Config: cfg, Logger: logger, Core: core, Store: store}, nil
}

func (l *Local) Close() {
	_ = l.Store.Close()
}

// ReadDocument extracts pages from a PDF or text file on disk. The document id
// defaults to the file name without its extension.
func ReadDocument(ctx context.Context, path, id string, metadata map[string]string) (domain.DocumentInput, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.DocumentInput{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	storage, err := localfs.New(filepath.Dir(abs))
	if err != nil {
		return domain.DocumentInput{}, fmt.Errorf("open %s: %w", filepath.Dir(abs), err)
	}
	var pages ports.PageExtractor = extractor.NewRouter(pdf.NewExtractor(storage), plaintext.NewExtractor(storage))

	name := filepath.Base(abs)
	extracted, err := pages.ExtractPages(ctx, &domain.Guideline{ID: id, Filename: name, StoragePath: name})
	if err != nil {
		return domain.DocumentInput{}, err
	}
	if strings.TrimSpace(id) == "" {
		id = documentIDFromFilename(name)
	}
	return domain.DocumentInput{ID: id, Pages: extracted, Metadata: metadata}, nil
}

func documentIDFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r == ':' || r == ' ' || r == '\t' || r == '\n':
			b.WriteByte('-')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
