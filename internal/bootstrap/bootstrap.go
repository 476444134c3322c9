package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/core/usecase"
	rediscache "github.com/kirillkom/medguide-rag/internal/infrastructure/cache/redis"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/medguide-rag/internal/infrastructure/storage/localfs"
)

type Options struct {
	Logger *slog.Logger
	// Observer receives retry and circuit breaker events from outbound calls.
	Observer resilience.Observer
}

// App is the server-side wiring shared by cmd/api and cmd/worker: Postgres
// registry and snapshot store, NATS events, local file storage, Ollama and an
// optional Redis search cache.
type App struct {
	Config config.Config
	Logger *slog.Logger

	*Core
	Queue   *nats.Queue
	Upload  *usecase.UploadGuidelineUseCase
	Process *usecase.ProcessGuidelineUseCase
	Answer  *usecase.AnswerUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*App, error) {
		closeAll()
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	closers = append(closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return fail(fmt.Errorf("ensure schema: %w", err))
	}
	guidelines := postgres.NewGuidelineRepository(db)
	snapshots := postgres.NewSnapshotRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	executor := newExecutor(cfg, logger, opts.Observer)
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, cfg.NATSSnapshotSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init message queue: %w", err))
	}
	closers = append(closers, queue.Close)

	var cache ports.SearchCache
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		client, err := rediscache.Connect(ctx, addr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(fmt.Errorf("init search cache: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		cache = rediscache.New(client, cfg.SearchCacheTTL)
	}

	tokenizer, err := defaultTokenizer()
	if err != nil {
		return fail(err)
	}
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	embedder, err := newEmbedder(cfg, tokenizer, ollamaClient)
	if err != nil {
		return fail(err)
	}

	core, err := buildCore(ctx, cfg, logger, tokenizer, coreDeps{
		store:    snapshots,
		notifier: queue,
		embedder: embedder,
		cache:    cache,
	})
	if err != nil {
		return fail(err)
	}

	pages := extractor.NewRouter(pdf.NewExtractor(storage), plaintext.NewExtractor(storage))
	generator := ollama.NewGenerator(ollamaClient)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Core:    core,
		Queue:   queue,
		Upload:  usecase.NewUploadGuidelineUseCase(guidelines, storage, queue),
		Process: usecase.NewProcessGuidelineUseCase(guidelines, pages, core.Engine, core.Engine),
		Answer:  usecase.NewAnswerUseCase(core.Search, generator, core.Verify, core.Safety),
		closeFn: closeAll,
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
