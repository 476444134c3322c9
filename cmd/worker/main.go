package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/medguide-rag/internal/bootstrap"
	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/observability/logging"
	"github.com/kirillkom/medguide-rag/internal/observability/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, Observer: workerMetrics})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeGuidelineUploaded(ctx, func(handlerCtx context.Context, guidelineID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.WorkerProcessTimeout)
		defer cancel()

		if g, err := app.Upload.GetByID(processCtx, guidelineID); err == nil {
			workerMetrics.ObserveQueueLag(time.Since(g.CreatedAt))
		}

		start := time.Now()
		workerMetrics.StartGuideline()
		err := app.Process.ProcessByID(processCtx, guidelineID)
		chunks := 0
		if entry, ok := manifestEntry(app, guidelineID); ok {
			chunks = entry.ParentCount + entry.ChildCount
		}
		workerMetrics.FinishGuideline(time.Since(start), chunks, err)

		if err != nil {
			logger.Error("guideline_process_failed", "guideline_id", guidelineID, "error", err)
			return err
		}
		logger.Info("guideline_processed", "guideline_id", guidelineID, "chunks", chunks,
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker subscribe: %w", err)
	}
	return nil
}

func manifestEntry(app *bootstrap.App, guidelineID string) (domain.ManifestEntry, bool) {
	snap := app.Engine.Current()
	if snap == nil {
		return domain.ManifestEntry{}, false
	}
	return snap.ManifestEntry(guidelineID)
}
