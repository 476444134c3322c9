package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/medguide-rag/internal/adapters/http"
	"github.com/kirillkom/medguide-rag/internal/bootstrap"
	"github.com/kirillkom/medguide-rag/internal/config"
	"github.com/kirillkom/medguide-rag/internal/observability/logging"
	"github.com/kirillkom/medguide-rag/internal/observability/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, Observer: httpMetrics})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if err := app.Engine.Restore(ctx); err != nil {
		// Serve anyway; searches report no_snapshot until a restore succeeds.
		logger.Error("snapshot_restore_failed", "error", err)
	}
	httpMetrics.SetSnapshot(app.Engine.Status())

	// Workers persist rebuilds and announce them; every API replica reloads.
	go func() {
		err := app.Queue.SubscribeSnapshotUpdated(ctx, func(handlerCtx context.Context, generation uint64) error {
			if err := app.Engine.Restore(handlerCtx); err != nil {
				logger.Error("snapshot_reload_failed", "announced_generation", generation, "error", err)
				return err
			}
			httpMetrics.SetSnapshot(app.Engine.Status())
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("snapshot_subscription_failed", "error", err)
		}
	}()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingestor:  app.Engine,
		Searcher:  app.Search,
		Verifier:  app.Verify,
		Safety:    app.Safety,
		Answerer:  app.Answer,
		Inspector: app.Engine,
		Uploader:  app.Upload,
		Reader:    app.Upload,
		Observer:  httpMetrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		return fmt.Errorf("listen on :%s: %w", cfg.APIPort, err)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listening", "addr", listener.Addr().String(), "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	return nil
}
