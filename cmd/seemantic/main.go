// Command seemantic is the composition root: it constructs every
// component explicitly and wires them together, with no hidden global
// state.
//
// The graceful-shutdown shape (signal.NotifyContext, deferred component
// close) and the explicit New(...) construction style follow
// cmd/orchestrator/main.go and rag/service/service.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"seemantic/internal/api"
	"seemantic/internal/catalog"
	"seemantic/internal/changebus"
	"seemantic/internal/config"
	"seemantic/internal/embedder"
	"seemantic/internal/generator"
	"seemantic/internal/indexer"
	"seemantic/internal/observability"
	"seemantic/internal/sourceadapter"
	"seemantic/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("seemantic: fatal")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	otelEnabled := cfg.Obs.OTLPEndpoint != ""
	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel, otelEnabled, cfg.Obs.ServiceName)
	logger := log.Logger.With().Str("service", cfg.Obs.ServiceName).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if otelEnabled {
		shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
		if err != nil {
			return fmt.Errorf("init otel: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdownOTel(sctx); err != nil {
				logger.Warn().Err(err).Msg("otel shutdown failed")
			}
		}()
	}

	src, err := sourceadapter.NewS3Adapter(ctx, cfg.ObjectStore, logger)
	if err != nil {
		return fmt.Errorf("construct source adapter: %w", err)
	}

	cat, err := catalog.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("construct catalog: %w", err)
	}
	defer cat.Close()

	st, err := store.New(ctx, cat.Pool(), cfg.Qdrant, cfg.IndexerVersion, cfg.EmbeddingDimension, cfg.DistanceMetric)
	if err != nil {
		return fmt.Errorf("construct parsed+vector store: %w", err)
	}
	defer st.Close()

	emb := embedder.New(cfg.OpenAI, cfg.EmbeddingDimension, cfg.EmbedderMaxChars)
	gen := generator.New(cfg.OpenAI)
	bus := changebus.New(cat.Pool(), logger)

	ix := indexer.New(cfg, src, cat, st, emb, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := ix.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("indexer: %w", err)
			return
		}
		errCh <- nil
	}()

	srv := api.New(src, cat, st, emb, gen, bus, cfg, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("component failed, shutting down")
		}
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown failed")
	}
	return nil
}
