// Package app wires the application components together.
//
// Setup builds the full dependency graph from configuration; commands hold
// an *App and call Close when done. Construction order matters: tracing
// first, then storage, then the services layered on top.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korpusai/korpus/internal/config"
	"github.com/korpusai/korpus/internal/embed"
	"github.com/korpusai/korpus/internal/extract"
	"github.com/korpusai/korpus/internal/ingest"
	"github.com/korpusai/korpus/internal/rerank"
	"github.com/korpusai/korpus/internal/retrieve"
	"github.com/korpusai/korpus/internal/store"
)

// App holds the initialized application components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DBPool    *pgxpool.Pool
	Store     *store.Store
	Embedder  embed.Provider
	Retriever *retrieve.Retriever
	Reranker  *rerank.Reranker
	Processor *ingest.Processor
	Extractor *extract.Service

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}

const shutdownFlushTimeout = 5 * time.Second

func wrapShutdown(shutdown func(context.Context) error, logger *slog.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
