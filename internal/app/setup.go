package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/korpusai/korpus/db"
	"github.com/korpusai/korpus/internal/chunk"
	"github.com/korpusai/korpus/internal/config"
	"github.com/korpusai/korpus/internal/embed"
	"github.com/korpusai/korpus/internal/extract"
	"github.com/korpusai/korpus/internal/ingest"
	"github.com/korpusai/korpus/internal/observability"
	"github.com/korpusai/korpus/internal/rerank"
	"github.com/korpusai/korpus/internal/retrieve"
	"github.com/korpusai/korpus/internal/store"
	"github.com/korpusai/korpus/internal/token"
)

// Connection pool settings.
const (
	poolMaxConns        = 10
	poolMinConns        = 2
	poolMaxConnLifetime = 30 * time.Minute
	poolMaxConnIdleTime = 5 * time.Minute
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelCleanup = wrapShutdown(otelShutdown, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.Store, err = store.New(pool, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}

	a.Embedder, err = embed.New(embed.Config{
		Provider:        cfg.EmbeddingProvider,
		APIKey:          cfg.EmbeddingAPIKey(),
		Model:           cfg.EmbeddingModel,
		Dimensions:      cfg.EmbeddingDimensions,
		AzureEndpoint:   cfg.AzureEndpoint,
		AzureAPIVersion: cfg.AzureAPIVersion,
	}, logger.With("component", "embed"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	chunker := chunk.New(token.Default())

	a.Retriever, err = retrieve.New(a.Store, a.Embedder, retrieve.Options{
		TopK:      cfg.RAGTopK,
		Threshold: cfg.RAGSimilarityThreshold,
	}, logger.With("component", "retrieve"))
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	a.Reranker = rerank.New(rerank.Config{
		Enabled:      cfg.Rerank.Enabled,
		BaseURL:      cfg.Rerank.BaseURL,
		Model:        cfg.Rerank.Model,
		APIKey:       cfg.Rerank.APIKey,
		CandidateCap: cfg.Rerank.CandidateCap,
		TopN:         cfg.Rerank.TopN,
	}, logger.With("component", "rerank"))

	a.Processor, err = ingest.NewProcessor(a.Store, chunker, a.Embedder, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	}, logger.With("component", "ingest"))
	if err != nil {
		return nil, fmt.Errorf("creating ingest processor: %w", err)
	}

	a.Extractor = extract.New(provideOCR(cfg, logger), logger.With("component", "extract"))

	return a, nil
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = poolMaxConns
	poolCfg.MinConns = poolMinConns
	poolCfg.MaxConnLifetime = poolMaxConnLifetime
	poolCfg.MaxConnIdleTime = poolMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideOCR builds the PDF OCR client when a credential is configured.
// Without one, PDF ingestion reports extract.ErrNoOCR and text formats
// still work.
func provideOCR(cfg *config.Config, logger *slog.Logger) extract.OCR {
	ocr, err := extract.NewMistralOCR(cfg.MistralAPIKey, logger.With("component", "ocr"))
	if err != nil {
		if !errors.Is(err, extract.ErrNoOCRCredential) {
			logger.Warn("OCR client unavailable", "error", err)
		}
		return nil
	}
	return ocr
}
