package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Embedding provider validation
	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for the openai provider",
				ErrMissingAPIKey)
		}
	case ProviderAzure:
		if c.AzureAPIKey == "" {
			return fmt.Errorf("%w: AZURE_OPENAI_API_KEY environment variable is required for the azure provider",
				ErrMissingAPIKey)
		}
		if c.AzureEndpoint == "" {
			return fmt.Errorf("%w: azure_endpoint is required for the azure provider", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q is not valid, must be %q or %q",
			ErrInvalidProvider, c.EmbeddingProvider, ProviderOpenAI, ProviderAzure)
	}

	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidEmbeddingModel)
	}

	// Dimensions must match the pgvector column width from the migrations.
	// text-embedding-3 models support truncation, so anything in range works,
	// but changing it requires a schema change and re-embedding.
	if c.EmbeddingDimensions < 1 || c.EmbeddingDimensions > 3072 {
		return fmt.Errorf("%w: must be between 1 and 3072, got %d", ErrInvalidDimensions, c.EmbeddingDimensions)
	}
	if c.EmbeddingDimensions != DefaultEmbeddingDimensions {
		slog.Warn("embedding_dimensions differs from the stored vector width",
			"configured", c.EmbeddingDimensions,
			"stored", DefaultEmbeddingDimensions,
			"warning", "existing chunks must be re-embedded after a schema change")
	}

	// 2. Chunking validation
	if c.ChunkSize < 100 || c.ChunkSize > 8192 {
		return fmt.Errorf("%w: must be between 100 and 8192 tokens, got %d", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: must be between 0 and chunk_size-1, got %d", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}

	// 3. Retrieval validation
	if c.RAGTopK < 1 || c.RAGTopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.RAGTopK)
	}
	if c.RAGSimilarityThreshold < 0 || c.RAGSimilarityThreshold > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidThreshold, c.RAGSimilarityThreshold)
	}
	if !slices.Contains([]string{ImageModeOff, ImageModeOn, ImageModeAuto}, c.ImageMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: off, on, auto", ErrInvalidImageMode, c.ImageMode)
	}

	// 4. Rerank validation (only when enabled)
	if c.Rerank.Enabled {
		if c.Rerank.BaseURL == "" {
			return fmt.Errorf("%w: base_url is required when rerank is enabled", ErrInvalidRerank)
		}
		if c.Rerank.TopN < 1 {
			return fmt.Errorf("%w: top_n must be at least 1, got %d", ErrInvalidRerank, c.Rerank.TopN)
		}
		if c.Rerank.CandidateCap < c.Rerank.TopN {
			return fmt.Errorf("%w: candidate_cap (%d) must be at least top_n (%d)",
				ErrInvalidRerank, c.Rerank.CandidateCap, c.Rerank.TopN)
		}
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "korpus_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
