// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.korpus/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Embedding: provider selection (OpenAI or Azure), model, dimensions
//   - Retrieval: chunking and hybrid search tuning
//   - Rerank: optional cross-encoder reranking stage
//   - Storage: PostgreSQL connection (see storage.go)
//   - Observability: OTLP tracing (see otlp settings below)
//
// Security: API keys and passwords are never logged; MarshalJSON masks them.
// Validation: range checks in validation.go with sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid embedding provider")

	// ErrInvalidEmbeddingModel indicates the embedding model is invalid.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidDimensions indicates the embedding dimensionality is out of range.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkOverlap indicates the chunk overlap is out of range.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidImageMode indicates the image retrieval mode is not recognized.
	ErrInvalidImageMode = errors.New("invalid image mode")

	// ErrInvalidRerank indicates the rerank settings are inconsistent.
	ErrInvalidRerank = errors.New("invalid rerank configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Embedding provider identifiers used in Config.EmbeddingProvider.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// Image retrieval modes used in Config.ImageMode.
const (
	ImageModeOff  = "off"
	ImageModeOn   = "on"
	ImageModeAuto = "auto"
)

const (
	// DefaultEmbeddingModel pairs with DefaultEmbeddingDimensions; the
	// pgvector column width must match, see the initial migration.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimensions is the vector width stored in pgvector.
	DefaultEmbeddingDimensions = 1536

	// DefaultChunkSize is the chunk token budget, breadcrumb included.
	DefaultChunkSize = 1500

	// DefaultChunkOverlap is the token overlap between adjacent chunks of
	// one oversized section.
	DefaultChunkOverlap = 200
)

// RerankConfig configures the optional cross-encoder reranking stage.
type RerankConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	BaseURL      string `mapstructure:"base_url" json:"base_url"`
	Model        string `mapstructure:"model" json:"model"`
	APIKey       string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	CandidateCap int    `mapstructure:"candidate_cap" json:"candidate_cap"`
	TopN         int    `mapstructure:"top_n" json:"top_n"`
}

// MarshalJSON masks the rerank API key.
func (r RerankConfig) MarshalJSON() ([]byte, error) {
	type alias RerankConfig
	a := alias(r)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank config: %w", err)
	}
	return data, nil
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Embedding provider configuration
	EmbeddingProvider   string `mapstructure:"embedding_provider" json:"embedding_provider"` // "openai" (default) or "azure"
	EmbeddingModel      string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDimensions int    `mapstructure:"embedding_dimensions" json:"embedding_dimensions"`
	OpenAIAPIKey        string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON

	// Azure OpenAI routing (only used when embedding_provider is "azure")
	AzureEndpoint   string `mapstructure:"azure_endpoint" json:"azure_endpoint"`
	AzureAPIVersion string `mapstructure:"azure_api_version" json:"azure_api_version"`
	AzureAPIKey     string `mapstructure:"azure_api_key" json:"azure_api_key"` // SENSITIVE: masked in MarshalJSON

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	RAGTopK                int     `mapstructure:"rag_top_k" json:"rag_top_k"`
	RAGSimilarityThreshold float64 `mapstructure:"rag_similarity_threshold" json:"rag_similarity_threshold"`
	ImageMode              string  `mapstructure:"image_mode" json:"image_mode"` // "off", "on", "auto"

	// Rerank configuration
	Rerank RerankConfig `mapstructure:"rerank" json:"rerank"`

	// OCR configuration (PDF extraction)
	MistralAPIKey string `mapstructure:"mistral_api_key" json:"mistral_api_key"` // SENSITIVE: masked in MarshalJSON

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".korpus")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast on invalid values before anything connects or embeds.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Embedding defaults
	viper.SetDefault("embedding_provider", ProviderOpenAI)
	viper.SetDefault("embedding_model", DefaultEmbeddingModel)
	viper.SetDefault("embedding_dimensions", DefaultEmbeddingDimensions)
	viper.SetDefault("azure_api_version", "2024-02-01")

	// Chunking defaults
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	// Retrieval defaults
	viper.SetDefault("rag_top_k", 5)
	viper.SetDefault("rag_similarity_threshold", 0.3)
	viper.SetDefault("image_mode", ImageModeAuto)

	// Rerank defaults (disabled until a base URL and key are configured)
	viper.SetDefault("rerank.enabled", false)
	viper.SetDefault("rerank.base_url", "https://api.jina.ai/v1")
	viper.SetDefault("rerank.model", "jina-reranker-v2-base-multilingual")
	viper.SetDefault("rerank.candidate_cap", 30)
	viper.SetDefault("rerank.top_n", 5)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "korpus")
	viper.SetDefault("postgres_password", "korpus_dev_password")
	viper.SetDefault("postgres_db_name", "korpus")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Observability defaults
	viper.SetDefault("otlp_endpoint", "localhost:4318")
	viper.SetDefault("service_name", "korpus")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds sensitive environment variables explicitly.
// Secrets come from the environment, never from the config file:
//   - OPENAI_API_KEY       embedding via OpenAI
//   - AZURE_OPENAI_API_KEY embedding via Azure OpenAI
//   - RERANK_API_KEY       cross-encoder reranking
//   - MISTRAL_API_KEY      PDF OCR extraction
//
// DATABASE_URL is handled separately in parseDatabaseURL.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("azure_api_key", "AZURE_OPENAI_API_KEY")
	mustBind("azure_endpoint", "AZURE_OPENAI_ENDPOINT")
	mustBind("rerank.api_key", "RERANK_API_KEY")
	mustBind("mistral_api_key", "MISTRAL_API_KEY")

	// Non-secret runtime overrides
	mustBind("embedding_provider", "KORPUS_EMBEDDING_PROVIDER")
	mustBind("embedding_model", "KORPUS_EMBEDDING_MODEL")
	mustBind("image_mode", "KORPUS_IMAGE_MODE")
	mustBind("otlp_endpoint", "KORPUS_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// against secrets containing ASCII placeholder characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - OpenAIAPIKey
//   - AzureAPIKey
//   - MistralAPIKey
//   - PostgresPassword
//   - Rerank.APIKey (via RerankConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.AzureAPIKey = maskSecret(a.AzureAPIKey)
	a.MistralAPIKey = maskSecret(a.MistralAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// EmbeddingAPIKey returns the API key for the selected embedding provider.
func (c *Config) EmbeddingAPIKey() string {
	if c.EmbeddingProvider == ProviderAzure {
		return c.AzureAPIKey
	}
	return c.OpenAIAPIKey
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
