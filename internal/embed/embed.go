// Package embed provides the embedding-provider boundary: turning batches of
// text into dense vectors via an external API.
//
// Provider selection happens once per configuration, not per call. Both
// implementations share the same wire shape (OpenAI embeddings API); Azure
// differs only in routing and authentication.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Provider identifiers accepted in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// ErrNoCredential indicates that no API key is configured for the selected
// provider. Ingestion fails fast on this; it is a configuration error, not a
// transient one.
var ErrNoCredential = errors.New("no embedding API credential configured")

// maxUpstreamMessage bounds upstream error bodies before they are wrapped
// and eventually persisted to a document's error_message.
const maxUpstreamMessage = 300

// defaultTimeout applies to one embedding batch request.
const defaultTimeout = 60 * time.Second

// defaultRequestsPerSecond is the client-side rate limit toward the
// embedding API, shared across all calls on one Provider.
const defaultRequestsPerSecond = 5

// ProviderError carries a non-2xx response from the upstream embedding or
// rerank API.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Message)
}

// Provider generates embeddings for batches of text. Implementations are
// safe for concurrent use.
type Provider interface {
	// Embed returns one vector per input text, in input order. The call is
	// a single batched request; partial results are never returned.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider for logging and usage accounting.
	Name() string
}

// Config selects and parameterizes a Provider.
type Config struct {
	Provider   string // "openai" (default) or "azure"
	APIKey     string
	Model      string // e.g. "text-embedding-3-small"
	Dimensions int    // output dimensionality, 0 = provider default

	// BaseURL overrides the OpenAI API base, mainly for tests.
	BaseURL string

	// Azure routing, required when Provider is "azure".
	AzureEndpoint   string
	AzureAPIVersion string
}

// New creates the Provider selected by cfg. Returns ErrNoCredential when the
// API key is missing.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q: %w", cfg.Provider, ErrNoCredential)
	}

	client := &http.Client{Timeout: defaultTimeout}
	limiter := rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), 1)

	switch cfg.Provider {
	case ProviderAzure:
		if cfg.AzureEndpoint == "" {
			return nil, fmt.Errorf("azure provider requires an endpoint: %w", ErrNoCredential)
		}
		return &Azure{
			endpoint:   cfg.AzureEndpoint,
			apiVersion: cfg.AzureAPIVersion,
			apiKey:     cfg.APIKey,
			deployment: cfg.Model,
			dimensions: cfg.Dimensions,
			client:     client,
			limiter:    limiter,
			logger:     logger,
		}, nil
	case ProviderOpenAI, "":
		return &OpenAI{
			baseURL:    cfg.BaseURL,
			apiKey:     cfg.APIKey,
			model:      cfg.Model,
			dimensions: cfg.Dimensions,
			client:     client,
			limiter:    limiter,
			logger:     logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// truncateMessage bounds an upstream response body for error reporting.
func truncateMessage(s string) string {
	if len(s) > maxUpstreamMessage {
		return s[:maxUpstreamMessage]
	}
	return s
}
