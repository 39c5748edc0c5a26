package embed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

const defaultAzureAPIVersion = "2024-02-01"

// Azure calls an Azure OpenAI embeddings deployment. The deployment name
// stands in for the model; the model field is omitted from the payload
// because the route already selects it.
type Azure struct {
	endpoint   string
	apiVersion string
	apiKey     string
	deployment string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func (a *Azure) Name() string { return ProviderAzure }

func (a *Azure) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	version := a.apiVersion
	if version == "" {
		version = defaultAzureAPIVersion
	}
	endpoint := strings.TrimRight(a.endpoint, "/")
	callURL := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		endpoint, url.PathEscape(a.deployment), url.QueryEscape(version))

	vectors, usage, err := doEmbeddingRequest(ctx, a.client, a.limiter, embedCall{
		url:      callURL,
		provider: ProviderAzure,
		auth:     func(req *http.Request) { req.Header.Set("api-key", a.apiKey) },
		body: embeddingRequest{
			Input:      texts,
			Dimensions: a.dimensions,
		},
	}, len(texts))
	if err != nil {
		return nil, err
	}

	a.logger.Debug("embedded batch",
		"provider", ProviderAzure,
		"deployment", a.deployment,
		"texts", len(texts),
		"tokens", usage)
	return vectors, nil
}
