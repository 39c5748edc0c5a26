package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const openAIBaseURL = "https://api.openai.com/v1"

// OpenAI calls the OpenAI embeddings endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type embeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	base := o.baseURL
	if base == "" {
		base = openAIBaseURL
	}
	url := base + "/embeddings"

	vectors, usage, err := doEmbeddingRequest(ctx, o.client, o.limiter, embedCall{
		url:      url,
		provider: ProviderOpenAI,
		auth:     func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+o.apiKey) },
		body: embeddingRequest{
			Model:      o.model,
			Input:      texts,
			Dimensions: o.dimensions,
		},
	}, len(texts))
	if err != nil {
		return nil, err
	}

	o.logger.Debug("embedded batch",
		"provider", ProviderOpenAI,
		"model", o.model,
		"texts", len(texts),
		"tokens", usage)
	return vectors, nil
}

// embedCall bundles what varies between the OpenAI and Azure wire calls.
type embedCall struct {
	url      string
	provider string
	auth     func(*http.Request)
	body     embeddingRequest
}

func doEmbeddingRequest(ctx context.Context, client *http.Client, limiter *rate.Limiter, call embedCall, want int) ([][]float32, int, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(call.body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, call.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	call.auth(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, &ProviderError{
			Provider: call.provider,
			Status:   resp.StatusCode,
			Message:  truncateMessage(string(raw)),
		}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, 0, fmt.Errorf("embedding response has %d vectors, want %d", len(parsed.Data), want)
	}

	// The API documents in-order results but includes indices; honor them.
	vectors := make([][]float32, want)
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= want {
			return nil, 0, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, 0, fmt.Errorf("embedding response missing vector for input %d", i)
		}
	}
	return vectors, parsed.Usage.TotalTokens, nil
}
