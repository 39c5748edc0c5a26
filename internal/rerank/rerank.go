// Package rerank optionally reorders retrieval candidates with an external
// cross-encoder. Reranking is a quality enhancement, never a correctness
// requirement: every failure path degrades to a deterministic ordering
// instead of an error.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/korpusai/korpus/internal/store"
)

// fallbackCap bounds the disabled-path result. Chunks go to the LLM in
// document order so it reads sequential context, and 15 chunks is plenty.
const fallbackCap = 15

const requestTimeout = 30 * time.Second

// Config parameterizes the reranker.
type Config struct {
	Enabled      bool
	BaseURL      string
	Model        string
	APIKey       string
	CandidateCap int
	TopN         int
}

// Reranker calls a Jina-compatible rerank endpoint.
type Reranker struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Reranker.
func New(cfg Config, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.CandidateCap < cfg.TopN {
		cfg.CandidateCap = cfg.TopN
	}
	return &Reranker{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

// Rerank returns a ranked subset of the candidates. When disabled (the
// default) candidates come back in document order, capped; when enabled they
// are reordered by the cross-encoder and cut to top-n. Upstream failures
// degrade to the first top-n candidates unreranked.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []store.Candidate) []store.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	if !r.cfg.Enabled {
		return documentOrder(candidates, fallbackCap)
	}
	if r.cfg.APIKey == "" {
		r.logger.Warn("rerank enabled but RERANK_API_KEY not set, skipping")
		return head(candidates, r.cfg.TopN)
	}

	pool := head(candidates, r.cfg.CandidateCap)
	ranked, err := r.call(ctx, query, pool)
	if err != nil {
		r.logger.Warn("rerank call failed, returning unreranked candidates", "error", err)
		return head(candidates, r.cfg.TopN)
	}
	return head(ranked, r.cfg.TopN)
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// call submits the candidate texts and maps the relevance-ordered response
// indices back to candidates, attaching the cross-encoder scores.
func (r *Reranker) call(ctx context.Context, query string, pool []store.Candidate) ([]store.Candidate, error) {
	docs := make([]string, len(pool))
	for i, c := range pool {
		docs[i] = c.Content
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     r.cfg.Model,
		Query:     query,
		Documents: docs,
		TopN:      r.cfg.TopN,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank API error %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make([]store.Candidate, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(pool) {
			return nil, fmt.Errorf("rerank response index %d out of range", res.Index)
		}
		c := pool[res.Index]
		c.Score = res.RelevanceScore
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rerank response contained no results")
	}
	return out, nil
}

// documentOrder sorts candidates by (document, chunk index) so the reader
// sees them in their original sequence, capped at limit.
func documentOrder(candidates []store.Candidate, limit int) []store.Candidate {
	out := make([]store.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return bytes.Compare(out[i].DocumentID[:], out[j].DocumentID[:]) < 0
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return head(out, limit)
}

func head(candidates []store.Candidate, n int) []store.Candidate {
	if len(candidates) <= n {
		return candidates
	}
	return candidates[:n]
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
