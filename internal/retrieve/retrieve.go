// Package retrieve implements hybrid chunk retrieval: parallel vector and
// lexical search fused by reciprocal rank, with adaptive fallback plans per
// scope and query intent.
package retrieve

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/korpusai/korpus/internal/store"
)

var tracer = otel.Tracer("github.com/korpusai/korpus/internal/retrieve")

// rrfK dampens rank differences in reciprocal rank fusion. 60 is the value
// from the original RRF paper and works well without tuning.
const rrfK = 60

// conversationTopK is the single-pass width for conversation scope, where
// every attached document is a-priori relevant and precision is deferred to
// reranking.
const conversationTopK = 50

// Searcher provides the two search halves. *store.Store satisfies this.
type Searcher interface {
	VectorSearch(ctx context.Context, sc store.Scope, vec []float32, topK int, threshold float64) ([]store.Candidate, error)
	LexicalSearch(ctx context.Context, sc store.Scope, query string, topK int) ([]store.Candidate, error)
}

// Embedder turns the query into a vector. *embed.OpenAI and *embed.Azure
// satisfy this.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Plan is one retrieval pass: how many chunks to ask for and the minimum
// cosine similarity to accept.
type Plan struct {
	TopK      int
	Threshold float64
}

// Options tunes the retriever from configuration.
type Options struct {
	TopK      int     // base top-k for fact intent
	Threshold float64 // base similarity threshold
}

// Retriever runs adaptive hybrid retrieval over a Searcher.
type Retriever struct {
	search Searcher
	embed  Embedder
	opts   Options
	logger *slog.Logger
}

// New creates a Retriever.
func New(search Searcher, embedder Embedder, opts Options, logger *slog.Logger) (*Retriever, error) {
	if search == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{search: search, embed: embedder, opts: opts, logger: logger}, nil
}

// plans selects the pass sequence for a scope and intent.
//
// Conversation scope gets one wide pass. Pool and global scope get a strict
// pass with a looser fallback for fact queries, and a loose-to-unbounded pair
// for summary queries.
func plans(sc store.Scope, intent Intent, opts Options) []Plan {
	if sc.ChatID != nil {
		return []Plan{{TopK: conversationTopK, Threshold: 0}}
	}

	if intent == IntentSummary {
		return []Plan{
			{TopK: max(8, opts.TopK), Threshold: 0.7 * opts.Threshold},
			{TopK: max(12, opts.TopK), Threshold: 0},
		}
	}

	return []Plan{
		{TopK: opts.TopK, Threshold: opts.Threshold},
		{TopK: opts.TopK + 3, Threshold: 0.6 * opts.Threshold},
	}
}

// Retrieve returns ranked candidate chunks for the query, or an empty slice
// when nothing in scope is relevant. An empty result is a normal outcome,
// not an error.
func (r *Retriever) Retrieve(ctx context.Context, sc store.Scope, query string, intent Intent) ([]store.Candidate, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "korpus.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("retrieval.intent", string(intent)))

	vecs, err := r.embed.Embed(ctx, []string{query})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vecs))
	}
	queryVec := vecs[0]

	for i, plan := range plans(sc, intent, r.opts) {
		hits, err := r.runPlan(ctx, sc, query, queryVec, plan)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if len(hits) > 0 {
			span.SetAttributes(
				attribute.Int("retrieval.pass", i+1),
				attribute.Int("retrieval.top_k", plan.TopK),
				attribute.Float64("retrieval.threshold", plan.Threshold),
				attribute.Int("retrieval.hits", len(hits)),
			)
			r.logger.Debug("retrieval plan succeeded",
				"pass", i+1,
				"top_k", plan.TopK,
				"threshold", plan.Threshold,
				"hits", len(hits))
			return hits, nil
		}
	}

	span.SetAttributes(attribute.Int("retrieval.hits", 0))
	r.logger.Debug("no relevant chunks found", "intent", intent)
	return nil, nil
}

// runPlan executes one pass: vector and lexical search in parallel, fused by
// reciprocal rank. A lexical failure degrades to vector-only.
func (r *Retriever) runPlan(ctx context.Context, sc store.Scope, query string, queryVec []float32, plan Plan) ([]store.Candidate, error) {
	var (
		wg          sync.WaitGroup
		vectorHits  []store.Candidate
		lexicalHits []store.Candidate
		vectorErr   error
		lexicalErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = r.search.VectorSearch(ctx, sc, queryVec, plan.TopK, plan.Threshold)
	}()
	go func() {
		defer wg.Done()
		lexicalHits, lexicalErr = r.search.LexicalSearch(ctx, sc, query, plan.TopK)
	}()
	wg.Wait()

	if vectorErr != nil {
		return nil, fmt.Errorf("vector search: %w", vectorErr)
	}
	if lexicalErr != nil {
		r.logger.Warn("lexical search failed, using vector results only", "error", lexicalErr)
		return vectorHits, nil
	}
	if len(lexicalHits) == 0 {
		return vectorHits, nil
	}

	return fuse(vectorHits, lexicalHits), nil
}

// fuse merges ranked lists by Reciprocal Rank Fusion:
//
//	score(chunk) = Σ over lists containing it of 1/(rrfK + rank + 1)
//
// No score normalization is needed because only ranks enter the formula.
// The candidate payload is taken from the first list that saw the chunk, so
// cosine similarity survives fusion for display purposes.
func fuse(lists ...[]store.Candidate) []store.Candidate {
	type fused struct {
		candidate store.Candidate
		score     float64
	}

	byChunk := make(map[[16]byte]*fused)
	var order [][16]byte

	for _, list := range lists {
		for rank, c := range list {
			key := [16]byte(c.ChunkID)
			entry, ok := byChunk[key]
			if !ok {
				entry = &fused{candidate: c}
				byChunk[key] = entry
				order = append(order, key)
			}
			entry.score += 1.0 / float64(rrfK+rank+1)
		}
	}

	out := make([]store.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, byChunk[key].candidate)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := byChunk[[16]byte(out[i].ChunkID)], byChunk[[16]byte(out[j].ChunkID)]
		if a.score != b.score {
			return a.score > b.score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return bytes.Compare(out[i].DocumentID[:], out[j].DocumentID[:]) < 0
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}
