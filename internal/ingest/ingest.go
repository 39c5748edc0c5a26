// Package ingest drives the document pipeline: extracted markdown goes
// through chunking and embedding into the store, and the document's
// lifecycle status tracks the outcome.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/korpusai/korpus/internal/chunk"
	"github.com/korpusai/korpus/internal/store"
)

var tracer = otel.Tracer("github.com/korpusai/korpus/internal/ingest")

// embedBatchSize bounds one embedding API request. Large documents go in
// several batches rather than one oversized payload.
const embedBatchSize = 64

// maxErrorMessage bounds the error text persisted to a document before it
// is shown to users.
const maxErrorMessage = 300

// DocumentStore is the persistence surface the pipeline needs. *store.Store
// satisfies this.
type DocumentStore interface {
	ListDocuments(ctx context.Context, sc store.Scope) ([]*store.Document, error)
	GetExtractedText(ctx context.Context, id uuid.UUID) (string, error)
	SetExtractedText(ctx context.Context, id uuid.UUID, text string) error
	ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []store.NewChunk) error
	MarkReady(ctx context.Context, id uuid.UUID, chunkCount int) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
}

// Chunker splits markdown into sized chunks. *chunk.Chunker satisfies this.
type Chunker interface {
	Chunk(text string, chunkSize, overlapTokens int) []chunk.Chunk
}

// Embedder vectorizes chunk batches. The embed package providers satisfy
// this.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes the pipeline from configuration.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// Processor runs documents through chunk → embed → persist.
type Processor struct {
	docs    DocumentStore
	chunker Chunker
	embed   Embedder
	opts    Options
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(docs DocumentStore, chunker Chunker, embedder Embedder, opts Options, logger *slog.Logger) (*Processor, error) {
	if docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{docs: docs, chunker: chunker, embed: embedder, opts: opts, logger: logger}, nil
}

// ProcessDocument chunks and embeds text for an already-registered document,
// replaces its chunk set, and transitions it to "ready". Returns the chunk
// count and total token count.
//
// Text that produces zero chunks marks the document "error" with
// "no text extracted" and returns (0, 0, nil): an empty scan is a routine
// outcome, not a pipeline failure. Embedding failures mark the document
// "error" with the truncated upstream message and return the error.
func (p *Processor) ProcessDocument(ctx context.Context, docID uuid.UUID, text string) (int, int, error) {
	ctx, span := tracer.Start(ctx, "korpus.process_document")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", docID.String()))

	if err := p.docs.SetExtractedText(ctx, docID, text); err != nil {
		span.RecordError(err)
		return 0, 0, fmt.Errorf("storing text: %w", err)
	}

	chunks := p.chunker.Chunk(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if len(chunks) == 0 {
		if err := p.docs.MarkError(ctx, docID, "no text extracted"); err != nil {
			return 0, 0, fmt.Errorf("marking empty document: %w", err)
		}
		span.SetAttributes(attribute.Int("document.chunks", 0))
		p.logger.Warn("document produced no chunks", "document_id", docID)
		return 0, 0, nil
	}

	vectors, err := p.embedAll(ctx, chunks)
	if err != nil {
		span.RecordError(err)
		if markErr := p.docs.MarkError(ctx, docID, TruncateError(err)); markErr != nil {
			p.logger.Error("failed to record embedding error", "document_id", docID, "error", markErr)
		}
		return 0, 0, fmt.Errorf("embedding chunks: %w", err)
	}

	newChunks := make([]store.NewChunk, len(chunks))
	totalTokens := 0
	for i, c := range chunks {
		newChunks[i] = store.NewChunk{
			Index:     i,
			Content:   c.Text,
			Tokens:    c.Tokens,
			Page:      c.Page,
			Embedding: vectors[i],
		}
		totalTokens += c.Tokens
	}

	if err := p.docs.ReplaceChunks(ctx, docID, newChunks); err != nil {
		span.RecordError(err)
		if markErr := p.docs.MarkError(ctx, docID, TruncateError(err)); markErr != nil {
			p.logger.Error("failed to record storage error", "document_id", docID, "error", markErr)
		}
		return 0, 0, fmt.Errorf("storing chunks: %w", err)
	}

	if err := p.docs.MarkReady(ctx, docID, len(chunks)); err != nil {
		return 0, 0, fmt.Errorf("marking document ready: %w", err)
	}

	span.SetAttributes(
		attribute.Int("document.chunks", len(chunks)),
		attribute.Int("document.tokens", totalTokens),
	)
	p.logger.Info("document processed",
		"document_id", docID,
		"chunks", len(chunks),
		"tokens", totalTokens)
	return len(chunks), totalTokens, nil
}

// embedAll vectorizes chunk texts in bounded batches, preserving order.
func (p *Processor) embedAll(ctx context.Context, chunks []chunk.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := p.embed.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// TruncateError bounds an error message before it is persisted to a
// document's error_message. Shared by every call site that feeds
// store.MarkError, upstream APIs can return arbitrarily large bodies.
func TruncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		return msg[:maxErrorMessage]
	}
	return msg
}
