package ingest

import (
	"context"
	"fmt"

	"github.com/korpusai/korpus/internal/store"
)

// Progress is called after each document during a bulk re-chunk.
type Progress func(done, total int)

// RechunkResult summarizes a bulk re-chunk run.
type RechunkResult struct {
	Processed int // re-chunked and marked ready
	Failed    int // errored, document marked accordingly, run continued
	Skipped   int // no stored text to re-chunk from
}

// RechunkAll re-runs chunking and embedding for every document in scope,
// typically after a chunk_size or chunk_overlap change. Failures are
// isolated per document: one broken document never aborts the run. The
// returned error covers only the inability to enumerate documents.
func (p *Processor) RechunkAll(ctx context.Context, sc store.Scope, progress Progress) (RechunkResult, error) {
	docs, err := p.docs.ListDocuments(ctx, sc)
	if err != nil {
		return RechunkResult{}, fmt.Errorf("listing documents: %w", err)
	}

	var result RechunkResult
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		text, err := p.docs.GetExtractedText(ctx, doc.ID)
		if err != nil {
			p.logger.Warn("skipping document, cannot load text", "document_id", doc.ID, "error", err)
			result.Failed++
		} else if text == "" {
			p.logger.Debug("skipping document without stored text", "document_id", doc.ID)
			result.Skipped++
		} else if _, _, err := p.ProcessDocument(ctx, doc.ID, text); err != nil {
			p.logger.Warn("re-chunking failed", "document_id", doc.ID, "error", err)
			result.Failed++
		} else {
			result.Processed++
		}

		if progress != nil {
			progress(i+1, len(docs))
		}
	}

	p.logger.Info("re-chunk run complete",
		"processed", result.Processed,
		"failed", result.Failed,
		"skipped", result.Skipped)
	return result, nil
}
