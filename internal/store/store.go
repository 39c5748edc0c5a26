package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// documentCols is the standard SELECT column list for scanDocuments.
const documentCols = `id, owner_id, chat_id, pool_id, filename, content_type,
	status, COALESCE(error_message, ''), chunk_count, created_at, updated_at`

// Store manages documents and chunks backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a document Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateDocument registers a document in status "processing" and returns the
// stored row. Chunks arrive later via ReplaceChunks.
func (s *Store) CreateDocument(ctx context.Context, nd NewDocument) (*Document, error) {
	if nd.OwnerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}
	if nd.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if nd.ChatID != nil && nd.PoolID != nil {
		return nil, fmt.Errorf("%w: chat and pool attachment are mutually exclusive", ErrInvalidScope)
	}

	rows, err := s.pool.Query(ctx,
		`INSERT INTO documents (owner_id, chat_id, pool_id, filename, content_type, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+documentCols,
		nd.OwnerID, nd.ChatID, nd.PoolID, nd.Filename, nd.ContentType, StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, fmt.Errorf("creating document: expected 1 row, got %d", len(docs))
	}
	return docs[0], nil
}

// GetDocument returns one document by ID. Returns ErrNotFound if absent.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+` FROM documents WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// ListDocuments returns all documents visible in the given scope, newest first.
func (s *Store) ListDocuments(ctx context.Context, sc Scope) ([]*Document, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	pred, args := sc.predicate(1)
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentCols+`
		 FROM documents d
		 WHERE `+pred+`
		 ORDER BY created_at DESC, id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return scanDocuments(rows)
}

// HasReadyDocuments reports whether the scope has at least one document in
// status "ready". Retrieval is skipped entirely when it does not.
func (s *Store) HasReadyDocuments(ctx context.Context, sc Scope) (bool, error) {
	if err := sc.Validate(); err != nil {
		return false, err
	}

	pred, args := sc.predicate(1)
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents d WHERE `+pred+` AND d.status = '`+StatusReady+`')`,
		args...,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking ready documents: %w", err)
	}
	return exists, nil
}

// MarkReady transitions a document to "ready" and records its chunk count.
func (s *Store) MarkReady(ctx context.Context, id uuid.UUID, chunkCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $2, chunk_count = $3, error_message = NULL, updated_at = now()
		 WHERE id = $1`,
		id, StatusReady, chunkCount,
	)
	if err != nil {
		return fmt.Errorf("marking document %s ready: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkError transitions a document to "error" with a message. The caller is
// responsible for truncating upstream error text before it gets here.
func (s *Store) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $2, error_message = $3, updated_at = now()
		 WHERE id = $1`,
		id, StatusError, message,
	)
	if err != nil {
		return fmt.Errorf("marking document %s errored: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetExtractedText stores the document's full extracted markdown. Kept out
// of the standard column set so listings don't haul full document bodies.
func (s *Store) SetExtractedText(ctx context.Context, id uuid.UUID, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET extracted_text = $2, updated_at = now() WHERE id = $1`,
		id, text,
	)
	if err != nil {
		return fmt.Errorf("storing extracted text for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExtractedText returns the document's stored markdown, used by re-chunking.
func (s *Store) GetExtractedText(ctx context.Context, id uuid.UUID) (string, error) {
	var text string
	err := s.pool.QueryRow(ctx,
		`SELECT extracted_text FROM documents WHERE id = $1`, id,
	).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading extracted text for %s: %w", id, err)
	}
	return text, nil
}

// DeleteDocument removes a document and (via ON DELETE CASCADE) its chunks
// and assets. Returns ErrNotFound if the document doesn't exist and
// ErrForbidden if it belongs to a different owner.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish not-found vs forbidden.
		var docOwner string
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT owner_id FROM documents WHERE id = $1`, id,
		).Scan(&docOwner)
		if errors.Is(lookupErr, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if lookupErr != nil {
			return fmt.Errorf("looking up document %s: %w", id, lookupErr)
		}
		return ErrForbidden
	}

	return nil
}

// ReplaceChunks atomically swaps a document's chunk set. Old chunks are
// deleted and the new set inserted in one transaction, so retrieval never
// observes a half-replaced document.
func (s *Store) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []NewChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO document_chunks (document_id, chunk_index, content, tokens, page, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			docID, c.Index, c.Content, c.Tokens, c.Page, pgvector.NewVector(c.Embedding),
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting %d chunks: %w", len(chunks), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk transaction: %w", err)
	}

	s.logger.Debug("replaced chunks", "document_id", docID, "chunks", len(chunks))
	return nil
}

// scanDocuments reads Document structs from pgx.Rows (standard column set).
func scanDocuments(rows pgx.Rows) ([]*Document, error) {
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		if err := rows.Scan(
			&d.ID, &d.OwnerID, &d.ChatID, &d.PoolID, &d.Filename, &d.ContentType,
			&d.Status, &d.ErrorMessage, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}
