// Package store persists documents and their chunks in PostgreSQL with
// pgvector embeddings, and serves the vector and lexical halves of hybrid
// retrieval.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrForbidden indicates the document belongs to a different owner.
	ErrForbidden = errors.New("document belongs to another owner")

	// ErrInvalidScope indicates the retrieval scope is inconsistent.
	ErrInvalidScope = errors.New("invalid scope")
)

// Document lifecycle statuses. A document is only visible to retrieval once
// it reaches StatusReady.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// Document is an uploaded file tracked through ingestion.
type Document struct {
	ID           uuid.UUID
	OwnerID      string
	ChatID       *uuid.UUID
	PoolID       *uuid.UUID
	Filename     string
	ContentType  string
	Status       string
	ErrorMessage string
	ChunkCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDocument carries the fields needed to register a document for ingestion.
// At most one of ChatID and PoolID may be set; neither means the owner's
// global collection.
type NewDocument struct {
	OwnerID     string
	ChatID      *uuid.UUID
	PoolID      *uuid.UUID
	Filename    string
	ContentType string
}

// NewChunk is one chunk ready for persistence, produced by ingestion.
type NewChunk struct {
	Index     int
	Content   string
	Tokens    int
	Page      *int
	Embedding []float32
}

// Candidate is one retrieval hit from either search half. Score carries
// cosine similarity for vector hits and the ts_rank_cd value for lexical
// hits; the two are never compared directly, only fused by rank.
type Candidate struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Filename   string
	Content    string
	Page       *int
	Score      float64
}

// ImageAsset is a page image extracted from a document, retrievable when
// image context is requested.
type ImageAsset struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Filename   string
	Page       int
	Caption    string
	Path       string
	Score      float64
}

// Scope selects which documents a query may see. Exactly one of three
// shapes is valid:
//   - chat scope: ChatID set, documents attached to one conversation
//   - pool scope: PoolID set, documents in a shared collection
//   - global scope: neither set, the owner's unattached documents
type Scope struct {
	OwnerID string
	ChatID  *uuid.UUID
	PoolID  *uuid.UUID
}

// Validate checks the scope shape.
func (sc Scope) Validate() error {
	if sc.ChatID != nil && sc.PoolID != nil {
		return fmt.Errorf("%w: chat and pool scope are mutually exclusive", ErrInvalidScope)
	}
	if sc.ChatID == nil && sc.PoolID == nil && sc.OwnerID == "" {
		return fmt.Errorf("%w: global scope requires an owner", ErrInvalidScope)
	}
	return nil
}

// predicate returns the SQL condition restricting documents to this scope,
// with placeholders starting at $start, and the matching arguments.
func (sc Scope) predicate(start int) (string, []any) {
	switch {
	case sc.ChatID != nil:
		return fmt.Sprintf("d.chat_id = $%d", start), []any{*sc.ChatID}
	case sc.PoolID != nil:
		return fmt.Sprintf("d.pool_id = $%d", start), []any{*sc.PoolID}
	default:
		return fmt.Sprintf("d.owner_id = $%d AND d.chat_id IS NULL AND d.pool_id IS NULL", start),
			[]any{sc.OwnerID}
	}
}
