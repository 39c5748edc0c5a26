package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// MaxSearchQueryLen bounds lexical query text before it reaches tsquery
// parsing.
const MaxSearchQueryLen = 1000

// candidateCols is the chunk hit column list shared by both search halves;
// the score expression is appended per query.
const candidateCols = `c.id, c.document_id, c.chunk_index, d.filename, c.content, c.page`

// undefinedTable is the PostgreSQL error code for a missing relation.
const undefinedTable = "42P01"

// VectorSearch returns up to topK ready chunks in scope whose cosine
// similarity to vec meets threshold, ordered by similarity descending.
func (s *Store) VectorSearch(ctx context.Context, sc Scope, vec []float32, topK int, threshold float64) ([]Candidate, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if len(vec) == 0 || topK <= 0 {
		return nil, nil
	}

	pred, scopeArgs := sc.predicate(4)
	args := append([]any{pgvector.NewVector(vec), threshold, topK}, scopeArgs...)

	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateCols+`, 1 - (c.embedding <=> $1) AS similarity
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE `+pred+`
		   AND d.status = '`+StatusReady+`'
		   AND 1 - (c.embedding <=> $1) >= $2::float8
		 ORDER BY c.embedding <=> $1
		 LIMIT $3`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return scanCandidates(rows)
}

// LexicalSearch returns up to topK ready chunks in scope matching the query
// text, ranked by ts_rank_cd descending. The 'simple' text search
// configuration keeps matching language-neutral across English and German
// content.
func (s *Store) LexicalSearch(ctx context.Context, sc Scope, query string, topK int) ([]Candidate, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return nil, nil
	}
	if len(query) > MaxSearchQueryLen {
		query = query[:MaxSearchQueryLen]
	}
	if strings.ContainsRune(query, 0) {
		return nil, nil
	}

	pred, scopeArgs := sc.predicate(3)
	args := append([]any{query, topK}, scopeArgs...)

	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateCols+`,
		        ts_rank_cd(c.search_text, websearch_to_tsquery('simple', $1)) AS rank
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE `+pred+`
		   AND d.status = '`+StatusReady+`'
		   AND c.search_text @@ websearch_to_tsquery('simple', $1)
		 ORDER BY rank DESC, c.document_id ASC, c.chunk_index ASC
		 LIMIT $2`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	return scanCandidates(rows)
}

// ImageSearch returns up to topK page images in scope by embedding
// similarity. Deployments without the asset table get an empty result, not
// an error; image retrieval is an optional capability.
func (s *Store) ImageSearch(ctx context.Context, sc Scope, vec []float32, topK int) ([]ImageAsset, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if len(vec) == 0 || topK <= 0 {
		return nil, nil
	}

	pred, scopeArgs := sc.predicate(3)
	args := append([]any{pgvector.NewVector(vec), topK}, scopeArgs...)

	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.document_id, d.filename, a.page, COALESCE(a.caption, ''), a.path,
		        1 - (a.embedding <=> $1) AS similarity
		 FROM document_assets a
		 JOIN documents d ON d.id = a.document_id
		 WHERE `+pred+`
		   AND d.status = '`+StatusReady+`'
		 ORDER BY a.embedding <=> $1
		 LIMIT $2`,
		args...,
	)
	if err != nil {
		if isUndefinedTable(err) {
			s.logger.Info("asset table absent, skipping image search")
			return nil, nil
		}
		return nil, fmt.Errorf("image search: %w", err)
	}
	defer rows.Close()

	var assets []ImageAsset
	for rows.Next() {
		var a ImageAsset
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Filename, &a.Page, &a.Caption, &a.Path, &a.Score); err != nil {
			return nil, fmt.Errorf("scanning asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		// pgx reports server errors during iteration, not at Query time.
		if isUndefinedTable(err) {
			s.logger.Info("asset table absent, skipping image search")
			return nil, nil
		}
		return nil, fmt.Errorf("iterating assets: %w", err)
	}
	return assets, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

// scanCandidates reads Candidate rows (candidateCols plus a score column).
func scanCandidates(rows pgx.Rows) ([]Candidate, error) {
	defer rows.Close()

	var hits []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ChunkID, &c.DocumentID, &c.ChunkIndex, &c.Filename, &c.Content, &c.Page, &c.Score,
		); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		hits = append(hits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return hits, nil
}
