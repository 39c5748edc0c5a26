// Package extract turns uploaded files into markdown for the chunking
// pipeline. Plain text formats pass through; PDFs go to an external OCR
// collaborator that returns per-page markdown.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat indicates the file type cannot be extracted.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrNoOCR indicates a PDF arrived but no OCR client is configured.
var ErrNoOCR = errors.New("no OCR client configured")

// OCR extracts markdown from a PDF. Implementations return the full
// document with `<!-- page:N -->` markers ahead of each page so chunking
// records provenance.
type OCR interface {
	ExtractPDF(ctx context.Context, pdf []byte) (string, error)
}

// Service routes files to the right extraction path by extension.
type Service struct {
	ocr    OCR // nil disables PDF support
	logger *slog.Logger
}

// New creates an extraction Service. ocr may be nil when PDF support is not
// configured.
func New(ocr OCR, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ocr: ocr, logger: logger}
}

// Extract returns the file's content as markdown.
func (s *Service) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8 text", ErrUnsupportedFormat, filename)
		}
		return string(data), nil

	case ".pdf":
		if s.ocr == nil {
			return "", fmt.Errorf("cannot extract %s: %w", filename, ErrNoOCR)
		}
		text, err := s.ocr.ExtractPDF(ctx, data)
		if err != nil {
			return "", fmt.Errorf("OCR extraction of %s: %w", filename, err)
		}
		s.logger.Debug("extracted PDF", "filename", filename, "bytes", len(text))
		return text, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}
