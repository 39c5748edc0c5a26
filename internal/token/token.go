// Package token provides model-compatible token counting and splitting for
// chunk sizing decisions.
//
// The tiktoken-backed Encoder is the production implementation; Estimator is
// the fallback when the BPE ranks cannot be loaded (offline environments).
// Both satisfy Tokenizer, which is what the chunker consumes.
package token

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding matches the OpenAI text-embedding-3 family.
const DefaultEncoding = "cl100k_base"

// estimatorCharsPerToken is the rough chars-per-token ratio used by
// Estimator. Matches the sizing heuristic the ingestion pipeline used
// before exact counting was available.
const estimatorCharsPerToken = 4

// Tokenizer counts text in model tokens and splits oversized text into
// token-bounded windows. Implementations must be safe for concurrent use.
type Tokenizer interface {
	// Count returns the number of tokens in text. Never negative.
	Count(text string) int

	// Split cuts text into pieces of at most maxTokens tokens each, with
	// consecutive pieces sharing up to overlapTokens trailing tokens.
	Split(text string, maxTokens, overlapTokens int) []string
}

// Encoder is a Tokenizer backed by a tiktoken BPE encoding.
type Encoder struct {
	tke *tiktoken.Tiktoken
}

// NewEncoder creates an Encoder for the given encoding name
// (e.g. "cl100k_base"). Loading the BPE ranks may require network access on
// first use; callers should fall back to Estimator on error.
func NewEncoder(encoding string) (*Encoder, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading encoding %q: %w", encoding, err)
	}
	return &Encoder{tke: tke}, nil
}

// Count implements Tokenizer.
func (e *Encoder) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.tke.Encode(text, nil, nil))
}

// Split implements Tokenizer using exact token windows.
func (e *Encoder) Split(text string, maxTokens, overlapTokens int) []string {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []string{text}
	}
	overlapTokens = clampOverlap(overlapTokens, maxTokens)

	ids := e.tke.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return []string{text}
	}

	step := maxTokens - overlapTokens
	var pieces []string
	for start := 0; start < len(ids); start += step {
		end := start + maxTokens
		if end > len(ids) {
			end = len(ids)
		}
		pieces = append(pieces, e.tke.Decode(ids[start:end]))
		if end == len(ids) {
			break
		}
	}
	return pieces
}

// Estimator is a Tokenizer that approximates token counts at roughly four
// characters per token. Used when the exact encoder is unavailable.
type Estimator struct{}

// Count implements Tokenizer. Non-empty text counts as at least one token.
func (Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / estimatorCharsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// Split implements Tokenizer using rune windows so multi-byte characters are
// never cut mid-sequence.
func (Estimator) Split(text string, maxTokens, overlapTokens int) []string {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []string{text}
	}
	overlapTokens = clampOverlap(overlapTokens, maxTokens)

	runes := []rune(text)
	maxChars := maxTokens * estimatorCharsPerToken
	if len(runes) <= maxChars {
		return []string{text}
	}

	step := maxChars - overlapTokens*estimatorCharsPerToken
	var pieces []string
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// clampOverlap keeps overlap strictly below maxTokens so split loops always
// make forward progress.
func clampOverlap(overlap, maxTokens int) int {
	if overlap < 0 {
		return 0
	}
	if overlap >= maxTokens {
		return maxTokens / 2
	}
	return overlap
}

var (
	defaultOnce sync.Once
	defaultTok  Tokenizer
)

// Default returns the process-wide shared Tokenizer. The encoder is
// initialized once; if BPE loading fails the Estimator is used for the
// lifetime of the process.
func Default() Tokenizer {
	defaultOnce.Do(func() {
		if enc, err := NewEncoder(DefaultEncoding); err == nil {
			defaultTok = enc
		} else {
			defaultTok = Estimator{}
		}
	})
	return defaultTok
}
