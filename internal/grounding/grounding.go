// Package grounding formats ranked retrieval results into prompt-ready
// context blocks. All functions are pure; the caller decides what reaches
// the LLM.
package grounding

import (
	"fmt"
	"strings"

	"github.com/korpusai/korpus/internal/store"
)

// textHeader opens the document context section of the prompt.
const textHeader = "[Relevant documents for context:]"

// imageHeader opens the image context section of the prompt.
const imageHeader = "[Relevant images for context:]"

// BuildTextContext renders ranked chunks as a header followed by one source
// block per chunk, in the order given. Returns "" for no chunks so the
// caller can skip prompt injection entirely.
func BuildTextContext(chunks []store.Candidate) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(textHeader)
	b.WriteString("\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "--- Source %d: %s (relevance: %.0f%%) ---\n", i+1, c.Filename, relevancePercent(c.Score))
		b.WriteString(c.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildImageContext renders ranked image assets in the same block shape,
// annotated with the page number and the asset's caption. Assets without a
// caption get a placeholder rather than an empty block.
func BuildImageContext(assets []store.ImageAsset) string {
	if len(assets) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(imageHeader)
	b.WriteString("\n\n")
	for i, a := range assets {
		fmt.Fprintf(&b, "--- Source %d: %s (page %d, relevance: %.0f%%) ---\n", i+1, a.Filename, a.Page, relevancePercent(a.Score))
		caption := a.Caption
		if caption == "" {
			caption = "(image without caption)"
		}
		b.WriteString(caption)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// relevancePercent maps a score to a displayable 0-100 range. Lexical and
// rerank scores can stray outside [0,1]; clamp rather than print nonsense.
func relevancePercent(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score * 100
}
